package events

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yllada/ovpn-mgmt/common"
)

// ClientKindName is the registry name of the client lifecycle kind.
const ClientKindName = "client"

// Client event sub-kinds.
const (
	ClientConnect     = "CONNECT"
	ClientReauth      = "REAUTH"
	ClientEstablished = "ESTABLISHED"
	ClientDisconnect  = "DISCONNECT"
	ClientAddress     = "ADDRESS"
)

const (
	clientPrefix   = ">CLIENT:"
	envTerminator  = ">CLIENT:ENV,END"
	addressPrefix  = ">CLIENT:ADDRESS,"
	fieldClientID  = "cid"
	fieldKeyID     = "kid"
	fieldAddress   = "addr"
	fieldPrimary   = "pri"
	envKeyCommonNm = "common_name"
)

var (
	clientFirstLine = regexp.MustCompile(`^>CLIENT:([^,]+)(.*)$`)
	clientEnvLine   = regexp.MustCompile(`^>CLIENT:ENV,([^=]+)=(.*)$`)

	clientGrammars = map[string]*regexp.Regexp{
		ClientConnect:     regexp.MustCompile(`^>CLIENT:CONNECT,(?P<cid>[^,]+),(?P<kid>[^,]+)$`),
		ClientReauth:      regexp.MustCompile(`^>CLIENT:REAUTH,(?P<cid>[^,]+),(?P<kid>[^,]+)$`),
		ClientEstablished: regexp.MustCompile(`^>CLIENT:ESTABLISHED,(?P<cid>[^,]+)$`),
		ClientDisconnect:  regexp.MustCompile(`^>CLIENT:DISCONNECT,(?P<cid>[^,]+)$`),
		ClientAddress:     regexp.MustCompile(`^>CLIENT:ADDRESS,(?P<cid>[^,]+),(?P<addr>[^,]+),(?P<pri>[^,]+)$`),
	}
)

// ClientEvent is a parsed >CLIENT: lifecycle notification.
type ClientEvent struct {
	// Type is the sub-kind: CONNECT, REAUTH, ESTABLISHED, DISCONNECT or ADDRESS.
	Type     string
	ClientID int
	// KeyID is set for CONNECT and REAUTH.
	KeyID *int
	// Primary is set for ADDRESS.
	Primary *int
	// Address is the IP or MAC address reported by ADDRESS; empty otherwise.
	Address string
	// Environment holds the ENV block. Empty for ADDRESS.
	Environment map[string]string
}

// Kind implements Event.
func (e *ClientEvent) Kind() string { return ClientKindName }

// Env returns an environment value.
func (e *ClientEvent) Env(key string) (string, bool) {
	v, ok := e.Environment[key]
	return v, ok
}

// CommonName returns the certificate common name, if reported.
func (e *ClientEvent) CommonName() string {
	return e.Environment[envKeyCommonNm]
}

// ClientKind recognises the five client lifecycle sub-kinds.
type ClientKind struct{}

// Name implements Kind.
func (ClientKind) Name() string { return ClientKindName }

// HasBegun implements Kind. Unknown sub-kinds are not begun.
func (ClientKind) HasBegun(line string) bool {
	if line == "" {
		return false
	}
	m := clientFirstLine.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	_, ok := clientGrammars[m[1]]
	return ok
}

// HasEnded implements Kind.
func (ClientKind) HasEnded(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	return strings.HasPrefix(line, addressPrefix) || line == envTerminator
}

// ParseRaw implements Kind.
func (ClientKind) ParseRaw(lines []string) (Event, error) {
	if len(lines) == 0 {
		return nil, common.NewParseError("empty input: client event has no lines")
	}

	first := lines[0]
	m := clientFirstLine.FindStringSubmatch(first)
	if m == nil {
		return nil, &common.ParseError{Message: "syntax error in first line of client event", Line: first}
	}

	subKind := m[1]
	grammar, ok := clientGrammars[subKind]
	if !ok {
		return nil, common.NewParseError("this event type (%s) is not supported (supported events: %s)",
			subKind, strings.Join(SupportedClientEvents(), ", "))
	}

	fields := grammar.FindStringSubmatch(first)
	if fields == nil {
		return nil, &common.ParseError{Message: "syntax error in first line of client event", Line: first}
	}

	ev := &ClientEvent{Type: subKind, Environment: map[string]string{}}
	for i, name := range grammar.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		if err := ev.setField(name, fields[i]); err != nil {
			return nil, &common.ParseError{Message: err.Error(), Line: first}
		}
	}

	if subKind == ClientAddress {
		return ev, nil
	}

	terminated := false
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == envTerminator {
			terminated = true
			break
		}
		env := clientEnvLine.FindStringSubmatch(line)
		if env == nil {
			return nil, &common.ParseError{Message: "invalid line in client event", Line: line}
		}
		ev.Environment[env[1]] = env[2]
	}

	if !terminated {
		return nil, common.NewParseError("the raw event doesn't have an %s line", envTerminator)
	}
	if len(ev.Environment) == 0 {
		return nil, common.NewParseError("this event type (%s) doesn't support empty environment", subKind)
	}
	return ev, nil
}

func (e *ClientEvent) setField(name, raw string) error {
	switch name {
	case fieldAddress:
		e.Address = raw
		return nil
	case fieldClientID:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return errInvalidNumber(name, raw)
		}
		e.ClientID = v
		return nil
	case fieldPrimary:
		// The daemon's flag is informational; a non-numeric one stays unset.
		if v, err := common.ParseOptionalInt(raw); err == nil {
			e.Primary = v
		}
		return nil
	}

	v, err := common.ParseOptionalInt(raw)
	if err != nil {
		return errInvalidNumber(name, raw)
	}
	if name == fieldKeyID {
		e.KeyID = v
	}
	return nil
}

func errInvalidNumber(field, raw string) error {
	return common.NewParseError("invalid numeric %s field %q", field, raw)
}

// SupportedClientEvents lists the recognised sub-kinds, sorted.
func SupportedClientEvents() []string {
	out := make([]string, 0, len(clientGrammars))
	for k := range clientGrammars {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
