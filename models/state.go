package models

import (
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/yllada/ovpn-mgmt/common"
)

// Daemon state names reported by the state command.
const (
	StateConnecting   = "CONNECTING"
	StateWait         = "WAIT"
	StateAuth         = "AUTH"
	StateGetConfig    = "GET_CONFIG"
	StateAssignIP     = "ASSIGN_IP"
	StateAddRoutes    = "ADD_ROUTES"
	StateConnected    = "CONNECTED"
	StateReconnecting = "RECONNECTING"
	StateExiting      = "EXITING"
	StateResolve      = "RESOLVE"
	StateTCPConnect   = "TCP_CONNECT"
)

// Mode is what the daemon's state line says about its role.
type Mode string

const (
	ModeUnknown Mode = "unknown"
	ModeServer  Mode = "server"
	ModeClient  Mode = "client"
)

// stateFields is the maximum number of comma-separated state parameters.
const stateFields = 9

// State is one line of state command output:
//
//	time,name,description,tun_v4,remote_addr,remote_port,local_addr,local_port,tun_v6
//
// Only the time and name are mandatory.
type State struct {
	UpSince     time.Time `json:"up_since"`
	Name        string    `json:"name"`
	Description string    `json:"description"`

	LocalVirtualV4 netip.Addr `json:"local_virtual_v4"`
	RemoteAddr     netip.Addr `json:"remote_addr"`
	RemotePort     *int       `json:"remote_port,omitempty"`
	LocalAddr      netip.Addr `json:"local_addr"`
	LocalPort      *int       `json:"local_port,omitempty"`
	LocalVirtualV6 netip.Addr `json:"local_virtual_v6"`
}

// Mode infers server or client from which endpoints are present.
func (s *State) Mode() Mode {
	if !s.RemoteAddr.IsValid() && !s.LocalAddr.IsValid() {
		return ModeUnknown
	}
	if !s.RemoteAddr.IsValid() {
		return ModeServer
	}
	return ModeClient
}

// IsConnected reports whether the daemon finished initialisation.
func (s *State) IsConnected() bool {
	return s.Name == StateConnected
}

// String renders the state back into its wire form.
func (s *State) String() string {
	fields := []string{
		strconv.FormatInt(s.UpSince.Unix(), 10),
		s.Name,
		s.Description,
		addrString(s.LocalVirtualV4),
		addrString(s.RemoteAddr),
		portString(s.RemotePort),
		addrString(s.LocalAddr),
		portString(s.LocalPort),
		addrString(s.LocalVirtualV6),
	}
	return strings.Join(fields, ",")
}

// ParseState parses a state response. The daemon may print a history of
// state lines; the last one wins. Notification lines and the END
// terminator are skipped.
func ParseState(raw string) (*State, error) {
	var last string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == common.EndTerminator || strings.HasPrefix(line, ">") {
			continue
		}
		last = line
	}
	if last == "" {
		return nil, common.NewParseError("did not get expected data from state")
	}
	return ParseStateLine(last)
}

// ParseStateLine parses a single state line.
func ParseStateLine(line string) (*State, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 2 || len(parts) > stateFields {
		return nil, &common.ParseError{Message: "unexpected number of state fields", Line: line}
	}
	for len(parts) < stateFields {
		parts = append(parts, "")
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return nil, &common.ParseError{Message: "invalid state timestamp", Line: line}
	}

	s := &State{
		UpSince:     time.Unix(ts, 0).UTC(),
		Name:        strings.TrimSpace(parts[1]),
		Description: strings.TrimSpace(parts[2]),
	}

	addrs := []struct {
		raw string
		dst *netip.Addr
	}{
		{parts[3], &s.LocalVirtualV4},
		{parts[4], &s.RemoteAddr},
		{parts[6], &s.LocalAddr},
		{parts[8], &s.LocalVirtualV6},
	}
	for _, a := range addrs {
		if *a.dst, err = parseOptionalAddr(a.raw); err != nil {
			return nil, &common.ParseError{Message: err.Error(), Line: line}
		}
	}

	if s.RemotePort, err = common.ParseOptionalInt(parts[5]); err != nil {
		return nil, &common.ParseError{Message: "invalid remote port", Line: line}
	}
	if s.LocalPort, err = common.ParseOptionalInt(parts[7]); err != nil {
		return nil, &common.ParseError{Message: "invalid local port", Line: line}
	}
	return s, nil
}

func parseOptionalAddr(raw string) (netip.Addr, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, nil
	}
	return netip.ParseAddr(raw)
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

func portString(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
