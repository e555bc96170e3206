package events

import (
	"strings"

	"github.com/yllada/ovpn-mgmt/common"
)

// NotificationKindName is the registry name of NotificationKind.
const NotificationKindName = "notification"

// NotificationPrefixes are the real-time message sources the daemon may
// emit as >PREFIX:message.
var NotificationPrefixes = []string{
	"BYTECOUNT",
	"BYTECOUNT_CLI",
	"CLIENT",
	"ECHO",
	"FATAL",
	"HOLD",
	"INFO",
	"LOG",
	"NEED-OK",
	"NEED-STR",
	"PASSWORD",
	"STATE",
	"REMOTE",
	"PROXY",
	"RSA_SIGN",
}

// Notification is a single-line real-time message.
type Notification struct {
	Prefix  string
	Message string
}

// Kind implements Event.
func (n *Notification) Kind() string { return NotificationKindName }

// Fields splits the message on commas, the separator used by BYTECOUNT,
// STATE and LOG payloads.
func (n *Notification) Fields() []string {
	return strings.Split(n.Message, ",")
}

// NotificationKind claims every line starting with '>'. It must be
// registered after kinds with more specific grammars.
type NotificationKind struct{}

// Name implements Kind.
func (NotificationKind) Name() string { return NotificationKindName }

// HasBegun implements Kind.
func (NotificationKind) HasBegun(line string) bool {
	return strings.HasPrefix(line, ">")
}

// HasEnded implements Kind. Notifications are always one line.
func (NotificationKind) HasEnded(line string) bool {
	return strings.HasPrefix(line, ">")
}

// ParseRaw implements Kind. A line with no ':' or an unknown prefix is
// a protocol error.
func (NotificationKind) ParseRaw(lines []string) (Event, error) {
	if len(lines) != 1 {
		return nil, common.NewParseError("notification must be exactly one line, got %d", len(lines))
	}

	line := lines[0]
	prefix, message, ok := strings.Cut(strings.TrimPrefix(line, ">"), ":")
	if !ok {
		return nil, &common.ParseError{Message: "malformed notification, missing ':'", Line: line}
	}
	if !common.StringInSlice(prefix, NotificationPrefixes) {
		return nil, &common.ParseError{Message: "unknown notification prefix " + prefix, Line: line}
	}
	return &Notification{Prefix: prefix, Message: message}, nil
}
