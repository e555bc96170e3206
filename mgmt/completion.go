package mgmt

import (
	"strings"

	"github.com/yllada/ovpn-mgmt/common"
)

// Completion is the expected response shape of a command.
type Completion int

const (
	// UntilEnd waits for a line equal to END, unless the first line is a
	// single SUCCESS: or ERROR: acknowledgement.
	UntilEnd Completion = iota
	// FirstLine takes the first received line as the whole response.
	FirstLine
	// NoResponse writes the command and returns without reading.
	NoResponse
)

// String returns the rule name.
func (c Completion) String() string {
	switch c {
	case UntilEnd:
		return "until-end"
	case FirstLine:
		return "first-line"
	case NoResponse:
		return "no-response"
	default:
		return "unknown"
	}
}

// CompletionPolicy decides how a command's response is terminated.
type CompletionPolicy interface {
	CompletionFor(cmd string) Completion
}

// CompletionRules is a table-driven CompletionPolicy. Exact command text
// is consulted first, then the command verb, then Default.
type CompletionRules struct {
	Exact   map[string]Completion
	Verb    map[string]Completion
	Default Completion
}

// DefaultCompletionRules mirrors the daemon's reply formats.
func DefaultCompletionRules() *CompletionRules {
	return &CompletionRules{
		Exact: map[string]Completion{
			"load-stats":     FirstLine,
			"signal SIGTERM": FirstLine,
		},
		Verb: map[string]Completion{
			"signal": FirstLine,
			"quit":   NoResponse,
			"exit":   NoResponse,
			// Single SUCCESS:/ERROR: line; listed so the rule is explicit
			// rather than inherited from Default.
			"kill":        UntilEnd,
			"client-kill": UntilEnd,
		},
		Default: UntilEnd,
	}
}

// Lookup returns the explicit rule for cmd, if any.
func (r *CompletionRules) Lookup(cmd string) (Completion, bool) {
	cmd = strings.TrimSpace(cmd)
	if c, ok := r.Exact[cmd]; ok {
		return c, true
	}
	verb, _, _ := strings.Cut(cmd, " ")
	if c, ok := r.Verb[verb]; ok {
		return c, true
	}
	return r.Default, false
}

// CompletionFor implements CompletionPolicy.
func (r *CompletionRules) CompletionFor(cmd string) Completion {
	c, _ := r.Lookup(cmd)
	return c
}

// responseDone reports whether lines form a complete UntilEnd response.
func responseDone(lines []string) bool {
	if len(lines) == 0 {
		return false
	}
	first := strings.TrimSpace(lines[0])
	if len(lines) == 1 && (strings.HasPrefix(first, common.SuccessPrefix) || strings.HasPrefix(first, common.ErrorPrefix)) {
		return true
	}
	return strings.TrimSpace(lines[len(lines)-1]) == common.EndTerminator
}

// joinResponse rebuilds the response text with one newline per line so
// collaborators can split it without loss.
func joinResponse(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
