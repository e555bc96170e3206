package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/yllada/ovpn-mgmt/events"
)

// Watcher prints daemon events as they arrive, one line each.
type Watcher struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewWatcher returns a Watcher writing to out.
func NewWatcher(out io.Writer) *Watcher {
	return &Watcher{out: out, now: time.Now}
}

// HandleEvent implements mgmt.Handler.
func (w *Watcher) HandleEvent(ev events.Event) error {
	line := formatEventLine(ev)
	if line == "" {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.out, "%s %s\n", w.now().Format(time.TimeOnly), line)
	return err
}

func formatEventLine(ev events.Event) string {
	switch e := ev.(type) {
	case *events.ClientEvent:
		parts := []string{fmt.Sprintf("%-11s cid=%d", e.Type, e.ClientID)}
		if e.KeyID != nil {
			parts = append(parts, fmt.Sprintf("kid=%d", *e.KeyID))
		}
		if cn := e.CommonName(); cn != "" {
			parts = append(parts, cn)
		}
		if e.Address != "" {
			parts = append(parts, e.Address)
		} else if ip, ok := e.Env("untrusted_ip"); ok && ip != "" {
			parts = append(parts, ip)
		}
		return strings.Join(parts, " ")
	case *events.Notification:
		return ">" + e.Prefix + ":" + e.Message
	}
	return ""
}
