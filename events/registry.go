package events

import (
	"fmt"
	"sync"
)

// Event is a parsed daemon event. Implementations are immutable values
// handed read-only to every registered callback.
type Event interface {
	// Kind names the registry entry that produced the event.
	Kind() string
}

// Kind describes one family of unsolicited event blocks. The receiver
// uses it to recognise the first line, detect the last line, and turn the
// buffered lines into an Event.
type Kind interface {
	// Name identifies the kind inside a Registry.
	Name() string
	// HasBegun reports whether line matches the kind's first-line grammar.
	HasBegun(line string) bool
	// HasEnded reports whether line terminates the block. For single-line
	// events this is true on the begin line itself.
	HasEnded(line string) bool
	// ParseRaw validates the complete block. It must not retain or modify
	// lines.
	ParseRaw(lines []string) (Event, error)
}

// Registry is an ordered set of event kinds. Classification is first
// match wins in registration order.
type Registry struct {
	mu    sync.RWMutex
	kinds []Kind
}

// NewRegistry builds a registry from kinds in the given order.
func NewRegistry(kinds ...Kind) (*Registry, error) {
	r := &Registry{}
	for _, k := range kinds {
		if err := r.Register(k); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry holds the built-in client lifecycle kind only, so any
// other notification falls through to the command response path.
func DefaultRegistry() *Registry {
	return &Registry{kinds: []Kind{ClientKind{}}}
}

// NotificationRegistry additionally turns every other >PREFIX:message
// line into a Notification event.
func NotificationRegistry() *Registry {
	return &Registry{kinds: []Kind{ClientKind{}, NotificationKind{}}}
}

// Register appends k. Names must be unique.
func (r *Registry) Register(k Kind) error {
	if k == nil {
		return fmt.Errorf("cannot register nil event kind")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.kinds {
		if existing.Name() == k.Name() {
			return fmt.Errorf("event kind %q already registered", k.Name())
		}
	}
	r.kinds = append(r.kinds, k)
	return nil
}

// Kinds returns a snapshot of the registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// Match returns the first kind whose HasBegun accepts line.
func (r *Registry) Match(line string) (Kind, bool) {
	return MatchKind(r.Kinds(), line)
}

// MatchKind is Match over an explicit snapshot.
func MatchKind(kinds []Kind, line string) (Kind, bool) {
	for _, k := range kinds {
		if k.HasBegun(line) {
			return k, true
		}
	}
	return nil, false
}
