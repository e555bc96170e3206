package mgmt

import (
	"reflect"
	"sync"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/events"
)

// Handler receives completed events. A returned error or a panic is
// logged and does not stop delivery to other handlers.
type Handler interface {
	HandleEvent(ev events.Event) error
}

// HandlerFunc adapts a function to Handler. Function values have no
// identity, so registering the same HandlerFunc twice adds it twice.
// Register &f instead to have a function handler deduplicated.
type HandlerFunc func(ev events.Event) error

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ev events.Event) error { return f(ev) }

// Dispatcher fans events out to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
	log      common.Logger
}

// NewDispatcher creates an empty dispatcher logging handler failures to log.
func NewDispatcher(log common.Logger) *Dispatcher {
	if log == nil {
		log = common.NopLogger()
	}
	return &Dispatcher{log: log}
}

// Register adds h and reports whether it was added. Handlers of a
// comparable dynamic type, pointers included, are deduplicated by ==.
// Bare HandlerFunc values are never deduplicated.
func (d *Dispatcher) Register(h Handler) bool {
	if h == nil {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if reflect.TypeOf(h).Comparable() {
		for _, existing := range d.handlers {
			if reflect.TypeOf(existing).Comparable() && existing == h {
				return false
			}
		}
	}
	d.handlers = append(d.handlers, h)
	return true
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Dispatch delivers ev to every handler and returns the number of
// handlers that failed.
func (d *Dispatcher) Dispatch(ev events.Event) int {
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	failed := 0
	for _, h := range handlers {
		if err := d.invoke(h, ev); err != nil {
			failed++
			d.log.Warn("event handler %T failed on %s event: %v", h, ev.Kind(), err)
		}
	}
	return failed
}

func (d *Dispatcher) invoke(h Handler, ev events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.Recover(r)
		}
	}()
	return h.HandleEvent(ev)
}
