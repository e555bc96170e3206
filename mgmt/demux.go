package mgmt

import (
	"github.com/yllada/ovpn-mgmt/events"
)

// lineClass is the demultiplexer's verdict for one line.
type lineClass int

const (
	// classResponse: forward to the command response queue.
	classResponse lineClass = iota
	// classEventPending: consumed into the active event buffer.
	classEventPending
	// classEventDone: an event block closed; see the event or error.
	classEventDone
)

// demuxResult is what the receiver acts on after feeding a line.
type demuxResult struct {
	class lineClass
	kind  events.Kind
	event events.Event
	lines []string
	err   error
}

// demux is the Idle / CollectingEvent state machine. It is owned by the
// receiver goroutine and never touched elsewhere, so it has no lock.
type demux struct {
	kinds []events.Kind

	// active is nil while Idle.
	active events.Kind
	buffer []string
}

func newDemux(kinds []events.Kind) *demux {
	return &demux{kinds: kinds}
}

// idle reports whether no event is being collected.
func (d *demux) idle() bool {
	return d.active == nil
}

// feed classifies line and advances the state machine.
func (d *demux) feed(line string) demuxResult {
	if d.active != nil {
		d.buffer = append(d.buffer, line)
		if !d.active.HasEnded(line) {
			return demuxResult{class: classEventPending, kind: d.active}
		}
		return d.finish()
	}

	kind, ok := events.MatchKind(d.kinds, line)
	if !ok {
		return demuxResult{class: classResponse}
	}

	d.active = kind
	d.buffer = []string{line}
	if kind.HasEnded(line) {
		return d.finish()
	}
	return demuxResult{class: classEventPending, kind: kind}
}

// finish parses the buffered block and returns to Idle whatever the
// outcome.
func (d *demux) finish() demuxResult {
	kind, lines := d.active, d.buffer
	d.active = nil
	d.buffer = nil

	ev, err := kind.ParseRaw(lines)
	return demuxResult{class: classEventDone, kind: kind, event: ev, lines: lines, err: err}
}

// reset abandons any partially collected event, returning the lines that
// were buffered.
func (d *demux) reset() []string {
	lines := d.buffer
	d.active = nil
	d.buffer = nil
	return lines
}
