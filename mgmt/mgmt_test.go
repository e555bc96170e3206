package mgmt

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/events"
)

func TestAddress_Validate(t *testing.T) {
	tests := []struct {
		name    string
		addr    Address
		wantErr bool
	}{
		{"ip", IPAddress("127.0.0.1", 7505), false},
		{"socket", SocketAddress("/run/openvpn/mgmt.sock"), false},
		{"neither", Address{}, true},
		{"both", Address{Host: "localhost", Port: 1, Socket: "/tmp/s"}, true},
		{"missing port", Address{Host: "localhost"}, true},
		{"missing host", Address{Port: 7505}, true},
		{"port too large", IPAddress("localhost", 70000), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.addr.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, common.ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestAddress_TypeAndNetwork(t *testing.T) {
	ip := IPAddress("::1", 7505)
	if ip.Type() != AddressIP || ip.Network() != "tcp" {
		t.Errorf("IP address Type/Network = %s/%s, want ip/tcp", ip.Type(), ip.Network())
	}
	if got := ip.String(); got != "[::1]:7505" {
		t.Errorf("String() = %q, want [::1]:7505", got)
	}

	sock := SocketAddress("/tmp/mgmt.sock")
	if sock.Type() != AddressUnixSocket || sock.Network() != "unix" {
		t.Errorf("socket address Type/Network = %s/%s, want socket/unix", sock.Type(), sock.Network())
	}
	if got := sock.String(); got != "/tmp/mgmt.sock" {
		t.Errorf("String() = %q, want /tmp/mgmt.sock", got)
	}
}

func TestCompletionRules(t *testing.T) {
	rules := DefaultCompletionRules()

	tests := []struct {
		cmd          string
		want         Completion
		wantExplicit bool
	}{
		{"load-stats", FirstLine, true},
		{"signal SIGTERM", FirstLine, true},
		{"signal SIGUSR1", FirstLine, true},
		{"quit", NoResponse, true},
		{"exit", NoResponse, true},
		{"kill 12", UntilEnd, true},
		{"status 1", UntilEnd, false},
		{"version", UntilEnd, false},
		{"  load-stats  ", FirstLine, true},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			got, explicit := rules.Lookup(tt.cmd)
			if got != tt.want || explicit != tt.wantExplicit {
				t.Errorf("Lookup(%q) = %v, %v, want %v, %v", tt.cmd, got, explicit, tt.want, tt.wantExplicit)
			}
			if c := rules.CompletionFor(tt.cmd); c != tt.want {
				t.Errorf("CompletionFor(%q) = %v, want %v", tt.cmd, c, tt.want)
			}
		})
	}
}

func TestCompletion_String(t *testing.T) {
	tests := []struct {
		c    Completion
		want string
	}{
		{UntilEnd, "until-end"},
		{FirstLine, "first-line"},
		{NoResponse, "no-response"},
		{Completion(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("Completion.String() = %v, want %v", got, tt.want)
		}
	}
}

func TestResponseDone(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  bool
	}{
		{"empty", nil, false},
		{"success", []string{"SUCCESS: done"}, true},
		{"error", []string{"ERROR: bad"}, true},
		{"end only", []string{"END"}, true},
		{"block open", []string{"OpenVPN CLIENT LIST", "Updated,x"}, false},
		{"block closed", []string{"OpenVPN CLIENT LIST", "END"}, true},
		{"end inside word", []string{"TITLE,LEGEND"}, false},
		{"success later in block", []string{"header", "SUCCESS: x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := responseDone(tt.lines); got != tt.want {
				t.Errorf("responseDone(%q) = %v, want %v", tt.lines, got, tt.want)
			}
		})
	}
}

func TestJoinResponse(t *testing.T) {
	if got := joinResponse(nil); got != "" {
		t.Errorf("joinResponse(nil) = %q, want empty", got)
	}
	if got := joinResponse([]string{"a", "END"}); got != "a\nEND\n" {
		t.Errorf("joinResponse() = %q, want %q", got, "a\nEND\n")
	}
}

func TestLineQueue(t *testing.T) {
	q := newLineQueue()
	q.push("one")
	q.push("two")

	ctx := context.Background()
	for _, want := range []string{"one", "two"} {
		got, err := q.pop(ctx)
		if err != nil || got != want {
			t.Fatalf("pop() = %q, %v, want %q", got, err, want)
		}
	}

	done := make(chan string, 1)
	go func() {
		line, _ := q.pop(ctx)
		done <- line
	}()
	time.Sleep(20 * time.Millisecond)
	q.push("three")
	select {
	case got := <-done:
		if got != "three" {
			t.Errorf("pop() = %q, want three", got)
		}
	case <-time.After(time.Second):
		t.Fatal("pop() did not wake on push")
	}
}

func TestLineQueue_CloseAndDrain(t *testing.T) {
	q := newLineQueue()
	q.push("stale")
	if got := q.drain(); !reflect.DeepEqual(got, []string{"stale"}) {
		t.Errorf("drain() = %q, want [stale]", got)
	}

	q.push("backlog")
	first := errors.New("first")
	q.close(first)
	q.close(errors.New("second"))
	q.push("ignored")

	if got, err := q.pop(context.Background()); err != nil || got != "backlog" {
		t.Errorf("pop() = %q, %v, want backlog", got, err)
	}
	if _, err := q.pop(context.Background()); err != first {
		t.Errorf("pop() error = %v, want %v", err, first)
	}
}

func TestLineQueue_ContextCancel(t *testing.T) {
	q := newLineQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("pop() error = %v, want DeadlineExceeded", err)
	}
}

func feedAll(d *demux, lines ...string) []demuxResult {
	out := make([]demuxResult, 0, len(lines))
	for _, l := range lines {
		out = append(out, d.feed(l))
	}
	return out
}

func TestDemux_ResponsesPassThrough(t *testing.T) {
	d := newDemux(events.DefaultRegistry().Kinds())
	for _, res := range feedAll(d, "OpenVPN CLIENT LIST", "SUCCESS: x", ">INFO:whatever", "END") {
		if res.class != classResponse {
			t.Errorf("class = %v, want classResponse", res.class)
		}
	}
	if !d.idle() {
		t.Error("demux left Idle on response lines")
	}
}

func TestDemux_MultiLineEvent(t *testing.T) {
	d := newDemux(events.DefaultRegistry().Kinds())

	// Two blocks back to back produce two independent events.
	for i := 0; i < 2; i++ {
		res := feedAll(d,
			">CLIENT:CONNECT,1,2",
			">CLIENT:ENV,common_name=bob",
			">CLIENT:ENV,END",
		)
		if res[0].class != classEventPending || res[1].class != classEventPending {
			t.Fatalf("round %d: leading lines not pending: %v, %v", i, res[0].class, res[1].class)
		}
		last := res[2]
		if last.class != classEventDone || last.err != nil {
			t.Fatalf("round %d: last = %v, err %v", i, last.class, last.err)
		}
		ev := last.event.(*events.ClientEvent)
		if ev.ClientID != 1 || ev.CommonName() != "bob" {
			t.Errorf("round %d: event = %+v", i, ev)
		}
		if len(last.lines) != 3 {
			t.Errorf("round %d: lines = %d, want 3", i, len(last.lines))
		}
		if !d.idle() {
			t.Errorf("round %d: demux not Idle after END", i)
		}
	}
}

func TestDemux_SingleLineEvent(t *testing.T) {
	d := newDemux(events.DefaultRegistry().Kinds())
	res := d.feed(">CLIENT:ADDRESS,14,10.8.0.6,1")
	if res.class != classEventDone || res.err != nil {
		t.Fatalf("feed(ADDRESS) = %v, err %v", res.class, res.err)
	}
	if !d.idle() {
		t.Error("demux not Idle after single-line event")
	}
}

func TestDemux_AddressWithNonNumericPrimary(t *testing.T) {
	d := newDemux(events.DefaultRegistry().Kinds())
	res := d.feed(">CLIENT:ADDRESS,14,3,1.1.1.1")
	if res.class != classEventDone || res.err != nil {
		t.Fatalf("feed(ADDRESS) = %v, err %v, want done without error", res.class, res.err)
	}
	ev, ok := res.event.(*events.ClientEvent)
	if !ok {
		t.Fatalf("event = %T, want *events.ClientEvent", res.event)
	}
	if ev.ClientID != 14 || ev.Address != "3" || ev.Primary != nil {
		t.Errorf("event = %+v, want cid 14, addr 3, no primary", ev)
	}
}

func TestDemux_ParseErrorReturnsToIdle(t *testing.T) {
	d := newDemux(events.DefaultRegistry().Kinds())
	res := feedAll(d, ">CLIENT:CONNECT,x,2", ">CLIENT:ENV,END")
	if res[1].class != classEventDone || !errors.Is(res[1].err, common.ErrParse) {
		t.Fatalf("last = %v, err %v, want done with ErrParse", res[1].class, res[1].err)
	}
	if !d.idle() {
		t.Error("demux not Idle after parse error")
	}
	if got := d.feed("END"); got.class != classResponse {
		t.Errorf("feed(END) after error = %v, want classResponse", got.class)
	}
}

func TestDemux_Reset(t *testing.T) {
	d := newDemux(events.DefaultRegistry().Kinds())
	d.feed(">CLIENT:REAUTH,1,2")
	d.feed(">CLIENT:ENV,a=b")
	if got := d.reset(); len(got) != 2 {
		t.Errorf("reset() = %q, want 2 lines", got)
	}
	if !d.idle() {
		t.Error("demux not Idle after reset")
	}
}

type countingHandler struct {
	calls int
}

func (h *countingHandler) HandleEvent(events.Event) error {
	h.calls++
	return nil
}

func TestDispatcher_IsolatesFailures(t *testing.T) {
	disp := NewDispatcher(nil)
	good := &countingHandler{}

	disp.Register(HandlerFunc(func(events.Event) error { return errors.New("fail") }))
	disp.Register(HandlerFunc(func(events.Event) error { panic("boom") }))
	disp.Register(good)

	ev := &events.ClientEvent{Type: events.ClientConnect}
	if failed := disp.Dispatch(ev); failed != 2 {
		t.Errorf("Dispatch() failed = %d, want 2", failed)
	}
	if good.calls != 1 {
		t.Errorf("good handler calls = %d, want 1", good.calls)
	}
}

func TestDispatcher_Register(t *testing.T) {
	disp := NewDispatcher(common.NopLogger())
	h := &countingHandler{}

	if !disp.Register(h) {
		t.Error("Register() = false for new handler")
	}
	if disp.Register(h) {
		t.Error("Register() = true for duplicate handler")
	}
	if disp.Register(nil) {
		t.Error("Register(nil) = true")
	}

	fcalls := 0
	f := HandlerFunc(func(events.Event) error { fcalls++; return nil })
	if !disp.Register(f) || !disp.Register(f) {
		t.Error("Register(HandlerFunc) = false, want every func value added")
	}
	if !disp.Register(&f) {
		t.Error("Register(&f) = false for new handler")
	}
	if disp.Register(&f) {
		t.Error("Register(&f) = true for duplicate pointer")
	}
	if got := disp.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4", got)
	}

	disp.Dispatch(&events.ClientEvent{})
	if h.calls != 1 {
		t.Errorf("deduplicated handler calls = %d, want 1", h.calls)
	}
	if fcalls != 3 {
		t.Errorf("func handler calls = %d, want 3", fcalls)
	}
}
