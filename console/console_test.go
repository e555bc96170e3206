package console

import (
	"bytes"
	"context"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/events"
)

type scriptedSender struct {
	replies map[string]string
	errs    map[string]error
	sent    []string
}

func (s *scriptedSender) SendCommand(_ context.Context, cmd string) (string, error) {
	s.sent = append(s.sent, cmd)
	if err, ok := s.errs[cmd]; ok {
		return s.replies[cmd], err
	}
	return s.replies[cmd], nil
}

func newTestConsole(input string, sender *scriptedSender) (*Console, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	le := newScannerEditor(strings.NewReader(input), &out)
	return New(sender, le, &errOut, "vpn1"), &out, &errOut
}

func TestConsole_Run(t *testing.T) {
	sender := &scriptedSender{
		replies: map[string]string{
			"load-stats":  "SUCCESS: nclients=1,bytesin=2,bytesout=3\n",
			"status 1":    "OpenVPN CLIENT LIST\nEND\n",
			"kill nobody": "ERROR: common name 'nobody' not found\n",
		},
		errs: map[string]error{
			"kill nobody": &common.CommandError{Command: "kill nobody", Reply: "ERROR: common name 'nobody' not found"},
		},
	}
	c, out, errOut := newTestConsole("load-stats\n\n  status 1  \nkill nobody\n.help\n.quit\nstate\n", sender)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"load-stats", "status 1", "kill nobody"}
	if !reflect.DeepEqual(sender.sent, want) {
		t.Errorf("sent = %q, want %q", sender.sent, want)
	}
	for _, s := range []string{"vpn1> ", "SUCCESS: nclients=1", "OpenVPN CLIENT LIST\nEND\n", "Console commands:"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("output missing %q:\n%s", s, out.String())
		}
	}
	if got := errOut.String(); got != "ERROR: common name 'nobody' not found\n" {
		t.Errorf("errOut = %q", got)
	}
}

func TestConsole_EOF(t *testing.T) {
	sender := &scriptedSender{}
	c, _, _ := newTestConsole("version", sender)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d commands, want 1", len(sender.sent))
	}
}

func TestConsole_QuitIsLocal(t *testing.T) {
	sender := &scriptedSender{}
	c, _, _ := newTestConsole("quit\nstate\n", sender)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("quit was sent to the daemon: %q", sender.sent)
	}
}

func TestConsole_ConnectionLost(t *testing.T) {
	sender := &scriptedSender{errs: map[string]error{"state": common.ErrNotConnected}}
	c, _, errOut := newTestConsole("state\nversion\n", sender)

	err := c.Run(context.Background())
	if err != common.ErrNotConnected {
		t.Errorf("Run() error = %v, want ErrNotConnected", err)
	}
	if !strings.Contains(errOut.String(), "Error: not connected") {
		t.Errorf("errOut = %q", errOut.String())
	}
	if len(sender.sent) != 1 {
		t.Errorf("console kept sending after the connection dropped: %q", sender.sent)
	}
}

func TestConsole_Events(t *testing.T) {
	c, out, _ := newTestConsole(".events\n", &scriptedSender{})

	c.HandleEvent(&events.ClientEvent{Type: events.ClientEstablished, ClientID: 4,
		Environment: map[string]string{"common_name": "alice"}})
	c.HandleEvent(&events.Notification{Prefix: "LOG", Message: "1,I,hello"})
	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.HandleEvent(&events.ClientEvent{Type: events.ClientDisconnect, ClientID: 4})

	got := out.String()
	if !strings.Contains(got, ">CLIENT:ESTABLISHED cid=4 alice\n") || !strings.Contains(got, ">LOG:1,I,hello\n") {
		t.Errorf("events not printed:\n%s", got)
	}
	if strings.Contains(got, "DISCONNECT") {
		t.Error("event printed after .events turned them off")
	}
	if !strings.Contains(got, "client events off") {
		t.Errorf("toggle not acknowledged:\n%s", got)
	}
}

func TestLineEditor_NonInteractive(t *testing.T) {
	var out bytes.Buffer
	le := newScannerEditor(strings.NewReader("one\n"), &out)
	defer le.Close()

	if le.IsInteractive() {
		t.Error("scanner editor reports interactive")
	}
	if line, err := le.GetLine("> "); err != nil || line != "one" {
		t.Errorf("GetLine() = %q, %v, want one", line, err)
	}
	if _, err := le.GetLine("> "); err != io.EOF {
		t.Errorf("GetLine() at end error = %v, want io.EOF", err)
	}
	if out.String() != "> > " {
		t.Errorf("prompts = %q", out.String())
	}
	if le.Writer() != &out {
		t.Error("Writer() is not the output")
	}
}
