// Package console is an interactive shell for raw management commands.
// Responses are printed as the daemon sent them and client events are
// printed as they arrive.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/events"
)

const helpText = `Type a management command (help, status 1, state, load-stats, version,
kill <cn>, client-kill <cid>, signal SIGUSR1, ...) and press Enter.

Console commands:
  .help   Show this help
  .events Toggle printing of client events
  .quit   Leave the console (Ctrl-D also works)`

// LineReader supplies console input.
type LineReader interface {
	GetLine(prompt string) (string, error)
	Writer() io.Writer
	Close()
}

// Console runs a read-send-print loop against a management session.
type Console struct {
	sender  common.CommandSender
	in      LineReader
	errOut  io.Writer
	prompt  string
	timeout time.Duration

	mu         sync.Mutex
	showEvents bool
}

// New builds a console reading from in. Errors go to errOut.
func New(sender common.CommandSender, in LineReader, errOut io.Writer, server string) *Console {
	return &Console{
		sender:     sender,
		in:         in,
		errOut:     errOut,
		prompt:     server + "> ",
		timeout:    common.CommandTimeout,
		showEvents: true,
	}
}

// HandleEvent prints client events while the console is running.
func (c *Console) HandleEvent(ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.showEvents {
		return nil
	}
	switch e := ev.(type) {
	case *events.ClientEvent:
		fmt.Fprintf(c.in.Writer(), ">CLIENT:%s cid=%d %s\n", e.Type, e.ClientID, e.CommonName())
	case *events.Notification:
		fmt.Fprintf(c.in.Writer(), ">%s:%s\n", e.Prefix, e.Message)
	}
	return nil
}

// Run loops until EOF, .quit or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	out := c.in.Writer()
	fmt.Fprintln(out, "Connected. Type .help for help, .quit to leave.")

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line, err := c.in.GetLine(c.prompt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case ".quit", ".exit":
			return nil
		case ".help":
			fmt.Fprintln(out, helpText)
			continue
		case ".events":
			c.mu.Lock()
			c.showEvents = !c.showEvents
			on := c.showEvents
			c.mu.Unlock()
			fmt.Fprintf(out, "client events %s\n", onOff(on))
			continue
		case "quit", "exit":
			// Disconnect sends quit itself.
			return nil
		}

		if err := c.execute(ctx, out, line); err != nil {
			if errors.Is(err, common.ErrNotConnected) || errors.Is(err, common.ErrConnectionFailed) {
				return err
			}
		}
	}
}

func (c *Console) execute(ctx context.Context, out io.Writer, line string) error {
	cmdCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.sender.SendCommand(cmdCtx, line)
	var cmdErr *common.CommandError
	if errors.As(err, &cmdErr) {
		fmt.Fprintln(c.errOut, cmdErr.Reply)
		return err
	}
	if err != nil {
		fmt.Fprintf(c.errOut, "Error: %v\n", err)
		return err
	}
	if resp = strings.TrimRight(resp, "\n"); resp != "" {
		fmt.Fprintln(out, resp)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
