// Package cli provides the command-line modes of ovpn-mgmt.
// One-shot modes query or control the daemon and print the result; the
// long-running modes live in the sibling files.
package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/journal"
	"github.com/yllada/ovpn-mgmt/models"
)

// Daemon is the part of *vpn.VPN the one-shot modes use.
type Daemon interface {
	GetState(ctx context.Context) (*models.State, error)
	GetStats(ctx context.Context) (*models.ServerStats, error)
	GetStatus(ctx context.Context) (*models.Status, error)
	Release(ctx context.Context) (string, error)
	Version(ctx context.Context) (string, error)
	SendCommand(ctx context.Context, cmd string) (string, error)
	SendSigterm(ctx context.Context) error
	KillClient(ctx context.Context, cid int) error
	Kill(ctx context.Context, target string) error
}

// CLI represents the command-line interface.
type CLI struct {
	vpn Daemon
	out io.Writer
	now func() time.Time
}

// New creates a new CLI instance writing to out.
func New(d Daemon, out io.Writer) *CLI {
	return &CLI{vpn: d, out: out, now: time.Now}
}

// State prints the daemon state.
func (c *CLI) State(ctx context.Context) error {
	state, err := c.vpn.GetState(ctx)
	if err != nil {
		return fmt.Errorf("failed to query state: %w", err)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "State:\t%s\n", state.Name)
	if state.Description != "" {
		fmt.Fprintf(w, "Description:\t%s\n", state.Description)
	}
	fmt.Fprintf(w, "Mode:\t%s\n", state.Mode())
	fmt.Fprintf(w, "Up since:\t%s (%s)\n",
		state.UpSince.Local().Format(time.DateTime), common.FormatDuration(c.now().Sub(state.UpSince)))
	if state.LocalVirtualV4.IsValid() {
		fmt.Fprintf(w, "Tunnel IPv4:\t%s\n", state.LocalVirtualV4)
	}
	if state.LocalVirtualV6.IsValid() {
		fmt.Fprintf(w, "Tunnel IPv6:\t%s\n", state.LocalVirtualV6)
	}
	if state.LocalAddr.IsValid() {
		fmt.Fprintf(w, "Local:\t%s\n", endpoint(state.LocalAddr.String(), state.LocalPort))
	}
	if state.RemoteAddr.IsValid() {
		fmt.Fprintf(w, "Remote:\t%s\n", endpoint(state.RemoteAddr.String(), state.RemotePort))
	}
	return w.Flush()
}

// Stats prints the load-stats counters.
func (c *CLI) Stats(ctx context.Context) error {
	stats, err := c.vpn.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Clients:\t%d\n", stats.ClientCount)
	fmt.Fprintf(w, "Bytes in:\t%s\n", common.FormatBytes(stats.BytesIn))
	fmt.Fprintf(w, "Bytes out:\t%s\n", common.FormatBytes(stats.BytesOut))
	return w.Flush()
}

// Status prints the connected clients and the routing table.
func (c *CLI) Status(ctx context.Context) error {
	status, err := c.vpn.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to query status: %w", err)
	}

	if len(status.Clients) == 0 {
		fmt.Fprintln(c.out, "No connected clients.")
		return nil
	}

	now := c.now()
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMMON NAME\tREAL ADDRESS\tRECEIVED\tSENT\tCONNECTED")
	fmt.Fprintln(w, "-----------\t------------\t--------\t----\t---------")
	for _, cl := range status.Clients {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			cl.CommonName, cl.RealAddress,
			common.FormatBytes(cl.BytesReceived), common.FormatBytes(cl.BytesSent),
			common.FormatDuration(now.Sub(cl.ConnectedSince)))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(status.Routes) == 0 {
		return nil
	}
	fmt.Fprintln(c.out)
	w = tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VIRTUAL ADDRESS\tCOMMON NAME\tREAL ADDRESS\tLAST REF")
	fmt.Fprintln(w, "---------------\t-----------\t------------\t--------")
	for _, r := range status.Routes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.VirtualAddress, r.CommonName, r.RealAddress, r.LastRef.Format(time.DateTime))
	}
	return w.Flush()
}

// VersionInfo prints the daemon release and its short version.
func (c *CLI) VersionInfo(ctx context.Context) error {
	release, err := c.vpn.Release(ctx)
	if err != nil {
		return fmt.Errorf("failed to query version: %w", err)
	}
	version, err := c.vpn.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to parse version: %w", err)
	}
	fmt.Fprintf(c.out, "OpenVPN %s\n  %s\n", version, release)
	return nil
}

// Send sends a raw management command and prints the reply verbatim.
func (c *CLI) Send(ctx context.Context, cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return fmt.Errorf("%w: empty command", common.ErrInvalidConfig)
	}
	reply, err := c.vpn.SendCommand(ctx, cmd)
	if reply != "" {
		io.WriteString(c.out, reply)
		if !strings.HasSuffix(reply, "\n") {
			fmt.Fprintln(c.out)
		}
	}
	return err
}

// Kill disconnects a client. A numeric target is a client ID, anything
// else a common name or ip:port.
func (c *CLI) Kill(ctx context.Context, target string) error {
	target = strings.TrimSpace(target)
	if cid, err := strconv.Atoi(target); err == nil && cid >= 0 {
		if err := c.vpn.KillClient(ctx, cid); err != nil {
			return fmt.Errorf("failed to kill client %d: %w", cid, err)
		}
		fmt.Fprintf(c.out, "✓ Killed client %d\n", cid)
		return nil
	}

	if err := c.vpn.Kill(ctx, target); err != nil {
		return fmt.Errorf("failed to kill %s: %w", target, err)
	}
	fmt.Fprintf(c.out, "✓ Killed %s\n", target)
	return nil
}

// Sigterm asks the daemon to exit.
func (c *CLI) Sigterm(ctx context.Context) error {
	if err := c.vpn.SendSigterm(ctx); err != nil {
		return fmt.Errorf("failed to signal daemon: %w", err)
	}
	fmt.Fprintln(c.out, "✓ SIGTERM sent")
	return nil
}

// EntrySource lists recorded client events. *journal.Journal satisfies it.
type EntrySource interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Events prints the last n journal entries, oldest first.
func Events(ctx context.Context, out io.Writer, src EntrySource, n int) error {
	entries, err := src.Recent(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No recorded client events.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tCID\tCOMMON NAME\tADDRESS")
	fmt.Fprintln(w, "----\t----\t---\t-----------\t-------")
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			e.Time.Local().Format(time.DateTime), e.Type, e.ClientID, dash(e.CommonName), dash(e.Address))
	}
	return w.Flush()
}

func endpoint(host string, port *int) string {
	if port == nil {
		return host
	}
	return fmt.Sprintf("%s:%d", host, *port)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// PrintHelp prints CLI usage help.
func PrintHelp(w io.Writer) {
	fmt.Fprintln(w, `ovpn-mgmt - OpenVPN management interface client

Usage:
  ovpn-mgmt [--config FILE] [--host H --port P | --socket PATH] [--verbose] MODE

Connection:
  --config FILE       Configuration file (default ~/.config/ovpn-mgmt/config.yaml)
  --host HOST         Management host
  --port PORT         Management port
  --socket PATH       Management unix socket
  --ask-password      Prompt for the management password
  --verbose           Enable verbose logging

Modes:
  --state             Show the daemon state
  --stats             Show load statistics
  --status            List connected clients and routes
  --version-info      Show the daemon version
  --send CMD          Send a raw management command
  --kill TARGET       Disconnect a client by ID, common name or ip:port
  --sigterm           Ask the daemon to exit
  --console           Interactive management console
  --monitor           Live terminal dashboard
  --serve ADDR        HTTP/WebSocket bridge (ADDR defaults to the config)
  --watch             Print client events as they happen
  --events N          Show the last N journaled client events
  --store-password    Save the management password in the keyring
  --version           Show version and exit
  --help              Show this help message

Examples:
  ovpn-mgmt --status
  ovpn-mgmt --socket /run/openvpn/server.sock --kill 12
  ovpn-mgmt --send "log 20"
  ovpn-mgmt --serve 127.0.0.1:8505`)
}
