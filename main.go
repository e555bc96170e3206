// Package main provides the entry point for ovpn-mgmt.
// ovpn-mgmt talks to a running OpenVPN daemon over its management
// interface, either a TCP port or a unix socket.
//
// Features:
//   - Typed queries: state, load statistics, client status, version
//   - Client control: kill by client ID, common name or address
//   - Live client events with an optional SQLite journal
//   - Desktop notifications on client connect and disconnect
//   - Terminal dashboard, interactive console and HTTP/WebSocket bridge
//
// Usage:
//
//	ovpn-mgmt [--config FILE] [--host H --port P | --socket PATH] MODE
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/yllada/ovpn-mgmt/bridge"
	"github.com/yllada/ovpn-mgmt/cli"
	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/config"
	"github.com/yllada/ovpn-mgmt/console"
	"github.com/yllada/ovpn-mgmt/events"
	"github.com/yllada/ovpn-mgmt/journal"
	"github.com/yllada/ovpn-mgmt/keyring"
	"github.com/yllada/ovpn-mgmt/mgmt"
	"github.com/yllada/ovpn-mgmt/monitor"
	"github.com/yllada/ovpn-mgmt/notify"
	"github.com/yllada/ovpn-mgmt/vpn"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	configFile  = flag.String("config", "", "Configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")

	// Connection flags
	host        = flag.String("host", "", "Management host")
	port        = flag.Int("port", 0, "Management port")
	socket      = flag.String("socket", "", "Management unix socket")
	askPassword = flag.Bool("ask-password", false, "Prompt for the management password")

	// Mode flags
	showState     = flag.Bool("state", false, "Show the daemon state")
	showStats     = flag.Bool("stats", false, "Show load statistics")
	showStatus    = flag.Bool("status", false, "List connected clients")
	versionInfo   = flag.Bool("version-info", false, "Show the daemon version")
	sendCmd       = flag.String("send", "", "Send a raw management command")
	killTarget    = flag.String("kill", "", "Disconnect a client")
	sigterm       = flag.Bool("sigterm", false, "Ask the daemon to exit")
	consoleMode   = flag.Bool("console", false, "Interactive management console")
	monitorMode   = flag.Bool("monitor", false, "Live terminal dashboard")
	watchMode     = flag.Bool("watch", false, "Print client events")
	eventCount    = flag.Int("events", 0, "Show the last N journaled client events")
	storePassword = flag.Bool("store-password", false, "Save the management password")
	serveAddr     optionalString
)

func init() {
	flag.Var(&serveAddr, "serve", "Run the HTTP/WebSocket bridge on ADDR")
}

func main() {
	flag.Usage = func() { cli.PrintHelp(os.Stderr) }
	flag.Parse()

	// Handle help flag
	if *showHelp {
		cli.PrintHelp(os.Stdout)
		os.Exit(0)
	}

	// Handle version flag
	if *showVersion {
		fmt.Printf("ovpn-mgmt v%s\n", appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	// --serve ADDR leaves ADDR as a positional argument.
	if serveAddr.set && serveAddr.value == "" && flag.NArg() == 1 {
		serveAddr.value = flag.Arg(0)
	} else if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected arguments: %v\n", flag.Args())
		os.Exit(2)
	}

	if n := countModes(); n != 1 {
		if n > 1 {
			fmt.Fprintln(os.Stderr, "Error: choose exactly one mode.")
		}
		cli.PrintHelp(os.Stderr)
		os.Exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger with structured logging and file output
	if err := common.InitLogger(cfg.LoggerConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	// SIGINT/SIGTERM cancel ctx; every mode returns and disconnects with quit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = run(ctx, cfg)
	stop()
	common.CloseLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func countModes() int {
	n := 0
	for _, on := range []bool{
		*showState, *showStats, *showStatus, *versionInfo,
		*sendCmd != "", *killTarget != "", *sigterm,
		*consoleMode, *monitorMode, serveAddr.set, *watchMode,
		*eventCount > 0, *storePassword,
	} {
		if on {
			n++
		}
	}
	return n
}

// loadConfig reads the configuration file and applies command-line
// overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFrom(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if *socket != "" {
		cfg.Management.Socket = *socket
		cfg.Management.Host = ""
		cfg.Management.Port = 0
	}
	if *host != "" || *port != 0 {
		cfg.Management.Socket = ""
		if *host != "" {
			cfg.Management.Host = *host
		}
		if *port != 0 {
			cfg.Management.Port = *port
		}
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	addr := cfg.ManagementAddress()

	// Modes that do not talk to the daemon.
	switch {
	case *eventCount > 0:
		return showEvents(ctx, cfg, addr)
	case *storePassword:
		return savePassword(addr)
	}

	v, err := connect(ctx, cfg, addr)
	if err != nil {
		return err
	}
	defer func() {
		if err := v.Disconnect(); err != nil {
			common.LogWarn("Disconnect: %v", err)
		}
	}()

	c := cli.New(v, os.Stdout)
	switch {
	case *showState:
		return c.State(ctx)
	case *showStats:
		return c.Stats(ctx)
	case *showStatus:
		return c.Status(ctx)
	case *versionInfo:
		return c.VersionInfo(ctx)
	case *sendCmd != "":
		return c.Send(ctx, *sendCmd)
	case *killTarget != "":
		return c.Kill(ctx, *killTarget)
	case *sigterm:
		return c.Sigterm(ctx)
	}

	// Long-running modes record and announce client events.
	j, err := attachJournal(ctx, cfg, v)
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
	}
	closeNotifier := attachNotifier(cfg, v)
	defer closeNotifier()

	hc := startHealthChecker(cfg, v)
	if hc != nil {
		defer hc.Stop()
	}
	ctx, lostErr := untilLost(ctx, v, hc != nil && cfg.Health.AutoReconnect, hc)

	switch {
	case *consoleMode:
		return runConsole(ctx, v)
	case *monitorMode:
		return runMonitor(ctx, cfg, v)
	case serveAddr.set:
		if err := runBridge(ctx, cfg, v, j); err != nil {
			return err
		}
		return lostErr()
	default:
		v.RegisterCallback(cli.NewWatcher(os.Stdout))
		fmt.Fprintf(os.Stderr, "Watching %s, press Ctrl+C to stop.\n", addr)
		<-ctx.Done()
		return lostErr()
	}
}

// connect opens the management session with options from cfg.
func connect(ctx context.Context, cfg *config.Config, addr mgmt.Address) (*vpn.VPN, error) {
	opts := []mgmt.Option{
		mgmt.WithConnectTimeout(cfg.Management.ConnectTimeout),
		mgmt.WithCommandTimeout(cfg.Management.CommandTimeout),
	}
	if cfg.Events.CaptureNotifications {
		opts = append(opts, mgmt.WithRegistry(events.NotificationRegistry()))
	}

	password, err := resolvePassword(cfg, addr)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts = append(opts, mgmt.WithPassword(password))
	}

	v, err := vpn.New(addr, opts...)
	if err != nil {
		return nil, err
	}
	if err := v.Connect(ctx); err != nil {
		if errors.Is(err, common.ErrAuthFailed) {
			return nil, fmt.Errorf("%w (try --ask-password or --store-password)", err)
		}
		return nil, err
	}
	return v, nil
}

func resolvePassword(cfg *config.Config, addr mgmt.Address) (string, error) {
	if *askPassword {
		return cli.PromptPassword("Management password: ")
	}
	if !cfg.Management.UseKeyring {
		return "", nil
	}
	password, err := cli.LookupPassword(keyring.New(), addr)
	if err != nil {
		common.LogWarn("Could not read saved password: %v", err)
		return "", nil
	}
	return password, nil
}

func savePassword(addr mgmt.Address) error {
	password, err := cli.PromptPassword(fmt.Sprintf("Management password for %s: ", addr))
	if err != nil {
		return err
	}
	if err := cli.StorePassword(keyring.New(), addr, password); err != nil {
		return err
	}
	fmt.Printf("✓ Password saved for %s\n", addr)
	return nil
}

func showEvents(ctx context.Context, cfg *config.Config, addr mgmt.Address) error {
	path, err := cfg.JournalPath()
	if err != nil {
		return err
	}
	j, err := journal.Open(ctx, path, addr.String())
	if err != nil {
		return err
	}
	defer j.Close()
	return cli.Events(ctx, os.Stdout, j, *eventCount)
}

func attachJournal(ctx context.Context, cfg *config.Config, v *vpn.VPN) (*journal.Journal, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}
	path, err := cfg.JournalPath()
	if err != nil {
		return nil, err
	}
	j, err := journal.Open(ctx, path, v.Address().String())
	if err != nil {
		return nil, err
	}
	if cfg.Journal.Retention > 0 {
		n, err := j.Prune(ctx, cfg.Journal.Retention)
		if err != nil {
			common.LogWarn("Journal prune failed: %v", err)
		} else if n > 0 {
			common.LogInfo("Pruned %d journal entries", n)
		}
	}
	v.RegisterCallback(j)
	return j, nil
}

func attachNotifier(cfg *config.Config, v *vpn.VPN) func() {
	if !cfg.Notifications.Enabled {
		return func() {}
	}
	desktop, err := notify.NewDesktop()
	if err != nil {
		common.LogWarn("Desktop notifications unavailable: %v", err)
		return func() {}
	}
	v.RegisterCallback(notify.NewClientNotifier(desktop, v.Address().String(),
		cfg.Notifications.OnConnect, cfg.Notifications.OnDisconnect))
	return func() { desktop.Close() }
}

func startHealthChecker(cfg *config.Config, v *vpn.VPN) *vpn.HealthChecker {
	if !cfg.Health.Enabled {
		return nil
	}
	hc := vpn.NewHealthChecker(v, vpn.HealthConfig{
		CheckInterval:        cfg.Health.Interval,
		ProbeTimeout:         vpn.DefaultHealthConfig().ProbeTimeout,
		FailureThreshold:     cfg.Health.FailureThreshold,
		AutoReconnect:        cfg.Health.AutoReconnect,
		ReconnectDelay:       cfg.Health.ReconnectDelay,
		MaxReconnectAttempts: cfg.Health.MaxReconnectAttempts,
	})
	hc.SetOnHealthChange(func(oldState, newState vpn.HealthState) {
		common.LogInfo("Management session health: %s -> %s", oldState, newState)
	})
	hc.SetOnReconnecting(func(attempt int) {
		common.LogInfo("Reconnecting to %s (attempt %d)", v.Address(), attempt)
	})
	hc.SetOnReconnected(func() {
		common.LogInfo("Reconnected to %s", v.Address())
	})
	hc.Start()
	return hc
}

// untilLost derives a context that ends when the session is gone for
// good: on loss, or when auto-reconnect gives up. lostErr reports that
// cause, or nil after a normal shutdown.
func untilLost(ctx context.Context, v *vpn.VPN, reconnects bool, hc *vpn.HealthChecker) (context.Context, func() error) {
	ctx, cancel := context.WithCancelCause(ctx)
	lost := func(err error) {
		cancel(fmt.Errorf("%w: %v", common.ErrNotConnected, err))
	}
	if reconnects {
		hc.SetOnReconnectFailed(lost)
	} else {
		v.OnConnectionLost(lost)
	}

	lostErr := func() error {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
		return nil
	}
	return ctx, lostErr
}

func runConsole(ctx context.Context, v *vpn.VPN) error {
	historyPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyPath = filepath.Join(home, common.HistoryFileName)
	}
	le := console.NewLineEditor(historyPath)
	defer le.Close()

	con := console.New(v, le, os.Stderr, v.Address().String())
	v.RegisterCallback(con)
	return con.Run(ctx)
}

func runMonitor(ctx context.Context, cfg *config.Config, v *vpn.VPN) error {
	common.GetLogger().DetachConsole()

	ch := make(chan *events.ClientEvent, 64)
	v.OnClientEvent(func(ev *events.ClientEvent) {
		select {
		case ch <- ev:
		default:
		}
	})

	m := monitor.New(v, v.Address().String(), cfg.Monitor.RefreshInterval).WithEvents(ch)
	return monitor.Run(ctx, m)
}

func runBridge(ctx context.Context, cfg *config.Config, v *vpn.VPN, j *journal.Journal) error {
	listen := serveAddr.value
	if listen == "" {
		listen = cfg.Bridge.Listen
	}

	opts := []bridge.Option{bridge.WithAllowedOrigins(cfg.Bridge.AllowedOrigins...)}
	if j != nil {
		opts = append(opts, bridge.WithJournal(j))
	}
	srv := bridge.NewServer(v, opts...)
	v.RegisterCallback(srv)

	fmt.Fprintf(os.Stderr, "Bridge for %s on http://%s\n", v.Address(), listen)
	return srv.ListenAndServe(ctx, listen)
}

// optionalString is a flag that may be given bare (--serve) or with a
// value (--serve=ADDR).
type optionalString struct {
	set   bool
	value string
}

func (o *optionalString) String() string { return o.value }

func (o *optionalString) Set(s string) error {
	o.set = true
	if s != "true" {
		o.value = s
	}
	return nil
}

func (o *optionalString) IsBoolFlag() bool { return true }
