// Package vpn provides the high-level view of one OpenVPN daemon.
// This file contains the VPN type, which wraps a management session with
// typed queries and control commands.
package vpn

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/events"
	"github.com/yllada/ovpn-mgmt/mgmt"
	"github.com/yllada/ovpn-mgmt/models"
)

// Common errors - re-exported from common package for convenience.
var (
	ErrAlreadyConnected = common.ErrAlreadyConnected
	ErrNotConnected     = common.ErrNotConnected
	ErrConnectionFailed = common.ErrConnectionFailed
)

// ConnectionStatus is the state of the management session.
type ConnectionStatus = common.ConnectionStatus

// Connection states, re-exported from common.
const (
	StatusDisconnected  = common.StatusDisconnected
	StatusConnecting    = common.StatusConnecting
	StatusConnected     = common.StatusConnected
	StatusDisconnecting = common.StatusDisconnecting
	StatusError         = common.StatusError
)

const sigtermReply = "SUCCESS: signal SIGTERM thrown"

// Session is the management connection a VPN drives. *mgmt.Client
// implements it.
type Session interface {
	common.CommandSender
	Connect(ctx context.Context) error
	Disconnect(sendQuit bool) error
	IsConnected() bool
	Status() common.ConnectionStatus
	Address() mgmt.Address
	RegisterCallback(h mgmt.Handler) bool
	SetDisconnectHandler(h mgmt.DisconnectHandler)
}

// VPN is one managed OpenVPN daemon.
type VPN struct {
	session Session
	log     common.Logger

	mu      sync.RWMutex
	release string

	lostMu  sync.RWMutex
	lostFns []func(error)
}

// New builds a disconnected VPN over a fresh mgmt.Client.
func New(addr mgmt.Address, opts ...mgmt.Option) (*VPN, error) {
	client, err := mgmt.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithSession(client), nil
}

// NewWithSession wraps an existing session.
func NewWithSession(s Session) *VPN {
	v := &VPN{
		session: s,
		log:     common.Named("vpn"),
	}
	s.SetDisconnectHandler(v.connectionLost)
	return v
}

// Session returns the underlying management session.
func (v *VPN) Session() Session { return v.session }

// Address returns the management address.
func (v *VPN) Address() mgmt.Address { return v.session.Address() }

// Connect opens the management session.
func (v *VPN) Connect(ctx context.Context) error {
	return v.session.Connect(ctx)
}

// Disconnect closes the session politely with quit.
func (v *VPN) Disconnect() error {
	return v.session.Disconnect(true)
}

// IsConnected reports whether the session is open.
func (v *VPN) IsConnected() bool { return v.session.IsConnected() }

// ConnectionStatus returns the session state.
func (v *VPN) ConnectionStatus() ConnectionStatus { return v.session.Status() }

// WithConnection connects, runs fn and disconnects whatever fn returns.
func (v *VPN) WithConnection(ctx context.Context, fn func() error) error {
	if err := v.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := v.Disconnect(); err != nil {
			v.log.Warn("disconnect: %v", err)
		}
	}()
	return fn()
}

// OnConnectionLost registers fn for unexpected session loss.
func (v *VPN) OnConnectionLost(fn func(error)) {
	v.lostMu.Lock()
	defer v.lostMu.Unlock()
	v.lostFns = append(v.lostFns, fn)
}

func (v *VPN) connectionLost(err error) {
	v.log.Warn("management session to %s lost: %v", v.Address(), err)
	v.ClearCache()

	v.lostMu.RLock()
	fns := make([]func(error), len(v.lostFns))
	copy(fns, v.lostFns)
	v.lostMu.RUnlock()

	for _, fn := range fns {
		fn(err)
	}
}

// RegisterCallback adds an event handler. Pointer handlers registered
// twice are kept once; bare mgmt.HandlerFunc values are always added.
func (v *VPN) RegisterCallback(h mgmt.Handler) bool {
	return v.session.RegisterCallback(h)
}

// OnClientEvent registers fn for client lifecycle events only. Each call
// adds a new handler.
func (v *VPN) OnClientEvent(fn func(ev *events.ClientEvent)) {
	v.session.RegisterCallback(mgmt.HandlerFunc(func(ev events.Event) error {
		if ce, ok := ev.(*events.ClientEvent); ok {
			fn(ce)
		}
		return nil
	}))
}

// SendCommand sends a raw management command.
func (v *VPN) SendCommand(ctx context.Context, cmd string) (string, error) {
	return v.session.SendCommand(ctx, cmd)
}

// Release returns the daemon's release string, querying it once.
func (v *VPN) Release(ctx context.Context) (string, error) {
	v.mu.RLock()
	release := v.release
	v.mu.RUnlock()
	if release != "" {
		return release, nil
	}

	raw, err := v.session.SendCommand(ctx, "version")
	if err != nil {
		return "", err
	}
	release, err = models.ParseVersion(raw)
	if err != nil {
		return "", err
	}

	v.mu.Lock()
	v.release = release
	v.mu.Unlock()
	return release, nil
}

// Version returns the x.y.z version number of the daemon.
func (v *VPN) Version(ctx context.Context) (string, error) {
	release, err := v.Release(ctx)
	if err != nil {
		return "", err
	}
	return models.VersionNumber(release)
}

// CacheData fetches metadata that rarely changes.
func (v *VPN) CacheData(ctx context.Context) error {
	_, err := v.Release(ctx)
	return err
}

// ClearCache drops cached metadata.
func (v *VPN) ClearCache() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.release = ""
}

// GetState returns the daemon's current state.
func (v *VPN) GetState(ctx context.Context) (*models.State, error) {
	raw, err := v.session.SendCommand(ctx, "state")
	if err != nil {
		return nil, err
	}
	return models.ParseState(raw)
}

// GetStats returns the load-stats summary.
func (v *VPN) GetStats(ctx context.Context) (*models.ServerStats, error) {
	raw, err := v.session.SendCommand(ctx, "load-stats")
	if err != nil {
		return nil, err
	}
	return models.ParseStats(raw)
}

// GetStatus returns the client list and routing table.
func (v *VPN) GetStatus(ctx context.Context) (*models.Status, error) {
	raw, err := v.session.SendCommand(ctx, "status 1")
	if err != nil {
		return nil, err
	}
	return models.ParseStatus(raw)
}

// SendSigterm asks the daemon to exit and drops the session without quit.
func (v *VPN) SendSigterm(ctx context.Context) error {
	raw, err := v.session.SendCommand(ctx, "signal SIGTERM")
	if err != nil {
		return err
	}
	if strings.TrimSpace(raw) != sigtermReply {
		return common.NewParseError("did not get expected response after issuing SIGTERM")
	}
	return v.session.Disconnect(false)
}

// KillClient disconnects the client with the given client ID.
func (v *VPN) KillClient(ctx context.Context, cid int) error {
	_, err := v.session.SendCommand(ctx, fmt.Sprintf("client-kill %d", cid))
	return err
}

// Kill disconnects clients by common name or real address (ip:port).
func (v *VPN) Kill(ctx context.Context, target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return fmt.Errorf("%w: empty kill target", common.ErrInvalidConfig)
	}
	if strings.ContainsAny(target, " \t\r\n") {
		return fmt.Errorf("%w: kill target %q contains whitespace", common.ErrInvalidConfig, target)
	}
	_, err := v.session.SendCommand(ctx, "kill "+target)
	return err
}
