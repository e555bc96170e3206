// Package vpn provides the high-level view of one OpenVPN daemon.
// This file contains the HealthChecker for probing the management session
// and reconnecting it when the daemon stops answering.
package vpn

import (
	"context"
	"sync"
	"time"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/models"
)

// HealthState represents the current health state of a connection.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthConfig holds configuration for the health checker.
type HealthConfig struct {
	// CheckInterval is how often to probe the daemon.
	CheckInterval time.Duration
	// ProbeTimeout bounds a single load-stats probe.
	ProbeTimeout time.Duration
	// FailureThreshold is how many consecutive failures before marking unhealthy.
	FailureThreshold int
	// AutoReconnect enables automatic reconnection on failure.
	AutoReconnect bool
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts is the maximum number of reconnection attempts (0 = unlimited).
	MaxReconnectAttempts int
}

// DefaultHealthConfig returns sensible defaults for health checking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:        common.HealthCheckInterval,
		ProbeTimeout:         5 * time.Second,
		FailureThreshold:     3,
		AutoReconnect:        true,
		ReconnectDelay:       common.ReconnectDelay,
		MaxReconnectAttempts: 5,
	}
}

// ConnectionHealth tracks the health of the management session.
type ConnectionHealth struct {
	Address           string
	State             HealthState
	LastCheck         time.Time
	LastSuccess       time.Time
	ConsecutiveFails  int
	ReconnectAttempts int
	Latency           time.Duration
	LastStats         *models.ServerStats
}

// HealthChecker probes a VPN with load-stats and reconnects it.
type HealthChecker struct {
	mu                sync.RWMutex
	config            HealthConfig
	vpn               *VPN
	running           bool
	reconnecting      bool
	stopChan          chan struct{}
	health            ConnectionHealth
	onHealthChange    func(oldState, newState HealthState)
	onReconnecting    func(attempt int)
	onReconnected     func()
	onReconnectFailed func(err error)
}

// NewHealthChecker creates a new health checker for v.
func NewHealthChecker(v *VPN, config HealthConfig) *HealthChecker {
	hc := &HealthChecker{
		config:   config,
		vpn:      v,
		stopChan: make(chan struct{}),
		health: ConnectionHealth{
			Address: v.Address().String(),
			State:   HealthUnknown,
		},
	}
	v.OnConnectionLost(hc.connectionLost)
	return hc
}

// SetOnHealthChange sets a callback for health state changes.
func (hc *HealthChecker) SetOnHealthChange(callback func(oldState, newState HealthState)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onHealthChange = callback
}

// SetOnReconnecting sets a callback for reconnection attempts.
func (hc *HealthChecker) SetOnReconnecting(callback func(attempt int)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onReconnecting = callback
}

// SetOnReconnected sets a callback for a successful reconnection.
func (hc *HealthChecker) SetOnReconnected(callback func()) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onReconnected = callback
}

// SetOnReconnectFailed sets a callback for when reconnection gives up.
func (hc *HealthChecker) SetOnReconnectFailed(callback func(err error)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onReconnectFailed = callback
}

// Start begins the health checking loop.
func (hc *HealthChecker) Start() {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	hc.stopChan = make(chan struct{})
	stop := hc.stopChan
	hc.mu.Unlock()

	common.LogInfo("Health checker started (interval: %v)", hc.config.CheckInterval)

	go hc.runLoop(stop)
}

// Stop stops the health checking loop and any pending reconnect.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	close(hc.stopChan)
	hc.mu.Unlock()

	common.LogInfo("Health checker stopped")
}

// IsRunning returns whether the health checker is currently running.
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.running
}

// Health returns a copy of the current health record.
func (hc *HealthChecker) Health() ConnectionHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.health
}

// runLoop is the main health checking loop.
func (hc *HealthChecker) runLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(hc.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			hc.Check(context.Background())
		}
	}
}

// Check probes the daemon once and updates the health record. It
// returns the new state.
func (hc *HealthChecker) Check(ctx context.Context) HealthState {
	latency, stats, err := hc.probe(ctx)

	hc.mu.Lock()
	h := &hc.health
	h.LastCheck = time.Now()
	oldState := h.State

	if err != nil {
		h.ConsecutiveFails++
		h.Latency = 0
		common.LogWarn("Health check failed for %s (attempt %d/%d): %v",
			h.Address, h.ConsecutiveFails, hc.config.FailureThreshold, err)

		if h.ConsecutiveFails >= hc.config.FailureThreshold {
			h.State = HealthUnhealthy
		} else {
			h.State = HealthDegraded
		}
	} else {
		h.ConsecutiveFails = 0
		h.LastSuccess = time.Now()
		h.Latency = latency
		h.LastStats = stats
		h.State = HealthHealthy
		h.ReconnectAttempts = 0
	}

	newState := h.State
	onChange := hc.onHealthChange
	startReconnect := newState == HealthUnhealthy && oldState != HealthUnhealthy &&
		hc.config.AutoReconnect && !hc.reconnecting
	if startReconnect {
		hc.reconnecting = true
	}
	stop := hc.stopChan
	hc.mu.Unlock()

	if oldState != newState {
		common.LogInfo("Health state changed for %s: %s -> %s", hc.health.Address, oldState, newState)
		if onChange != nil {
			go onChange(oldState, newState)
		}
	}
	if startReconnect {
		go hc.reconnectLoop(stop)
	}
	return newState
}

// probe times a load-stats round trip.
func (hc *HealthChecker) probe(ctx context.Context) (time.Duration, *models.ServerStats, error) {
	if !hc.vpn.IsConnected() {
		return 0, nil, common.ErrNotConnected
	}
	if hc.config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hc.config.ProbeTimeout)
		defer cancel()
	}

	start := time.Now()
	stats, err := hc.vpn.GetStats(ctx)
	if err != nil {
		return 0, nil, err
	}
	return time.Since(start), stats, nil
}

// connectionLost marks the session unhealthy at once instead of waiting
// for FailureThreshold probes.
func (hc *HealthChecker) connectionLost(err error) {
	hc.mu.Lock()
	oldState := hc.health.State
	hc.health.State = HealthUnhealthy
	hc.health.ConsecutiveFails = hc.config.FailureThreshold
	onChange := hc.onHealthChange
	start := hc.running && hc.config.AutoReconnect && !hc.reconnecting
	if start {
		hc.reconnecting = true
	}
	stop := hc.stopChan
	hc.mu.Unlock()

	if oldState != HealthUnhealthy && onChange != nil {
		go onChange(oldState, HealthUnhealthy)
	}
	if start {
		go hc.reconnectLoop(stop)
	}
}

// reconnectLoop retries Connect until it succeeds, the attempt cap is hit
// or the checker stops.
func (hc *HealthChecker) reconnectLoop(stop <-chan struct{}) {
	defer func() {
		hc.mu.Lock()
		hc.reconnecting = false
		hc.mu.Unlock()
	}()

	for {
		hc.mu.Lock()
		if hc.config.MaxReconnectAttempts > 0 && hc.health.ReconnectAttempts >= hc.config.MaxReconnectAttempts {
			onFailed := hc.onReconnectFailed
			hc.mu.Unlock()
			common.LogError("Max reconnect attempts reached for %s", hc.health.Address)
			if onFailed != nil {
				onFailed(common.ErrConnectionFailed)
			}
			return
		}
		hc.health.ReconnectAttempts++
		attempt := hc.health.ReconnectAttempts
		onReconnecting := hc.onReconnecting
		delay := hc.config.ReconnectDelay
		hc.mu.Unlock()

		common.LogInfo("Attempting reconnect for %s (attempt %d)", hc.health.Address, attempt)
		if onReconnecting != nil {
			onReconnecting(attempt)
		}

		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		// Drop whatever is left of the old session before dialing again.
		if err := hc.vpn.Session().Disconnect(false); err != nil {
			common.LogDebug("Disconnect before reconnect: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), common.ConnectionTimeout)
		err := hc.vpn.Connect(ctx)
		cancel()
		if err != nil {
			common.LogError("Reconnect failed for %s: %v", hc.health.Address, err)
			continue
		}

		hc.mu.Lock()
		hc.health.State = HealthHealthy
		hc.health.ConsecutiveFails = 0
		onReconnected := hc.onReconnected
		hc.mu.Unlock()

		common.LogInfo("Reconnect successful for %s", hc.health.Address)
		if onReconnected != nil {
			onReconnected()
		}
		return
	}
}

// UpdateConfig updates the health checker configuration.
func (hc *HealthChecker) UpdateConfig(config HealthConfig) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.config = config
}
