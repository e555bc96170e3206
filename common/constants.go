// Package common provides shared constants, types, and utilities
// used across the management client.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "ovpn-mgmt"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "ovpn-mgmt"
	// KeyringService is the service identifier used in the system keyring.
	KeyringService = "ovpn-mgmt"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "ovpn-mgmt.log"
	JournalFileName     = "events.db"
	HistoryFileName     = ".ovpn-mgmt_history"
)

// Default timeouts and intervals.
const (
	// ConnectionTimeout is the maximum time to wait for the socket connect
	// and the banner handshake.
	ConnectionTimeout = 10 * time.Second
	// CommandTimeout bounds a single command round trip. Expiry tears down
	// the connection.
	CommandTimeout = 30 * time.Second
	// MonitorInterval is how often the terminal monitor refreshes stats.
	MonitorInterval = 2 * time.Second
	// HealthCheckInterval is how often the health checker probes the daemon.
	HealthCheckInterval = 30 * time.Second
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay = 5 * time.Second
)

// Management protocol literals.
const (
	// BannerPrefix starts the first line the daemon sends after connect.
	BannerPrefix = ">INFO"
	// PasswordPrompt is sent (without newline) by a password-protected
	// management interface before the banner.
	PasswordPrompt = "ENTER PASSWORD:"
	// EndTerminator is the line closing a multi-line command response.
	EndTerminator = "END"
	// SuccessPrefix starts a single-line acknowledgement.
	SuccessPrefix = "SUCCESS:"
	// ErrorPrefix starts a single-line command failure.
	ErrorPrefix = "ERROR:"
)
