// Package common provides shared constants, types, utilities, and interfaces
// used throughout the management client.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Protocol literals, timeouts, and file names
//   - Errors: Sentinel errors plus typed ConnectError, ParseError,
//     ProtocolError and CommandError that unwrap to them
//   - Interfaces: Logger, CommandSender, CredentialStore, Notifier
//   - Logger: Levelled logging with optional rotated file output
//   - Utils: Config directory helpers and optional-field parsing
//
// # Usage
//
//	// Use logger
//	log := common.Named("mgmt")
//	log.Info("connected to %s", addr)
//
//	// Check errors
//	if errors.Is(err, common.ErrNotConnected) {
//	    // reconnect
//	}
package common
