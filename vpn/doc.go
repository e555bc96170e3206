// Package vpn provides the high-level view of one OpenVPN daemon on top
// of a management session.
//
// # Architecture
//
// The package is organized around two types:
//
//   - VPN: wraps a Session (normally a *mgmt.Client) with typed queries
//     (GetState, GetStats, GetStatus, Release, Version) and control
//     commands (SendSigterm, KillClient, Kill). The release string is
//     cached until ClearCache or a lost connection.
//   - HealthChecker: probes the daemon with load-stats on an interval,
//     tracks consecutive failures, and reconnects the session with a
//     delay and an attempt cap.
//
// # Connection Flow
//
//  1. The CLI or a front-end builds a VPN from a mgmt.Address
//  2. VPN.Connect opens the session; callbacks are registered
//  3. Queries and commands run through the session one at a time
//  4. If the daemon drops the socket, OnConnectionLost callbacks fire and
//     the HealthChecker, when running, schedules a reconnect
//  5. VPN.Disconnect sends quit and closes the session
package vpn
