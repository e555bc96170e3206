// Package events defines the unsolicited event blocks the OpenVPN
// management interface interleaves with command responses, and the
// registry the receiver consults to recognise them.
//
// # Kinds
//
// A Kind answers three questions about a line: does it begin an event,
// does it end one, and how does a complete block parse. The receiver
// walks Registry.Kinds in order and the first kind whose HasBegun
// matches owns the block.
//
// Built-in kinds:
//
//   - ClientKind: >CLIENT:CONNECT, REAUTH, ESTABLISHED, DISCONNECT
//     (each followed by a >CLIENT:ENV block ending in >CLIENT:ENV,END)
//     and the single-line >CLIENT:ADDRESS
//   - NotificationKind: any other >PREFIX:message line (opt-in)
//
// New kinds are added by implementing Kind and registering them before
// the registry is handed to a client; the receiver needs no changes.
package events
