// Package mgmt is a client for the OpenVPN management interface.
//
// The interface multiplexes two streams over one line-oriented socket:
// replies to commands the client sent, and unsolicited event blocks
// (see package events). A Client keeps them apart with a single receiver
// goroutine that owns the socket's read side and runs every line through
// a small state machine:
//
//   - Idle: a line that begins a registered event kind starts a buffer;
//     anything else is a command response line.
//   - CollectingEvent: lines accumulate until the kind reports the block
//     ended, then the block is parsed and dispatched and the machine
//     returns to Idle, even if parsing failed.
//
// Response lines go to an unbounded queue read by the one command in
// flight. How many lines make up a response is decided per command by a
// CompletionPolicy: most replies end with END, load-stats and signal
// reply with one line, quit gets no reply at all.
//
// # Usage
//
//	addr := mgmt.IPAddress("127.0.0.1", 7505)
//	client, err := mgmt.NewClient(addr)
//	if err != nil {
//		return err
//	}
//	client.RegisterCallback(mgmt.HandlerFunc(func(ev events.Event) error {
//		log.Printf("%s event", ev.Kind())
//		return nil
//	}))
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Disconnect(true)
//
//	status, err := client.SendCommand(ctx, "status 1")
//
// Handlers run on the receiver goroutine. A slow handler delays both
// event delivery and command responses, and a handler must not call
// SendCommand synchronously.
package mgmt
