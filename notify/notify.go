// Package notify shows desktop notifications for client lifecycle events
// through the org.freedesktop.Notifications D-Bus service.
package notify

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/events"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	notifyCall = busName + ".Notify"
)

// Urgency is the freedesktop urgency hint.
type Urgency byte

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

// Notification represents a desktop notification.
type Notification struct {
	Title   string
	Message string
	Icon    string
	Urgency Urgency
	// Timeout in milliseconds; -1 lets the server decide.
	Timeout int32
}

// Sender delivers notifications.
type Sender interface {
	Show(n Notification) (uint32, error)
}

// caller is the part of dbus.BusObject used here.
type caller interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Desktop sends notifications over the session bus.
type Desktop struct {
	conn    *dbus.Conn
	obj     caller
	appName string
}

var _ common.Notifier = (*Desktop)(nil)

// NewDesktop connects to the session bus.
func NewDesktop() (*Desktop, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	return &Desktop{
		conn:    conn,
		obj:     conn.Object(busName, dbus.ObjectPath(objectPath)),
		appName: common.AppName,
	}, nil
}

// Close releases the bus connection.
func (d *Desktop) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// Show displays n and returns the server-assigned id.
func (d *Desktop) Show(n Notification) (uint32, error) {
	icon := n.Icon
	if icon == "" {
		icon = "network-vpn"
	}
	timeout := n.Timeout
	if timeout == 0 {
		timeout = -1
	}
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(n.Urgency)),
	}

	var id uint32
	call := d.obj.Call(notifyCall, 0,
		d.appName, uint32(0), icon, n.Title, n.Message, []string{}, hints, timeout)
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("sending notification: %w", err)
	}
	return id, nil
}

// Notify implements common.Notifier.
func (d *Desktop) Notify(title, message string) error {
	_, err := d.Show(Notification{Title: title, Message: message, Urgency: UrgencyNormal})
	return err
}

// ClientNotifier turns client events into notifications. It implements
// mgmt.Handler.
type ClientNotifier struct {
	sender       Sender
	server       string
	onConnect    bool
	onDisconnect bool
	log          common.Logger

	mu    sync.Mutex
	names map[int]string
}

// NewClientNotifier builds a handler for events from server.
func NewClientNotifier(sender Sender, server string, onConnect, onDisconnect bool) *ClientNotifier {
	return &ClientNotifier{
		sender:       sender,
		server:       server,
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
		log:          common.Named("notify"),
		names:        make(map[int]string),
	}
}

// HandleEvent notifies on ESTABLISHED and DISCONNECT.
func (c *ClientNotifier) HandleEvent(ev events.Event) error {
	ce, ok := ev.(*events.ClientEvent)
	if !ok {
		return nil
	}

	n, ok := c.notificationFor(ce)
	if !ok {
		return nil
	}
	if _, err := c.sender.Show(n); err != nil {
		c.log.Warn("Error showing notification: %v", err)
		return err
	}
	return nil
}

func (c *ClientNotifier) notificationFor(ce *events.ClientEvent) (Notification, bool) {
	switch ce.Type {
	case events.ClientConnect, events.ClientReauth:
		// ESTABLISHED and DISCONNECT may arrive without common_name.
		c.remember(ce.ClientID, ce.CommonName())
		return Notification{}, false

	case events.ClientEstablished:
		name := c.remember(ce.ClientID, ce.CommonName())
		if !c.onConnect {
			return Notification{}, false
		}
		msg := name + " connected to " + c.server
		if ip, ok := ce.Env("untrusted_ip"); ok && ip != "" {
			msg = fmt.Sprintf("%s (%s) connected to %s", name, ip, c.server)
		}
		return Notification{
			Title:   "Client Connected",
			Message: msg,
			Icon:    "network-vpn",
			Urgency: UrgencyLow,
		}, true

	case events.ClientDisconnect:
		name := c.forget(ce.ClientID, ce.CommonName())
		if !c.onDisconnect {
			return Notification{}, false
		}
		msg := name + " disconnected from " + c.server
		if d, ok := ce.Env("time_duration"); ok {
			if secs, err := strconv.Atoi(d); err == nil {
				msg += fmt.Sprintf(" after %s", common.FormatDuration(time.Duration(secs)*time.Second))
			}
		}
		return Notification{
			Title:   "Client Disconnected",
			Message: msg,
			Icon:    "network-vpn-disconnected",
			Urgency: UrgencyNormal,
		}, true
	}
	return Notification{}, false
}

func (c *ClientNotifier) remember(cid int, name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name != "" {
		c.names[cid] = name
		return name
	}
	if known, ok := c.names[cid]; ok {
		return known
	}
	return fmt.Sprintf("client %d", cid)
}

func (c *ClientNotifier) forget(cid int, name string) string {
	name = c.remember(cid, name)
	c.mu.Lock()
	delete(c.names, cid)
	c.mu.Unlock()
	return name
}
