package mgmt

import (
	"fmt"
	"net"
	"strconv"

	"github.com/yllada/ovpn-mgmt/common"
)

// AddressType tells how the management interface is reached.
type AddressType string

const (
	// AddressIP is a TCP host and port.
	AddressIP AddressType = "ip"
	// AddressUnixSocket is a Unix-domain socket path.
	AddressUnixSocket AddressType = "socket"
)

// Address describes where the management interface listens. Exactly one
// of Socket or Host+Port is set.
type Address struct {
	Host   string
	Port   int
	Socket string
}

// IPAddress builds a TCP management address.
func IPAddress(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// SocketAddress builds a Unix-domain management address.
func SocketAddress(path string) Address {
	return Address{Socket: path}
}

// Validate enforces the never-both, never-neither invariant.
func (a Address) Validate() error {
	hasIP := a.Host != "" || a.Port != 0
	if a.Socket != "" && hasIP {
		return fmt.Errorf("%w: must specify either socket or host and port, not both", common.ErrInvalidConfig)
	}
	if a.Socket == "" && !hasIP {
		return fmt.Errorf("%w: must specify either socket or host and port", common.ErrInvalidConfig)
	}
	if hasIP && (a.Host == "" || a.Port <= 0 || a.Port > 65535) {
		return fmt.Errorf("%w: host and port are both required (got %q, %d)", common.ErrInvalidConfig, a.Host, a.Port)
	}
	return nil
}

// Type reports the address family.
func (a Address) Type() AddressType {
	if a.Socket != "" {
		return AddressUnixSocket
	}
	return AddressIP
}

// Network returns the net.Dial network name.
func (a Address) Network() string {
	if a.Type() == AddressUnixSocket {
		return "unix"
	}
	return "tcp"
}

// String returns host:port or the socket path.
func (a Address) String() string {
	if a.Type() == AddressUnixSocket {
		return a.Socket
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
