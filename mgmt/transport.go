package mgmt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/yllada/ovpn-mgmt/common"
)

// Transport owns the raw socket. It knows how to open it, answer the
// optional password prompt, check the banner, and move lines; it has no
// notion of commands or events.
type Transport struct {
	addr     Address
	timeout  time.Duration
	password string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	open   bool
}

// NewTransport prepares a transport for addr. A zero timeout uses
// common.ConnectionTimeout.
func NewTransport(addr Address, timeout time.Duration, password string) *Transport {
	if timeout <= 0 {
		timeout = common.ConnectionTimeout
	}
	return &Transport{addr: addr, timeout: timeout, password: password}
}

// Open dials the management socket and completes the handshake. It
// returns the banner line. Every failure is a *common.ConnectError.
func (t *Transport) Open(ctx context.Context) (string, error) {
	if err := t.addr.Validate(); err != nil {
		return "", common.NewConnectError(t.addr.String(), err)
	}

	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return "", common.ErrAlreadyConnected
	}
	t.mu.Unlock()

	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, t.addr.Network(), t.addr.String())
	if err != nil {
		return "", common.NewConnectError(t.addr.String(), err)
	}

	reader := bufio.NewReader(conn)
	if err := conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		conn.Close()
		return "", common.NewConnectError(t.addr.String(), err)
	}

	banner, err := t.handshake(conn, reader)
	if err != nil {
		conn.Close()
		return "", common.NewConnectError(t.addr.String(), err)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return "", common.NewConnectError(t.addr.String(), err)
	}

	t.mu.Lock()
	t.conn = conn
	t.reader = reader
	t.open = true
	t.mu.Unlock()
	return banner, nil
}

// handshake answers a password prompt when one is present and reads the
// >INFO banner.
func (t *Transport) handshake(conn net.Conn, reader *bufio.Reader) (string, error) {
	head, err := reader.Peek(len(common.PasswordPrompt))
	if err != nil {
		return "", fmt.Errorf("reading banner: %w", err)
	}

	if string(head) == common.PasswordPrompt {
		if _, err := reader.Discard(len(head)); err != nil {
			return "", err
		}
		if t.password == "" {
			return "", fmt.Errorf("%w: interface requires a password", common.ErrAuthFailed)
		}
		if _, err := io.WriteString(conn, t.password+"\n"); err != nil {
			return "", fmt.Errorf("sending password: %w", err)
		}
		reply, err := readTrimmedLine(reader)
		if err != nil {
			return "", fmt.Errorf("reading password reply: %w", err)
		}
		if !strings.HasPrefix(reply, common.SuccessPrefix) {
			return "", fmt.Errorf("%w: %s", common.ErrAuthFailed, reply)
		}
	}

	banner, err := readTrimmedLine(reader)
	if err != nil {
		return "", fmt.Errorf("reading banner: %w", err)
	}
	if !strings.HasPrefix(banner, common.BannerPrefix) {
		return "", &common.ProtocolError{Message: fmt.Sprintf("did not get expected banner when opening socket, got %q", banner)}
	}
	return banner, nil
}

// ReadLine blocks until a full line is available and returns it without
// the trailing CR/LF.
func (t *Transport) ReadLine() (string, error) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return "", common.ErrNotConnected
	}
	reader := t.reader
	t.mu.Unlock()

	return readTrimmedLine(reader)
}

// WriteRaw sends p verbatim.
func (t *Transport) WriteRaw(p []byte) error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return common.ErrNotConnected
	}
	conn := t.conn
	t.mu.Unlock()

	_, err := conn.Write(p)
	return err
}

// Interrupt unblocks a pending ReadLine or WriteRaw without releasing
// the socket. Later reads and writes fail until the transport is reopened.
func (t *Transport) Interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		_ = t.conn.SetDeadline(time.Now())
	}
}

// Close releases the socket. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// IsOpen reports whether Open succeeded and Close has not been called.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Address returns the configured address.
func (t *Transport) Address() Address { return t.addr }

func readTrimmedLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
