package mgmt

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const testBanner = ">INFO:OpenVPN Management Interface Version 5 -- type 'help' for more info"

// fakeDaemon speaks the management protocol on a loopback or unix socket.
// handler writes the reply for each command it receives; a nil handler
// answers every command with "SUCCESS: ok".
type fakeDaemon struct {
	t        *testing.T
	listener net.Listener
	addr     Address

	password string
	banner   string
	handler  func(cmd string, w io.Writer)

	mu       sync.Mutex
	conns    []net.Conn
	received []string

	wg sync.WaitGroup
}

func newFakeDaemon(t *testing.T, handler func(cmd string, w io.Writer)) *fakeDaemon {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tcp := ln.Addr().(*net.TCPAddr)
	return startDaemon(t, ln, IPAddress("127.0.0.1", tcp.Port), handler)
}

func newUnixDaemon(t *testing.T, handler func(cmd string, w io.Writer)) *fakeDaemon {
	t.Helper()

	// unix socket paths are length-limited; t.TempDir can exceed it.
	dir, err := os.MkdirTemp("", "mgmt")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "mgmt.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return startDaemon(t, ln, SocketAddress(path), handler)
}

func startDaemon(t *testing.T, ln net.Listener, addr Address, handler func(cmd string, w io.Writer)) *fakeDaemon {
	d := &fakeDaemon{
		t:        t,
		listener: ln,
		addr:     addr,
		banner:   testBanner,
		handler:  handler,
	}
	d.wg.Add(1)
	go d.acceptLoop()
	t.Cleanup(d.stop)
	return d
}

func (d *fakeDaemon) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()

		d.wg.Add(1)
		go d.serve(conn)
	}
}

func (d *fakeDaemon) serve(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	reader := bufio.NewReader(conn)

	d.mu.Lock()
	password, banner := d.password, d.banner
	d.mu.Unlock()

	if password != "" {
		fmt.Fprint(conn, "ENTER PASSWORD:")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		if strings.TrimSpace(line) != password {
			fmt.Fprint(conn, "ERROR: bad password\n")
			return
		}
		fmt.Fprint(conn, "SUCCESS: password is correct\n")
	}
	fmt.Fprint(conn, banner+"\n")

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)

		d.mu.Lock()
		d.received = append(d.received, cmd)
		handler := d.handler
		d.mu.Unlock()

		if cmd == "quit" || cmd == "exit" {
			return
		}
		if handler == nil {
			fmt.Fprint(conn, "SUCCESS: ok\n")
			continue
		}
		handler(cmd, conn)
	}
}

// push writes raw text to every open connection.
func (d *fakeDaemon) push(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		fmt.Fprint(c, text)
	}
}

// dropAll closes every client connection from the daemon side.
func (d *fakeDaemon) dropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.Close()
	}
	d.conns = nil
}

func (d *fakeDaemon) commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.received))
	copy(out, d.received)
	return out
}

func (d *fakeDaemon) stop() {
	d.listener.Close()
	d.dropAll()
	d.wg.Wait()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// connectedClient dials d with a short connect timeout and disconnects on
// cleanup.
func connectedClient(t *testing.T, d *fakeDaemon, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithConnectTimeout(2 * time.Second), WithCommandTimeout(5 * time.Second)}, opts...)
	c, err := NewClient(d.addr, opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.Connect(testContext(t)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Disconnect(false) })
	return c
}
