package mgmt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/events"
)

// quitTimeout bounds how long Disconnect waits for the quit command to
// be written.
const quitTimeout = 2 * time.Second

// DisconnectHandler is called when the connection is lost without a
// Disconnect call.
type DisconnectHandler func(err error)

// EventErrorHandler is called when a buffered event block fails to parse.
type EventErrorHandler func(kind events.Kind, lines []string, err error)

// Client is a management interface connection. It runs one receiver
// goroutine (sole reader of the socket) and one writer goroutine per
// connection, and allows one command in flight at a time.
type Client struct {
	addr           Address
	registry       *events.Registry
	policy         CompletionPolicy
	dispatcher     *Dispatcher
	log            common.Logger
	connectTimeout time.Duration
	commandTimeout time.Duration
	password       string

	// cmdMu serialises SendCommand callers.
	cmdMu sync.Mutex

	mu           sync.Mutex
	session      *session
	status       common.ConnectionStatus
	banner       string
	onDisconnect DisconnectHandler
	onEventError EventErrorHandler
}

// Option configures a Client.
type Option func(*Client)

// WithRegistry sets the event kinds the receiver recognises.
func WithRegistry(r *events.Registry) Option {
	return func(c *Client) { c.registry = r }
}

// WithCompletionPolicy replaces DefaultCompletionRules.
func WithCompletionPolicy(p CompletionPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l common.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithConnectTimeout bounds dialing and the banner handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithCommandTimeout bounds commands whose context has no deadline.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Client) { c.commandTimeout = d }
}

// WithPassword answers the management password prompt.
func WithPassword(password string) Option {
	return func(c *Client) { c.password = password }
}

// NewClient validates addr and builds a disconnected client.
func NewClient(addr Address, opts ...Option) (*Client, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		addr:           addr,
		connectTimeout: common.ConnectionTimeout,
		commandTimeout: common.CommandTimeout,
		status:         common.StatusDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = events.DefaultRegistry()
	}
	if c.policy == nil {
		c.policy = DefaultCompletionRules()
	}
	if c.log == nil {
		c.log = common.Named("mgmt")
	}
	c.dispatcher = NewDispatcher(c.log)
	return c, nil
}

// Address returns the management address.
func (c *Client) Address() Address { return c.addr }

// Banner returns the >INFO line received on the last connect.
func (c *Client) Banner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.banner
}

// Status returns the connection status.
func (c *Client) Status() common.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports whether a session is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// SetDisconnectHandler sets the callback for unexpected connection loss.
func (c *Client) SetDisconnectHandler(h DisconnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = h
}

// SetEventErrorHandler sets the callback for unparseable event blocks.
// Such blocks are always logged and dropped.
func (c *Client) SetEventErrorHandler(h EventErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEventError = h
}

// RegisterCallback adds an event handler. It reports whether h was new;
// see Dispatcher.Register for which handlers are deduplicated.
func (c *Client) RegisterCallback(h Handler) bool {
	return c.dispatcher.Register(h)
}

// Connect opens the socket, checks the banner and starts the receiver and
// writer goroutines.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.session != nil || c.status == common.StatusConnecting {
		c.mu.Unlock()
		return common.ErrAlreadyConnected
	}
	c.status = common.StatusConnecting
	c.mu.Unlock()

	c.log.Debug("connecting to %s (%s)", c.addr, c.addr.Type())
	transport := NewTransport(c.addr, c.connectTimeout, c.password)
	banner, err := transport.Open(ctx)
	if err != nil {
		c.mu.Lock()
		c.status = common.StatusError
		c.mu.Unlock()
		c.log.Warn("connect to %s failed: %v", c.addr, err)
		return err
	}

	s := newSession(transport)
	c.mu.Lock()
	c.session = s
	c.banner = banner
	c.status = common.StatusConnected
	c.mu.Unlock()

	s.wg.Add(2)
	go c.receiveLoop(s, newDemux(c.registry.Kinds()))
	go s.writeLoop()

	c.log.Info("connected to %s", c.addr)
	return nil
}

// Disconnect stops the session. With sendQuit the quit command is written
// first and no reply is awaited.
func (c *Client) Disconnect(sendQuit bool) error {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return nil
	}
	c.session = nil
	c.status = common.StatusDisconnecting
	c.mu.Unlock()

	if sendQuit {
		ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
		if err := s.write(ctx, "quit\n"); err != nil {
			c.log.Debug("quit not sent: %v", err)
		}
		cancel()
	}

	s.shutdown(common.ErrNotConnected)

	c.mu.Lock()
	c.status = common.StatusDisconnected
	c.mu.Unlock()
	c.log.Info("disconnected from %s", c.addr)
	return nil
}

// SendCommand writes cmd and returns its response lines joined with
// newlines. Only one command runs at a time; concurrent callers queue.
// A context that expires while waiting tears the connection down, since
// the stream cannot be resynchronised. A reply starting with ERROR: is
// returned together with a *common.CommandError.
func (c *Client) SendCommand(ctx context.Context, cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	if strings.ContainsAny(cmd, "\r\n") {
		return "", fmt.Errorf("%w: command %q spans more than one line", common.ErrInvalidConfig, cmd)
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return "", common.ErrNotConnected
	}

	if _, ok := ctx.Deadline(); !ok && c.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.commandTimeout)
		defer cancel()
	}

	completion := c.policy.CompletionFor(cmd)
	if rules, ok := c.policy.(*CompletionRules); ok {
		if _, explicit := rules.Lookup(cmd); !explicit {
			c.log.Debug("no explicit completion rule for %q, using %s", cmd, completion)
		}
	}

	for _, stale := range s.responses.drain() {
		c.log.Debug("discarding unsolicited line: %q", stale)
	}

	c.log.Debug("sending cmd: %q (%s)", cmd, completion)
	if err := s.write(ctx, cmd+"\n"); err != nil {
		return "", c.commandFailed(s, cmd, err)
	}
	if completion == NoResponse {
		return "", nil
	}

	var lines []string
	for {
		line, err := s.responses.pop(ctx)
		if err != nil {
			return "", c.commandFailed(s, cmd, err)
		}
		lines = append(lines, line)
		if completion == FirstLine || responseDone(lines) {
			break
		}
	}

	resp := joinResponse(lines)
	c.log.Debug("cmd response: %q", resp)
	if strings.HasPrefix(lines[0], common.ErrorPrefix) {
		return resp, &common.CommandError{Command: cmd, Reply: strings.TrimSpace(lines[0])}
	}
	return resp, nil
}

// commandFailed maps a command-path error and tears the session down on
// timeout.
func (c *Client) commandFailed(s *session, cmd string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		c.log.Warn("command %q abandoned (%v), closing connection", cmd, err)
		c.drop(s, fmt.Errorf("%w: %s", common.ErrTimeout, cmd), false)
		return fmt.Errorf("%w: command %q: %v", common.ErrTimeout, cmd, err)
	}
	return err
}

// drop detaches s if it is still current and shuts it down.
func (c *Client) drop(s *session, cause error, notify bool) {
	c.mu.Lock()
	current := c.session == s
	if current {
		c.session = nil
		c.status = common.StatusError
	}
	handler := c.onDisconnect
	c.mu.Unlock()

	s.shutdown(cause)

	if current && notify && handler != nil {
		handler(cause)
	}
}

// receiveLoop is the only reader of the transport. It owns the demux.
func (c *Client) receiveLoop(s *session, d *demux) {
	defer s.wg.Done()

	for {
		line, err := s.transport.ReadLine()
		if err != nil {
			if partial := d.reset(); len(partial) > 0 {
				c.log.Warn("discarding incomplete event (%d lines)", len(partial))
			}
			if s.stopping() {
				return
			}
			connErr := common.NewConnectError(c.addr.String(), err)
			c.log.Error("management connection lost: %v", err)
			s.responses.close(connErr)
			go c.drop(s, connErr, true)
			return
		}

		if line == "" {
			continue
		}

		res := d.feed(line)
		switch res.class {
		case classResponse:
			s.responses.push(line)
		case classEventPending:
			// buffered
		case classEventDone:
			if res.err != nil {
				c.eventFailed(res.kind, res.lines, res.err)
				continue
			}
			c.log.Debug("%s event received", res.kind.Name())
			c.dispatcher.Dispatch(res.event)
		}
	}
}

func (c *Client) eventFailed(kind events.Kind, lines []string, err error) {
	c.log.Warn("dropping malformed %s event (%d lines): %v", kind.Name(), len(lines), err)

	c.mu.Lock()
	handler := c.onEventError
	c.mu.Unlock()
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("event error handler panicked: %v", common.Recover(r))
		}
	}()
	handler(kind, lines, err)
}

// outbound is one write request for the writer goroutine.
type outbound struct {
	data string
	done chan error
}

// session is the per-connection state shared by the receiver, the writer
// and command callers.
type session struct {
	transport *Transport
	responses *lineQueue
	outbound  chan outbound
	stop      chan struct{}
	wg        sync.WaitGroup
	once      sync.Once
}

func newSession(t *Transport) *session {
	return &session{
		transport: t,
		responses: newLineQueue(),
		outbound:  make(chan outbound),
		stop:      make(chan struct{}),
	}
}

func (s *session) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// writeLoop drains outbound requests in submission order.
func (s *session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case o := <-s.outbound:
			err := s.transport.WriteRaw([]byte(o.data))
			if err != nil {
				err = fmt.Errorf("%w: write: %v", common.ErrConnectionFailed, err)
			}
			o.done <- err
		}
	}
}

// write hands data to the writer and waits until it hit the socket.
func (s *session) write(ctx context.Context, data string) error {
	o := outbound{data: data, done: make(chan error, 1)}
	select {
	case s.outbound <- o:
	case <-s.stop:
		return common.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-o.done:
		return err
	case <-s.stop:
		return common.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown stops both goroutines, joins them, then releases the socket.
// Pending and future pops fail with cause.
func (s *session) shutdown(cause error) {
	s.once.Do(func() {
		close(s.stop)
		s.transport.Interrupt()
		s.wg.Wait()
		if err := s.transport.Close(); err != nil {
			common.LogDebug("closing management socket: %v", err)
		}
		s.responses.close(cause)
	})
}
