package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intercom-panel/panel-go/pkg/camera"
	"github.com/intercom-panel/panel-go/pkg/command"
	"github.com/intercom-panel/panel-go/pkg/log"
	"github.com/intercom-panel/panel-go/pkg/transport"
)

// DefaultReceiveBufferSize matches the panel's fixed receive buffer; one
// byte is reserved, so a single read returns at most 127 bytes.
const DefaultReceiveBufferSize = 128

// Session errors.
var (
	// ErrAlreadyConnected is returned by Connect while a session is open.
	ErrAlreadyConnected = errors.New("session already connected")

	// ErrConnectInProgress is returned by Connect while another Connect dials.
	ErrConnectInProgress = errors.New("session connect in progress")

	// ErrNotConnected is returned by sends without an open session.
	ErrNotConnected = errors.New("session not connected")

	// ErrNoCamera is returned by SendPhoto when no camera is configured.
	ErrNoCamera = errors.New("no camera configured")

	// ErrNoFrame is returned by SendPhoto when capture fails.
	ErrNoFrame = errors.New("camera capture failed")
)

// Config configures a Client.
type Config struct {
	// ConnectTimeout bounds dialing when the context has no deadline.
	ConnectTimeout time.Duration

	// ReceiveTimeout bounds a single WaitForMessage read. Zero waits forever.
	ReceiveTimeout time.Duration

	// ReceiveBufferSize is the receive buffer size including the reserved byte.
	ReceiveBufferSize int

	// MaxFrameSize bounds a photo frame.
	MaxFrameSize uint32

	// Camera supplies photos for SendPhoto (optional).
	Camera camera.Source

	// Commands dispatches inbound commands. A default registry is created if nil.
	Commands *command.Registry

	// Logger for operational messages. Defaults to slog.Default().
	Logger *slog.Logger

	// Capture receives session events (optional).
	Capture log.Logger
}

// Client holds at most one connection to the call server.
//
// Sends are best effort and never force a disconnect. Inbound messages are
// read one at a time by WaitForMessage and dispatched to Commands.
type Client struct {
	config   Config
	commands *command.Registry
	logger   *slog.Logger
	capture  log.Logger

	mu        sync.Mutex
	state     State
	dialing   bool
	closing   bool
	notified  bool
	conn      net.Conn
	sessionID string
	remote    string

	sendMu    sync.Mutex
	waitGuard chan struct{}
	wg        sync.WaitGroup

	cbMu         sync.Mutex
	onDisconnect DisconnectFunc
}

// NewClient creates a disconnected client.
func NewClient(config Config) *Client {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = transport.DefaultConnectTimeout
	}
	if config.ReceiveBufferSize < 2 {
		config.ReceiveBufferSize = DefaultReceiveBufferSize
	}
	if config.MaxFrameSize == 0 {
		config.MaxFrameSize = transport.DefaultMaxMessageSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	commands := config.Commands
	if commands == nil {
		commands = command.NewRegistry(command.DefaultCapacity, config.Logger)
	}
	return &Client{
		config:    config,
		commands:  commands,
		logger:    config.Logger,
		capture:   log.OrNoop(config.Capture),
		waitGuard: make(chan struct{}, 1),
	}
}

// OnDisconnect sets the disconnect callback, replacing any previous one.
func (c *Client) OnDisconnect(fn DisconnectFunc) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onDisconnect = fn
}

// RegisterCommand adds an inbound command handler.
func (c *Client) RegisterCommand(name string, h command.Handler) error {
	return c.commands.Register(name, h)
}

// Commands returns the inbound command registry.
func (c *Client) Commands() *command.Registry {
	return c.commands
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the current session's ID, or "" when disconnected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// RemoteAddr returns the server address of the current session.
func (c *Client) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Connect opens a session to host:port.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		c.logger.Error("connect refused, session already open", "remote", c.RemoteAddr())
		return ErrAlreadyConnected
	}
	if c.dialing {
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.dialing = true
	c.mu.Unlock()

	address := transport.JoinHostPort(host, port)
	conn, err := transport.Dial(ctx, address, c.config.ConnectTimeout)

	c.mu.Lock()
	c.dialing = false
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("unable to connect", "remote", address, "error", err)
		c.recordError(address, "", err, "connect")
		return err
	}
	c.state = StateConnected
	c.conn = conn
	c.sessionID = uuid.New().String()
	c.remote = conn.RemoteAddr().String()
	c.notified = false
	sid, remote := c.sessionID, c.remote
	c.mu.Unlock()

	c.logger.Info("connected", "remote", remote, "session_id", sid)
	c.recordState(sid, remote, StateDisconnected, StateConnected, "")
	return nil
}

// current returns the open connection and its identity.
func (c *Client) current() (net.Conn, string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.sessionID, c.remote
}

// SendText writes s in full.
func (c *Client) SendText(s string) error {
	conn, sid, remote := c.current()
	if conn == nil {
		c.logger.Error("send refused, not connected", "text", s)
		return ErrNotConnected
	}

	c.sendMu.Lock()
	_, err := transport.WriteFull(conn, []byte(s))
	c.sendMu.Unlock()
	if err != nil {
		c.logger.Error("send failed", "text", s, "error", err)
		c.recordError(remote, sid, err, "send text")
		return fmt.Errorf("send %q: %w", s, err)
	}

	c.capture.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  sid,
		RemoteAddr: remote,
		Direction:  log.DirectionOut,
		Layer:      log.LayerSession,
		Category:   log.CategoryMessage,
		Message:    &log.MessageEvent{Text: s},
	})
	return nil
}

// SendPhoto captures a frame and sends it length-prefixed. The frame is
// released on every path.
func (c *Client) SendPhoto() error {
	conn, sid, remote := c.current()
	if conn == nil {
		c.logger.Error("photo refused, not connected")
		return ErrNotConnected
	}
	if c.config.Camera == nil {
		return ErrNoCamera
	}

	frame, err := c.config.Camera.Capture()
	if err != nil {
		c.logger.Error("camera capture failed", "error", err)
		c.recordError(remote, sid, err, "capture")
		return fmt.Errorf("%w: %w", ErrNoFrame, err)
	}
	defer c.config.Camera.Release(frame)

	fw := transport.NewFrameWriterWithMaxSize(conn, c.config.MaxFrameSize)
	fw.SetLogger(c.capture, sid)

	c.sendMu.Lock()
	err = fw.WriteFrame(frame.Data)
	c.sendMu.Unlock()
	if err != nil {
		c.logger.Error("photo send failed", "bytes", len(frame.Data), "error", err)
		c.recordError(remote, sid, err, "send photo")
		return err
	}

	c.logger.Info("photo sent", "bytes", len(frame.Data))
	return nil
}

// WaitForMessage starts one background receive and returns immediately.
// Receives are single-flight: a second call queues behind the first, so a
// command handler may call WaitForMessage again to await the next command.
func (c *Client) WaitForMessage() {
	c.wg.Add(1)
	go c.receiveOnce()
}

// Wait blocks until every receive started by WaitForMessage has finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) receiveOnce() {
	defer c.wg.Done()

	c.waitGuard <- struct{}{}
	defer func() { <-c.waitGuard }()

	conn, sid, remote := c.current()
	if conn == nil {
		c.logger.Warn("receive skipped, not connected")
		return
	}

	if c.config.ReceiveTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReceiveTimeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, c.config.ReceiveBufferSize-1)
	n, err := conn.Read(buf)

	switch {
	case n > 0:
		c.dispatch(sid, remote, string(buf[:n]))
	case errors.Is(err, io.EOF):
		c.peerClosed(conn, sid, remote)
	case errors.Is(err, net.ErrClosed):
		c.logger.Debug("receive ended by local disconnect")
	case err != nil:
		c.logger.Error("receive failed", "remote", remote, "error", err)
		c.recordError(remote, sid, err, "receive")
	}
}

func (c *Client) dispatch(sid, remote, msg string) {
	c.logger.Info("received", "bytes", len(msg), "command", msg)

	handler, ok := c.commands.Lookup(msg)
	c.capture.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  sid,
		RemoteAddr: remote,
		Direction:  log.DirectionIn,
		Layer:      log.LayerSession,
		Category:   log.CategoryMessage,
		Message:    &log.MessageEvent{Text: msg, Handled: ok},
	})
	if !ok {
		c.logger.Warn("no handler registered for command", "command", msg)
		return
	}
	handler(msg)
}

func (c *Client) peerClosed(conn net.Conn, sid, remote string) {
	c.mu.Lock()
	if c.conn != conn || c.closing {
		// Read side shut down by Disconnect.
		c.mu.Unlock()
		c.logger.Debug("receive ended by local disconnect")
		return
	}
	notify := !c.notified
	c.notified = true
	c.mu.Unlock()

	c.logger.Warn("connection closed by server", "remote", remote)
	c.recordState(sid, remote, StateConnected, StateConnected, ReasonPeerClosed.String())
	if notify {
		c.notifyDisconnect(ReasonPeerClosed)
	}
}

// Disconnect closes the session. The disconnect callback runs before the
// socket is shut down, at most once per session. Calling Disconnect without
// an open session, or while another Disconnect is in progress, does nothing.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state != StateConnected || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	notify := !c.notified
	c.notified = true
	conn, sid, remote := c.conn, c.sessionID, c.remote
	c.mu.Unlock()

	if notify {
		c.notifyDisconnect(ReasonLocal)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseRead()
	}
	err := conn.Close()

	c.mu.Lock()
	c.state = StateDisconnected
	c.closing = false
	c.conn = nil
	c.sessionID = ""
	c.remote = ""
	c.mu.Unlock()

	c.logger.Info("disconnected", "remote", remote, "session_id", sid)
	c.recordState(sid, remote, StateConnected, StateDisconnected, ReasonLocal.String())
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (c *Client) notifyDisconnect(reason DisconnectReason) {
	c.cbMu.Lock()
	fn := c.onDisconnect
	c.cbMu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

func (c *Client) recordState(sid, remote string, from, to State, reason string) {
	c.capture.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  sid,
		RemoteAddr: remote,
		Layer:      log.LayerSession,
		Category:   log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

func (c *Client) recordError(remote, sid string, err error, op string) {
	c.capture.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  sid,
		RemoteAddr: remote,
		Layer:      log.LayerSession,
		Category:   log.CategoryError,
		Error:      &log.ErrorEventData{Layer: log.LayerSession, Message: err.Error(), Context: op},
	})
}
