// Package callserver is a development call server. It accepts one panel at
// a time, reports what the panel sends and lets an operator answer the call.
package callserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/intercom-panel/panel-go/pkg/log"
	"github.com/intercom-panel/panel-go/pkg/transport"
)

// Server errors.
var (
	// ErrNoCall is returned by Answer when no panel is connected.
	ErrNoCall = errors.New("callserver: no call in progress")

	// ErrUnknownAnswer is returned by Answer for an unsupported command.
	ErrUnknownAnswer = errors.New("callserver: unknown answer")
)

// Answers the operator can give.
var Answers = []string{"accept", "reject", "photo", "not_found"}

// EventKind classifies server events.
type EventKind uint8

const (
	EventConnected EventKind = iota
	EventRefused
	EventStarted
	EventNumber
	EventCancelled
	EventPhoto
	EventAck
	EventText
	EventClosed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventRefused:
		return "refused"
	case EventStarted:
		return "started"
	case EventNumber:
		return "number"
	case EventCancelled:
		return "cancelled"
	case EventPhoto:
		return "photo"
	case EventAck:
		return "ack"
	case EventText:
		return "text"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event reports panel activity.
type Event struct {
	Kind   EventKind
	CallID string
	Remote string
	Text   string

	// Photo is set for EventPhoto.
	Photo     []byte
	PhotoPath string
}

// Config configures a Server.
type Config struct {
	// Address to listen on, e.g. ":3001".
	Address string

	// PhotoDir, if set, receives every uploaded photo as a JPEG file.
	PhotoDir string

	MaxFrameSize uint32

	// OnEvent receives events from connection goroutines.
	OnEvent func(Event)

	Logger  *slog.Logger
	Capture log.Logger
}

type call struct {
	id         string
	remote     string
	conn       *transport.ServerConn
	started    bool
	awaitPhoto bool
	photos     int
}

// Server is the development call server.
type Server struct {
	config Config
	logger *slog.Logger
	srv    *transport.Server

	mu      sync.Mutex
	current *call
}

// New creates a Server.
func New(config Config) (*Server, error) {
	if config.MaxFrameSize == 0 {
		config.MaxFrameSize = transport.DefaultMaxMessageSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	s := &Server{config: config, logger: config.Logger}

	srv, err := transport.NewServer(transport.ServerConfig{
		Address: config.Address,
		Logger:  config.Capture,
		Handle:  s.handle,
		OnError: func(err error) { s.logger.Warn("accept failed", "error", err) },
	})
	if err != nil {
		return nil, err
	}
	s.srv = srv
	return s, nil
}

// Start begins accepting panels.
func (s *Server) Start(ctx context.Context) error {
	if s.config.PhotoDir != "" {
		if err := os.MkdirAll(s.config.PhotoDir, 0o755); err != nil {
			return fmt.Errorf("callserver: photo dir: %w", err)
		}
	}
	return s.srv.Start(ctx)
}

// Stop closes the listener and any connected panel.
func (s *Server) Stop() error {
	return s.srv.Stop()
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.srv.Port()
}

// InCall reports whether a panel is connected.
func (s *Server) InCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Answer sends an operator answer to the connected panel.
func (s *Server) Answer(answer string) error {
	known := false
	for _, a := range Answers {
		if a == answer {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownAnswer, answer)
	}

	s.mu.Lock()
	c := s.current
	if c != nil && answer == "photo" {
		c.awaitPhoto = true
	}
	s.mu.Unlock()
	if c == nil {
		return ErrNoCall
	}

	if _, err := transport.WriteFull(c.conn, []byte(answer)); err != nil {
		return fmt.Errorf("callserver: answer %s: %w", answer, err)
	}
	s.logger.Info("answered", "call", c.id, "answer", answer)
	return nil
}

// Hangup closes the connected panel's session from the server side.
func (s *Server) Hangup() error {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		return ErrNoCall
	}
	return c.conn.Close()
}

func (s *Server) handle(ctx context.Context, conn *transport.ServerConn) {
	c := &call{id: conn.ConnID(), remote: conn.RemoteAddr().String(), conn: conn}

	s.mu.Lock()
	busy := s.current != nil
	if !busy {
		s.current = c
	}
	s.mu.Unlock()
	if busy {
		s.logger.Warn("refusing second panel", "remote", c.remote)
		s.emit(c, Event{Kind: EventRefused})
		return
	}

	defer func() {
		s.mu.Lock()
		if s.current == c {
			s.current = nil
		}
		s.mu.Unlock()
		s.emit(c, Event{Kind: EventClosed})
	}()

	s.logger.Info("panel connected", "call", c.id, "remote", c.remote)
	s.emit(c, Event{Kind: EventConnected})

	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		msg := string(buf[:n])
		if s.message(c, msg) {
			if err := s.receivePhoto(c); err != nil {
				s.logger.Error("photo upload failed", "call", c.id, "error", err)
				return
			}
		}
	}
}

// message handles one inbound text and reports whether a photo frame follows.
func (s *Server) message(c *call, msg string) bool {
	switch {
	case msg == "\n":
		return false
	case msg == "cancel":
		s.emit(c, Event{Kind: EventCancelled, Text: msg})
	case msg == "accept_ok" || msg == "reject_ok":
		s.emit(c, Event{Kind: EventAck, Text: msg})
	case msg == "photo":
		s.mu.Lock()
		await := c.awaitPhoto
		c.awaitPhoto = false
		s.mu.Unlock()
		if await {
			return true
		}
		s.emit(c, Event{Kind: EventText, Text: msg})
	case strings.HasPrefix(msg, "start"):
		c.started = true
		s.emit(c, Event{Kind: EventStarted})
		// "start" and the number can arrive in one read.
		if rest := strings.TrimPrefix(msg, "start"); rest != "" {
			s.emit(c, Event{Kind: EventNumber, Text: rest})
		}
	case c.started && isNumber(msg):
		s.emit(c, Event{Kind: EventNumber, Text: msg})
	default:
		s.emit(c, Event{Kind: EventText, Text: msg})
	}
	return false
}

func (s *Server) receivePhoto(c *call) error {
	fr := transport.NewFrameReaderWithMaxSize(c.conn, s.config.MaxFrameSize)
	fr.SetLogger(s.config.Capture, c.id)
	data, err := fr.ReadFrame()
	if err != nil {
		return err
	}

	ev := Event{Kind: EventPhoto, Photo: data}
	if s.config.PhotoDir != "" {
		c.photos++
		name := fmt.Sprintf("%s-%s-%d.jpg", time.Now().Format("20060102-150405"), c.id[:8], c.photos)
		path := filepath.Join(s.config.PhotoDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			s.logger.Error("saving photo failed", "path", path, "error", err)
		} else {
			ev.PhotoPath = path
		}
	}
	s.logger.Info("photo received", "call", c.id, "bytes", len(data), "path", ev.PhotoPath)
	s.emit(c, ev)
	return nil
}

func (s *Server) emit(c *call, ev Event) {
	ev.CallID = c.id
	ev.Remote = c.remote
	if s.config.OnEvent != nil {
		s.config.OnEvent(ev)
	}
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
