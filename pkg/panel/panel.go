// Package panel wires the keypad, the call session and the actuators into
// the entry panel's call flow.
//
// A dialed number opens a session and announces the call. The server then
// drives the panel with commands: it may ask for a photo, accept the call
// (the door opens), reject it or report that the unit does not exist.
package panel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/intercom-panel/panel-go/pkg/command"
	"github.com/intercom-panel/panel-go/pkg/discovery"
	"github.com/intercom-panel/panel-go/pkg/door"
	"github.com/intercom-panel/panel-go/pkg/indicator"
	"github.com/intercom-panel/panel-go/pkg/keypad"
	"github.com/intercom-panel/panel-go/pkg/session"
)

// Wire protocol.
const (
	MsgStart    = "start"
	MsgCancel   = "cancel"
	MsgPhoto    = "photo"
	MsgAcceptOK = "accept_ok"
	MsgRejectOK = "reject_ok"
	MsgEnd      = "\n"

	CmdAccept   = "accept"
	CmdPhoto    = "photo"
	CmdReject   = "reject"
	CmdNotFound = "not_found"
)

const (
	// DefaultSendGap separates consecutive messages so the server reads
	// them as separate commands.
	DefaultSendGap = 500 * time.Millisecond

	// DefaultShowDuration is how long the indicator is lit on a refusal.
	DefaultShowDuration = time.Second
)

// Session is the call session used by the panel.
type Session interface {
	Connect(ctx context.Context, host string, port int) error
	SendText(s string) error
	SendPhoto() error
	WaitForMessage()
	Disconnect() error
	Wait()
	RegisterCommand(name string, h command.Handler) error
	OnDisconnect(fn session.DisconnectFunc)
}

// Indicator is the status LED.
type Indicator interface {
	SetBlinking(on bool)
	ShowFor(ctx context.Context, d time.Duration)
}

// Door opens the door.
type Door interface {
	Open(ctx context.Context) error
}

// Resolver finds the call server when no address is configured.
type Resolver interface {
	Resolve(ctx context.Context) (discovery.Endpoint, error)
}

// Runner is a long-running task started by Run.
type Runner interface {
	Run(ctx context.Context) error
}

// Config configures a Panel.
type Config struct {
	ServerHost string
	ServerPort int

	// Resolver is used when ServerHost is empty.
	Resolver Resolver

	SendGap      time.Duration
	ShowDuration time.Duration

	// Status is the door status output, driven low while the door opens.
	Status indicator.Pin

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Panel handles keypad submissions and server commands.
type Panel struct {
	session   Session
	indicator Indicator
	door      Door
	config    Config
	clock     clockwork.Clock
	logger    *slog.Logger

	mu  sync.Mutex
	ctx context.Context

	shows sync.WaitGroup
}

// New creates a Panel and registers its command and disconnect handlers
// on sess.
func New(sess Session, ind Indicator, door Door, config Config) (*Panel, error) {
	if config.SendGap <= 0 {
		config.SendGap = DefaultSendGap
	}
	if config.ShowDuration <= 0 {
		config.ShowDuration = DefaultShowDuration
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	p := &Panel{
		session:   sess,
		indicator: ind,
		door:      door,
		config:    config,
		clock:     config.Clock,
		logger:    config.Logger,
		ctx:       context.Background(),
	}

	handlers := []struct {
		name string
		fn   command.Handler
	}{
		{CmdAccept, p.handleAccept},
		{CmdPhoto, p.handlePhoto},
		{CmdReject, p.handleReject},
		{CmdNotFound, p.handleNotFound},
	}
	for _, h := range handlers {
		if err := sess.RegisterCommand(h.name, h.fn); err != nil {
			return nil, err
		}
	}
	sess.OnDisconnect(p.handleDisconnect)
	return p, nil
}

// Bind routes the accumulator's callbacks to the panel.
func (p *Panel) Bind(acc *keypad.Accumulator) {
	acc.OnNumberEntry(p.HandleNumber)
	acc.OnCancel(p.HandleCancel)
}

// Run starts the runners (scan loop, indicator) and blocks until ctx is
// done or one of them fails. The session is closed on return.
func (p *Panel) Run(ctx context.Context, runners ...Runner) error {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error { return r.Run(gctx) })
	}
	err := g.Wait()
	p.shows.Wait()

	if derr := p.session.Disconnect(); derr != nil {
		p.logger.Warn("disconnect on shutdown failed", "error", derr)
	}
	p.session.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Panel) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

// HandleNumber starts a call to number. A failed connect shows the
// indicator in the background so the keypad is not held up.
func (p *Panel) HandleNumber(number string) {
	p.logger.Info("calling", "number", number)
	ctx := p.context()

	host, port, err := p.server(ctx)
	if err == nil {
		err = p.session.Connect(ctx, host, port)
	}
	if err != nil {
		p.logger.Error("failed to start call", "number", number, "error", err)
		p.shows.Add(1)
		go func() {
			defer p.shows.Done()
			p.indicator.ShowFor(ctx, p.config.ShowDuration)
		}()
		return
	}

	p.send(MsgStart)
	p.gap()
	p.send(number)
	p.indicator.SetBlinking(true)
	p.session.WaitForMessage()
}

// HandleCancel abandons the current call.
func (p *Panel) HandleCancel() {
	p.logger.Info("call cancelled")
	p.send(MsgCancel)
	p.gap()
	p.send(MsgEnd)
	p.disconnect()
}

func (p *Panel) handlePhoto(string) {
	p.send(MsgPhoto)
	p.gap()
	if err := p.session.SendPhoto(); err != nil {
		p.logger.Error("photo not sent", "error", err)
	}
	p.session.WaitForMessage()
}

func (p *Panel) handleAccept(string) {
	p.logger.Info("call accepted")
	p.send(MsgAcceptOK)
	p.gap()
	p.send(MsgEnd)
	p.disconnect()

	p.setStatus(false)
	if err := p.door.Open(p.context()); err != nil {
		p.logger.Error("door did not open", "error", err)
	}
	p.setStatus(true)
}

func (p *Panel) handleReject(string) {
	p.logger.Info("call rejected")
	p.send(MsgRejectOK)
	p.gap()
	p.send(MsgEnd)
	p.disconnect()
	p.indicator.ShowFor(p.context(), p.config.ShowDuration)
}

func (p *Panel) handleNotFound(string) {
	p.logger.Info("unit not found")
	p.disconnect()
	p.indicator.ShowFor(p.context(), p.config.ShowDuration)
}

func (p *Panel) handleDisconnect(reason session.DisconnectReason) {
	p.indicator.SetBlinking(false)
	if reason == session.ReasonPeerClosed {
		p.disconnect()
	}
}

func (p *Panel) server(ctx context.Context) (string, int, error) {
	if p.config.ServerHost != "" || p.config.Resolver == nil {
		return p.config.ServerHost, p.config.ServerPort, nil
	}
	ep, err := p.config.Resolver.Resolve(ctx)
	if err != nil {
		return "", 0, err
	}
	return ep.Address(), ep.Port, nil
}

func (p *Panel) send(msg string) {
	if err := p.session.SendText(msg); err != nil {
		p.logger.Warn("send failed", "message", msg, "error", err)
	}
}

func (p *Panel) disconnect() {
	if err := p.session.Disconnect(); err != nil {
		p.logger.Warn("disconnect failed", "error", err)
	}
}

func (p *Panel) gap() {
	select {
	case <-p.context().Done():
	case <-p.clock.After(p.config.SendGap):
	}
}

func (p *Panel) setStatus(high bool) {
	if p.config.Status == nil {
		return
	}
	if err := p.config.Status.Out(high); err != nil {
		p.logger.Error("status pin write failed", "high", high, "error", err)
	}
}

var (
	_ Session   = (*session.Client)(nil)
	_ Indicator = (*indicator.Indicator)(nil)
	_ Door      = (*door.Actuator)(nil)
	_ Resolver  = (*discovery.Browser)(nil)
	_ Runner    = (*keypad.Loop)(nil)
	_ Runner    = (*indicator.Indicator)(nil)
)
