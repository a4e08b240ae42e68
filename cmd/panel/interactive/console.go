// Package interactive provides the console used by the panel in simulation
// mode: keys are typed at a prompt instead of pressed on the matrix.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/intercom-panel/panel-go/pkg/expander"
	"github.com/intercom-panel/panel-go/pkg/indicator"
	"github.com/intercom-panel/panel-go/pkg/keypad"
	"github.com/intercom-panel/panel-go/pkg/log"
	"github.com/intercom-panel/panel-go/pkg/session"
)

// Console defaults.
const (
	// DefaultKeyTimeout bounds how long press waits for the scanner to pick
	// up one key.
	DefaultKeyTimeout = 2 * time.Second

	// DefaultHistory is how many events history shows without an argument.
	DefaultHistory = 20

	// DefaultKeyGap is the pause after each key. It must exceed the
	// scanner's release poll or a repeated key merges with the previous one.
	DefaultKeyGap = 50 * time.Millisecond
)

// Config wires the console to the simulated panel.
type Config struct {
	Matrix      *expander.Matrix
	Latch       *expander.Latch
	Lock        *keypad.ScanLock
	Accumulator *keypad.Accumulator
	Session     *session.Client
	Indicator   *indicator.Indicator

	// History, if set, backs the history command.
	History *log.MemoryLogger

	// KeyTimeout is the per-key wait in press.
	KeyTimeout time.Duration
	KeyGap     time.Duration
}

// Console handles interactive mode for the panel.
type Console struct {
	config Config
	rl     *readline.Instance
	out    io.Writer

	// Engaged by the lock command, so unlock only releases its own hold.
	held bool
}

// New creates a console with its own readline prompt.
func New(cfg Config) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "panel> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newConsole(cfg, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(cfg Config, out io.Writer) *Console {
	if cfg.KeyTimeout <= 0 {
		cfg.KeyTimeout = DefaultKeyTimeout
	}
	if cfg.KeyGap <= 0 {
		cfg.KeyGap = DefaultKeyGap
	}
	return &Console{config: cfg, out: out}
}

// Stdout returns a writer that keeps log output clear of the prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run reads commands until quit, EOF or ctx ends, then calls cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	defer cancel()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			return
		}
		if c.Execute(ctx, line) {
			return
		}
	}
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "press", "p":
		c.cmdPress(ctx, args)
	case "lock":
		c.cmdLock()
	case "unlock":
		c.cmdUnlock()
	case "status", "s":
		c.cmdStatus()
	case "history", "h":
		c.cmdHistory(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help')\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `
Commands:
  press <keys>   Type keys on the keypad, e.g. "press 1234*" ('*' submits, '#' cancels)
  lock           Engage the scan lock (keys are ignored)
  unlock         Release a lock taken with 'lock'
  status         Show session, keypad and indicator state
  history [n]    Show the last n captured events
  help           Show this help
  quit           Stop the panel
`)
}

func (c *Console) cmdPress(ctx context.Context, args []string) {
	keys := strings.Join(args, "")
	if keys == "" {
		fmt.Fprintln(c.out, "Usage: press <keys>")
		return
	}
	for i := 0; i < len(keys); i++ {
		k := keys[i]
		if !keypad.Key(k).Valid() {
			fmt.Fprintf(c.out, "Skipping %q: not a keypad key\n", k)
			continue
		}
		if err := c.config.Matrix.Tap(k); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		if !c.waitScanned(ctx, k) {
			fmt.Fprintf(c.out, "Key %q was not scanned (lock engaged: %t)\n", k, c.config.Lock.Engaged())
			return
		}
	}
}

// waitScanned polls until the scanner has consumed the tapped key.
func (c *Console) waitScanned(ctx context.Context, k byte) bool {
	deadline := time.NewTimer(c.config.KeyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for !c.config.Matrix.Idle() {
		select {
		case <-ctx.Done():
			c.config.Matrix.Release(k)
			return false
		case <-deadline.C:
			c.config.Matrix.Release(k)
			return false
		case <-tick.C:
		}
	}

	gap := time.NewTimer(c.config.KeyGap)
	defer gap.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-gap.C:
		return true
	}
}

func (c *Console) cmdLock() {
	if c.held {
		fmt.Fprintln(c.out, "Scan lock already held by the console")
		return
	}
	c.config.Lock.Engage()
	c.held = true
	fmt.Fprintln(c.out, "Scan lock engaged")
}

func (c *Console) cmdUnlock() {
	if !c.held {
		fmt.Fprintln(c.out, "Scan lock is not held by the console")
		return
	}
	c.config.Lock.Release()
	c.held = false
	fmt.Fprintln(c.out, "Scan lock released")
}

func (c *Console) cmdStatus() {
	fmt.Fprintln(c.out)
	if s := c.config.Session; s != nil {
		fmt.Fprintf(c.out, "Session:     %s\n", s.State())
		if id := s.SessionID(); id != "" {
			fmt.Fprintf(c.out, "  ID:        %s\n", id)
			fmt.Fprintf(c.out, "  Server:    %s\n", s.RemoteAddr())
		}
	}
	if a := c.config.Accumulator; a != nil {
		fmt.Fprintf(c.out, "Keypad:      %s", a.State())
		if b := a.Buffered(); b != "" {
			fmt.Fprintf(c.out, " [%s]", b)
		}
		fmt.Fprintln(c.out)
	}
	fmt.Fprintf(c.out, "Scan lock:   %t\n", c.config.Lock.Engaged())
	if l := c.config.Latch; l != nil {
		fmt.Fprintf(c.out, "Expander:    0x%02x\n", l.Output())
	}
	if ind := c.config.Indicator; ind != nil {
		level := "unknown"
		if high, ok := ind.Level(); ok {
			level = "off"
			if high {
				level = "on"
			}
		}
		fmt.Fprintf(c.out, "Indicator:   %s (blinking: %t, showing: %t)\n", level, ind.Blinking(), ind.Showing())
	}
	fmt.Fprintln(c.out)
}

func (c *Console) cmdHistory(args []string) {
	if c.config.History == nil {
		fmt.Fprintln(c.out, "History is not recorded")
		return
	}
	n := DefaultHistory
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			fmt.Fprintf(c.out, "Invalid count: %s\n", args[0])
			return
		}
		n = v
	}

	events := c.config.History.Events()
	if len(events) > n {
		events = events[len(events)-n:]
	}
	for _, e := range events {
		fmt.Fprintf(c.out, "%s %-3s %-8s %s\n", e.Timestamp.Format("15:04:05.000"), e.Direction, e.Layer, describe(e))
	}
}

func describe(e log.Event) string {
	switch {
	case e.Key != nil:
		if e.Key.Number != "" {
			return fmt.Sprintf("%s %s", e.Key.Action, e.Key.Number)
		}
		return fmt.Sprintf("%s %s", e.Key.Action, e.Key.Key)
	case e.Message != nil:
		return strconv.Quote(e.Message.Text)
	case e.Frame != nil:
		return fmt.Sprintf("frame %d bytes", e.Frame.Size)
	case e.StateChange != nil:
		return fmt.Sprintf("%s %s -> %s", e.StateChange.Entity, e.StateChange.OldState, e.StateChange.NewState)
	case e.Error != nil:
		return "error: " + e.Error.Message
	default:
		return e.Category.String()
	}
}
