// Command panel runs the entry-panel intercom controller.
//
// It scans the keypad, calls the call server with the entered apartment
// number and follows the server's commands: it sends a photo, opens the
// door or signals a rejected call.
//
// Usage:
//
//	panel [flags]
//
// Flags:
//
//	--config string     Configuration file path
//	--log-level string  Log level: debug, info, warn, error
//	--simulate          Replace the hardware with a simulated keypad and camera
//	--capture string    Write a capture file for panel-log
//	--server string     Call server address (host:port)
//
// Examples:
//
//	# Run on the panel hardware
//	panel --config /etc/panel/panel.yaml
//
//	# Try the call flow on a workstation against a local callserver
//	panel --simulate --server 127.0.0.1:3001 --log-level debug
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/intercom-panel/panel-go/cmd/panel/interactive"
	"github.com/intercom-panel/panel-go/internal/config"
	"github.com/intercom-panel/panel-go/pkg/discovery"
	"github.com/intercom-panel/panel-go/pkg/door"
	"github.com/intercom-panel/panel-go/pkg/expander"
	"github.com/intercom-panel/panel-go/pkg/indicator"
	"github.com/intercom-panel/panel-go/pkg/keypad"
	"github.com/intercom-panel/panel-go/pkg/log"
	"github.com/intercom-panel/panel-go/pkg/panel"
	"github.com/intercom-panel/panel-go/pkg/session"
)

type options struct {
	ConfigFile string
	LogLevel   string
	Simulate   bool
	Capture    string
	Server     string
}

var opts options

func init() {
	flag.StringVarP(&opts.ConfigFile, "config", "c", "", "Configuration file path")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.BoolVar(&opts.Simulate, "simulate", false, "Replace the hardware with a simulated keypad and camera")
	flag.StringVar(&opts.Capture, "capture", "", "Write a capture file for panel-log (overrides config)")
	flag.StringVar(&opts.Server, "server", "", "Call server address host:port (overrides config)")
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(opts.ConfigFile, opts.apply)
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	logOut := &switchWriter{w: os.Stderr}
	logger := newLogger(cfg.LogLevel, logOut)
	slog.SetDefault(logger)

	stdlog.Println("Intercom Panel")
	stdlog.Println("==============")
	if cfg.Server.Host != "" {
		stdlog.Printf("Call server: %s", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
	} else {
		stdlog.Printf("Call server: discovered via mDNS (%s)", discovery.ServiceType)
	}
	if opts.Simulate {
		stdlog.Println("Mode: simulation")
	}

	var history *log.MemoryLogger
	if opts.Simulate {
		history = log.NewMemoryLogger(500)
	}
	capture, closeCapture, err := openCapture(cfg, logger, history)
	if err != nil {
		stdlog.Fatalf("Failed to open capture file: %v", err)
	}
	defer closeCapture()

	rig, err := openRig(cfg, opts.Simulate, logger)
	if err != nil {
		stdlog.Fatalf("Failed to open hardware: %v", err)
	}
	defer rig.Close()

	cam, err := newCamera(cfg)
	if err != nil {
		stdlog.Fatalf("Failed to set up camera: %v", err)
	}

	layout, _ := cfg.KeypadLayout()
	latch := expander.NewLatch(rig.Port)
	lock := keypad.NewScanLock(capture)
	scanner := keypad.NewScanner(latch, lock, keypad.ScannerConfig{
		Layout:      layout,
		SettleDelay: cfg.Keypad.SettleDelay,
		ReleasePoll: cfg.Keypad.ReleasePoll,
		Logger:      logger.With("component", "scanner"),
		Capture:     capture,
	})
	acc := keypad.NewAccumulator(keypad.AccumulatorConfig{
		Capacity:          cfg.Keypad.BufferCapacity,
		InactivityTimeout: cfg.Keypad.InactivityTimeout,
		Logger:            logger.With("component", "keypad"),
		Capture:           capture,
	})
	defer acc.Stop()
	loop := keypad.NewLoop(scanner, lock, acc, keypad.LoopConfig{
		ScanInterval: cfg.Keypad.ScanInterval,
		Debounce:     cfg.Keypad.Debounce,
		Logger:       logger.With("component", "scanner"),
	})

	client := session.NewClient(session.Config{
		ConnectTimeout: cfg.Server.ConnectTimeout,
		ReceiveTimeout: cfg.Server.ReceiveTimeout,
		Camera:         cam,
		Logger:         logger.With("component", "session"),
		Capture:        capture,
	})
	ind := indicator.New(rig.LED, indicator.Config{
		BlinkInterval: cfg.Hardware.BlinkInterval,
		Logger:        logger.With("component", "indicator"),
		Capture:       capture,
	})
	if rig.Flash != nil {
		flash := indicator.NewFlash(rig.Flash, cfg.Hardware.FlashLevel, logger.With("component", "flash"), capture)
		if err := flash.On(); err == nil {
			defer flash.Off()
		}
	}
	relay := door.New(latch, lock, door.Config{
		RelayMask: cfg.Hardware.RelayMask,
		Hold:      cfg.Hardware.DoorHold,
		Logger:    logger.With("component", "door"),
		Capture:   capture,
	})

	pcfg := panel.Config{
		ServerHost:   cfg.Server.Host,
		ServerPort:   cfg.Server.Port,
		SendGap:      cfg.Call.SendGap,
		ShowDuration: cfg.Call.ShowDuration,
		Status:       rig.Status,
		Logger:       logger.With("component", "panel"),
	}
	if cfg.Server.Discover {
		pcfg.Resolver = discovery.NewBrowser(discovery.BrowserConfig{
			Interface: cfg.Server.Interface,
			Instance:  cfg.Server.Instance,
			Logger:    logger.With("component", "discovery"),
		})
	}
	p, err := panel.New(client, ind, relay, pcfg)
	if err != nil {
		stdlog.Fatalf("Failed to create panel: %v", err)
	}
	p.Bind(acc)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.Simulate {
		console, err := interactive.New(interactive.Config{
			Matrix:      rig.Matrix,
			Latch:       latch,
			Lock:        lock,
			Accumulator: acc,
			Session:     client,
			Indicator:   ind,
			History:     history,
		})
		if err != nil {
			stdlog.Fatalf("Failed to start console: %v", err)
		}
		logOut.set(console.Stdout())
		stdlog.SetOutput(console.Stdout())
		go console.Run(ctx, cancel)
	}

	stdlog.Println("Panel running, press Ctrl+C to stop")
	if err := p.Run(ctx, loop, ind); err != nil {
		stdlog.Printf("Panel stopped: %v", err)
		return 1
	}
	stdlog.Println("Goodbye!")
	return 0
}

// apply copies the flags that were set onto the loaded configuration.
func (o options) apply(cfg *config.Config) error {
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Capture != "" {
		cfg.Capture.File = o.Capture
	}
	if o.Simulate && cfg.Camera.Source == "command" {
		cfg.Camera.Source = "static"
	}
	if o.Server != "" {
		host, port, err := net.SplitHostPort(o.Server)
		if err != nil {
			return fmt.Errorf("--server: %w", err)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("--server: bad port %q", port)
		}
		cfg.Server.Host = host
		cfg.Server.Port = n
	}
	return nil
}

func newLogger(level string, w *switchWriter) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// openCapture returns the capture sink: the capture file if configured,
// mirrored into the log at debug level, plus history when it is non-nil.
func openCapture(cfg *config.Config, logger *slog.Logger, history *log.MemoryLogger) (log.Logger, func(), error) {
	var sinks []log.Logger
	closeFn := func() {}
	if history != nil {
		sinks = append(sinks, history)
	}

	if cfg.Capture.File != "" {
		fl, err := log.NewFileLogger(cfg.Capture.File)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fl)
		closeFn = func() {
			if n := fl.Dropped(); n > 0 {
				logger.Warn("capture events dropped", "count", n)
			}
			_ = fl.Close()
		}
		stdlog.Printf("Capturing to %s", cfg.Capture.File)
	}
	if cfg.LogLevel == "debug" {
		sinks = append(sinks, log.NewSlogAdapter(logger.With("component", "capture")))
	}

	switch len(sinks) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return sinks[0], closeFn, nil
	default:
		return log.NewMultiLogger(sinks...), closeFn, nil
	}
}
