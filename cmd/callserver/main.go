// Command callserver is a development call server for the panel.
//
// It accepts one panel at a time, prints what the panel sends and lets the
// operator answer the call from a prompt.
//
// Usage:
//
//	callserver [flags]
//
// Examples:
//
//	# Listen on the default port and save photos
//	callserver --photos ./photos
//
//	# Advertise over mDNS so panels with server.discover find it
//	callserver --advertise --instance lobby
package main

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	flag "github.com/spf13/pflag"

	"github.com/intercom-panel/panel-go/internal/callserver"
	"github.com/intercom-panel/panel-go/pkg/discovery"
	"github.com/intercom-panel/panel-go/pkg/log"
)

var (
	port      = flag.IntP("port", "p", 3001, "Listen port")
	advertise = flag.Bool("advertise", false, "Advertise the server over mDNS")
	instance  = flag.String("instance", "callserver", "mDNS instance name")
	iface     = flag.String("interface", "", "Network interface for mDNS (default all)")
	photos    = flag.String("photos", "", "Directory to save received photos")
	capture   = flag.String("capture", "", "Write a capture file for panel-log")
	debug     = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "server> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		stdlog.Fatalf("Failed to create readline: %v", err)
	}
	defer rl.Close()
	out := rl.Stdout()
	stdlog.SetOutput(out)
	stdlog.SetFlags(stdlog.Ltime)

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	var sink log.Logger
	if *capture != "" {
		fl, err := log.NewFileLogger(*capture)
		if err != nil {
			stdlog.Fatalf("Failed to open capture file: %v", err)
		}
		defer fl.Close()
		sink = fl
	}

	srv, err := callserver.New(callserver.Config{
		Address:  fmt.Sprintf(":%d", *port),
		PhotoDir: *photos,
		OnEvent:  func(ev callserver.Event) { printEvent(out, ev) },
		Logger:   logger,
		Capture:  sink,
	})
	if err != nil {
		stdlog.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
	defer srv.Stop()
	stdlog.Printf("Call server listening on port %d", srv.Port())

	if *advertise {
		adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Interface: *iface})
		if err := adv.Advertise(*instance, srv.Port(), "proto=1"); err != nil {
			stdlog.Printf("Warning: mDNS advertising failed: %v", err)
		} else {
			defer adv.Stop()
			stdlog.Printf("Advertising %s as %q", discovery.ServiceType, *instance)
		}
	}

	printHelp(out)
	go func() {
		<-ctx.Done()
		_ = rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			break
		}
		if quit := execute(srv, out, line); quit {
			break
		}
	}
	stdlog.Println("Goodbye!")
	return 0
}

type operator interface {
	Answer(answer string) error
	Hangup() error
	InCall() bool
}

// execute runs one operator command and reports whether to quit.
func execute(srv operator, out io.Writer, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "accept", "a", "reject", "r", "photo", "p", "not_found", "n":
		answer := map[string]string{"a": "accept", "r": "reject", "p": "photo", "n": "not_found"}[cmd]
		if answer == "" {
			answer = cmd
		}
		if err := srv.Answer(answer); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	case "hangup", "h":
		if err := srv.Hangup(); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	case "status", "s":
		if srv.InCall() {
			fmt.Fprintln(out, "In call")
		} else {
			fmt.Fprintln(out, "Waiting for a panel")
		}
	case "help", "?":
		printHelp(out)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help')\n", cmd)
	}
	return false
}

func printHelp(out io.Writer) {
	fmt.Fprint(out, `
Commands:
  accept (a)      Open the door
  reject (r)      Reject the call
  photo (p)       Request a photo from the panel
  not_found (n)   Report the number as unknown
  hangup (h)      Close the panel's connection
  status (s)      Show whether a panel is connected
  help            Show this help
  quit            Stop the server
`)
}

func printEvent(out io.Writer, ev callserver.Event) {
	id := ev.CallID
	if len(id) > 8 {
		id = id[:8]
	}
	switch ev.Kind {
	case callserver.EventConnected:
		fmt.Fprintf(out, "[%s] panel connected from %s\n", id, ev.Remote)
	case callserver.EventRefused:
		fmt.Fprintf(out, "[%s] refused %s: a call is in progress\n", id, ev.Remote)
	case callserver.EventStarted:
		fmt.Fprintf(out, "[%s] call started\n", id)
	case callserver.EventNumber:
		fmt.Fprintf(out, "[%s] visitor dialled %s (answer with accept, reject, photo or not_found)\n", id, ev.Text)
	case callserver.EventCancelled:
		fmt.Fprintf(out, "[%s] visitor cancelled\n", id)
	case callserver.EventPhoto:
		if ev.PhotoPath != "" {
			fmt.Fprintf(out, "[%s] photo received: %d bytes, saved to %s\n", id, len(ev.Photo), ev.PhotoPath)
		} else {
			fmt.Fprintf(out, "[%s] photo received: %d bytes\n", id, len(ev.Photo))
		}
	case callserver.EventAck:
		fmt.Fprintf(out, "[%s] panel acknowledged: %s\n", id, ev.Text)
	case callserver.EventText:
		fmt.Fprintf(out, "[%s] panel sent %q\n", id, ev.Text)
	case callserver.EventClosed:
		fmt.Fprintf(out, "[%s] call ended\n", id)
	}
}

var _ operator = (*callserver.Server)(nil)
