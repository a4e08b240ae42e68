// Command panel-log views and analyzes panel capture files.
//
// Capture files are written by the panel when it runs with --capture or
// capture.file set.
//
// Usage:
//
//	panel-log <command> [flags] <file.plog>
//
// Examples:
//
//	# View all events
//	panel-log view panel.plog
//
//	# View only what the call server sent
//	panel-log view --layer session --direction in panel.plog
//
//	# Extract one call into its own file
//	panel-log filter --session abc12345-... -o call.plog panel.plog
//
//	# Show statistics
//	panel-log stats panel.plog
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/intercom-panel/panel-go/cmd/panel-log/commands"
)

const usage = `panel-log - Intercom Panel Capture Viewer

Usage:
  panel-log <command> [flags] <file.plog>

Commands:
  view     View capture file in human-readable format
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "panel-log <command> --help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "panel-log %s - %s\n\nUsage:\n  panel-log %s [flags] <file.plog>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

func capturePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := newFlagSet("view", "View capture file in human-readable format")
	layer := fs.StringP("layer", "l", "", "Filter by layer (keypad, session, actuator)")
	direction := fs.StringP("direction", "d", "", "Filter by direction (in, out)")
	category := fs.StringP("category", "c", "", "Filter by category (key, message, frame, state, error)")
	session := fs.StringP("session", "s", "", "Filter by session ID")
	_ = fs.Parse(args)
	path := capturePath(fs)

	filter := commands.ViewFilter{SessionID: *session}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter capture file and write to new file")
	var opts commands.FilterOptions
	fs.StringVarP(&opts.Output, "output", "o", "", "Output file (required)")
	fs.StringVarP(&opts.SessionID, "session", "s", "", "Filter by session ID")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Events at or after this RFC3339 time")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Events before this RFC3339 time")
	fs.StringVarP(&opts.Layer, "layer", "l", "", "Filter by layer (keypad, session, actuator)")
	fs.StringVarP(&opts.Direction, "direction", "d", "", "Filter by direction (in, out)")
	fs.StringVarP(&opts.Category, "category", "c", "", "Filter by category (key, message, frame, state, error)")
	_ = fs.Parse(args)
	path := capturePath(fs)

	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: --output is required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, opts.Output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the capture file")
	_ = fs.Parse(args)
	path := capturePath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
