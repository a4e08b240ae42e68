// Package log provides structured activity capture for the entry panel.
//
// Capture is separate from operational logging (slog). It records a
// machine-readable trace of keypad input, session traffic, and actuator
// changes that can be replayed with the panel-log tool.
//
// # Basic Usage
//
//	// For development: capture to console via slog
//	capture := log.NewSlogAdapter(slog.Default())
//
//	// In the field: write to a binary file
//	capture, _ := log.NewFileLogger("/var/log/panel/panel.plog")
//
//	// Both
//	capture = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at three layers:
//   - Keypad: key presses and submissions (KeyEvent)
//   - Session: text commands (MessageEvent) and photo frames (FrameEvent)
//   - Actuator: door relay and indicator (StateChangeEvent)
//
// State changes and errors can occur at any layer.
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with the .plog extension.
package log
