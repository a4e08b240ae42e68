package log

import (
	"time"
)

// Event represents a panel activity event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the call session (UUID). Empty outside a session.
	SessionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates flow relative to the panel.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the call server address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Key         *KeyEvent         `cbor:"10,keyasint,omitempty"` // Keypad layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Session layer (text)
	Frame       *FrameEvent       `cbor:"12,keyasint,omitempty"` // Session layer (photo)
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"` // Any state machine
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of flow.
type Direction uint8

const (
	// DirectionNone marks events without a flow, such as state changes and
	// errors.
	DirectionNone Direction = 0
	// DirectionIn indicates input to the panel (key press, server command).
	DirectionIn Direction = 1
	// DirectionOut indicates output from the panel (sent text, photo).
	DirectionOut Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionNone:
		return "-"
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the panel captured the event.
type Layer uint8

const (
	// LayerKeypad is the scanner and input accumulator.
	LayerKeypad Layer = 0
	// LayerSession is the call server session.
	LayerSession Layer = 1
	// LayerActuator covers the door relay and the indicator.
	LayerActuator Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerKeypad:
		return "KEYPAD"
	case LayerSession:
		return "SESSION"
	case LayerActuator:
		return "ACTUATOR"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryKey indicates a keypad input event.
	CategoryKey Category = 0
	// CategoryMessage indicates a text message sent or received.
	CategoryMessage Category = 1
	// CategoryFrame indicates a length-prefixed binary frame.
	CategoryFrame Category = 2
	// CategoryState indicates a state change.
	CategoryState Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryKey:
		return "KEY"
	case CategoryMessage:
		return "MESSAGE"
	case CategoryFrame:
		return "FRAME"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// KeyEvent captures keypad input and what the accumulator did with it.
type KeyEvent struct {
	// Action taken for this input.
	Action KeyAction `cbor:"1,keyasint"`

	// Key is the pressed key (empty for timer-driven submissions).
	Key string `cbor:"2,keyasint,omitempty"`

	// Number is the submitted digit string (Submitted and TimedOut only).
	Number string `cbor:"3,keyasint,omitempty"`
}

// KeyAction describes how a key event was handled.
type KeyAction uint8

const (
	// KeyActionAppended indicates a digit was added to the buffer.
	KeyActionAppended KeyAction = 0
	// KeyActionDropped indicates a digit was dropped because the buffer was full.
	KeyActionDropped KeyAction = 1
	// KeyActionSubmitted indicates '*' submitted the buffer.
	KeyActionSubmitted KeyAction = 2
	// KeyActionCancelled indicates '#' cleared the buffer.
	KeyActionCancelled KeyAction = 3
	// KeyActionTimedOut indicates the inactivity timer submitted the buffer.
	KeyActionTimedOut KeyAction = 4
	// KeyActionSuppressed indicates a key was ignored while the scan lock was engaged.
	KeyActionSuppressed KeyAction = 5
)

// String returns the key action name.
func (a KeyAction) String() string {
	switch a {
	case KeyActionAppended:
		return "APPENDED"
	case KeyActionDropped:
		return "DROPPED"
	case KeyActionSubmitted:
		return "SUBMITTED"
	case KeyActionCancelled:
		return "CANCELLED"
	case KeyActionTimedOut:
		return "TIMED_OUT"
	case KeyActionSuppressed:
		return "SUPPRESSED"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent captures a text message on the session.
type MessageEvent struct {
	// Text is the message content.
	Text string `cbor:"1,keyasint"`

	// Handled reports whether an inbound command matched a handler.
	Handled bool `cbor:"2,keyasint,omitempty"`
}

// FrameEvent captures a binary frame on the session.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw payload bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 0
	// StateEntityScanLock indicates the keypad scan lock was engaged or released.
	StateEntityScanLock StateEntity = 1
	// StateEntityDoor indicates a door relay change.
	StateEntityDoor StateEntity = 2
	// StateEntityIndicator indicates an indicator mode change.
	StateEntityIndicator StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntityScanLock:
		return "SCAN_LOCK"
	case StateEntityDoor:
		return "DOOR"
	case StateEntityIndicator:
		return "INDICATOR"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
