package keypad

import "github.com/intercom-panel/panel-go/pkg/expander"

// Key is a single keypad key, or KeyNone.
type Key byte

// Special keys.
const (
	KeyNone   Key = 0
	KeySubmit Key = '*'
	KeyCancel Key = '#'
)

// DefaultLayout is the standard telephone keypad.
var DefaultLayout = expander.Layout{
	{'1', '2', '3'},
	{'4', '5', '6'},
	{'7', '8', '9'},
	{'*', '0', '#'},
}

// IsDigit reports whether k is 0-9.
func (k Key) IsDigit() bool {
	return k >= '0' && k <= '9'
}

// Valid reports whether k is a key that can appear on the keypad.
func (k Key) Valid() bool {
	return k.IsDigit() || k == KeySubmit || k == KeyCancel
}

// String returns the key character, or "none".
func (k Key) String() string {
	if k == KeyNone {
		return "none"
	}
	return string(rune(k))
}
