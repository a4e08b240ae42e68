// Package command maps inbound text commands to handlers.
package command

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultCapacity is the number of handlers a registry accepts.
const DefaultCapacity = 10

// Registry errors.
var (
	// ErrRegistryFull is returned when the registry is at capacity.
	ErrRegistryFull = errors.New("command registry full")

	// ErrEmptyName is returned for a registration without a name.
	ErrEmptyName = errors.New("command name is empty")

	// ErrNilHandler is returned for a registration without a handler.
	ErrNilHandler = errors.New("command handler is nil")
)

// Handler is invoked with the raw command text.
type Handler func(command string)

type entry struct {
	name    string
	handler Handler
}

// Registry is a fixed-capacity, insert-only list of command handlers.
// Registering a name twice appends a second entry; the first one registered
// keeps winning. It is safe for concurrent use, and handlers run outside the
// registry lock so they may register further commands.
type Registry struct {
	mu       sync.RWMutex
	entries  []entry
	capacity int
	logger   *slog.Logger
}

// NewRegistry creates a registry holding up to capacity handlers.
// A capacity of zero or less means DefaultCapacity.
func NewRegistry(capacity int, logger *slog.Logger) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:  make([]entry, 0, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Register appends a handler for name.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return ErrEmptyName
	}
	if h == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.capacity {
		r.logger.Error("cannot register command", "name", name, "capacity", r.capacity)
		return fmt.Errorf("register %q: %w", name, ErrRegistryFull)
	}
	r.entries = append(r.entries, entry{name: name, handler: h})
	return nil
}

// Lookup returns the first handler registered for an exact,
// case-sensitive match of cmd.
func (r *Registry) Lookup(cmd string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.name == cmd {
			return e.handler, true
		}
	}
	return nil, false
}

// Dispatch invokes the handler for cmd. Unknown commands are logged and
// dropped; the return value reports whether a handler ran.
func (r *Registry) Dispatch(cmd string) bool {
	h, ok := r.Lookup(cmd)
	if !ok {
		r.logger.Warn("unknown command", "command", cmd)
		return false
	}
	h(cmd)
	return true
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
