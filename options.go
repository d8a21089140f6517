package contextpg

import (
	"fmt"
	"time"

	"github.com/contextpg/contextpg/hooks"
	"github.com/contextpg/contextpg/storage"
	"github.com/contextpg/contextpg/tokens"
)

// Option is a functional option for configuring a Manager
type Option func(*Manager) error

// WithLogger sets the logger used by the manager
func WithLogger(logger Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			return NewContextError("WithLogger", ErrInvalidConfig).
				WithContext("reason", "logger must not be nil")
		}
		m.logger = logger
		return nil
	}
}

// WithHooks sets the hook registry the manager triggers around compaction
func WithHooks(registry *hooks.Registry) Option {
	return func(m *Manager) error {
		if registry == nil {
			return NewContextError("WithHooks", ErrInvalidConfig).
				WithContext("reason", "registry must not be nil")
		}
		m.hooks = registry
		return nil
	}
}

// WithStore enables persistence of task state and compaction events
func WithStore(store storage.Store) Option {
	return func(m *Manager) error {
		m.store = store
		return nil
	}
}

// WithCounter sets an API-backed token counter used for reporting.
// Compaction decisions always use the deterministic estimator.
func WithCounter(counter *tokens.Counter) Option {
	return func(m *Manager) error {
		m.counter = counter
		return nil
	}
}

// WithNowFunc overrides the clock, for tests
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) error {
		if now == nil {
			return NewContextError("WithNowFunc", ErrInvalidConfig).
				WithContext("reason", "now func must not be nil")
		}
		m.now = now
		return nil
	}
}

// Options controls a single CompactContext call.
type Options struct {
	// MaxTokens is the token budget the trimmed history must fit (required).
	MaxTokens int

	// SafetyMargin is the fraction by which the recency guarantee may
	// overflow the budget before older kept messages are evicted again.
	// Defaults to DefaultSafetyMargin.
	SafetyMargin float64

	// PreserveTaskContext marks task-related messages for mandatory
	// preservation.
	PreserveTaskContext bool

	// PreserveToolOutputs marks tool-output messages for mandatory
	// preservation.
	PreserveToolOutputs bool

	// PreserveErrors marks error messages for mandatory preservation.
	PreserveErrors bool

	// MinRecentMessages is how many trailing messages are always retained,
	// even past the budget. Defaults to DefaultMinRecentMessages.
	MinRecentMessages int

	// TaskContinuationPrompts enables continuation prompt synthesis for
	// active tasks.
	TaskContinuationPrompts bool
}

// ApplyDefaults fills in default values for zero-valued fields.
func (o *Options) ApplyDefaults() {
	if o.SafetyMargin == 0 {
		o.SafetyMargin = DefaultSafetyMargin
	}
	if o.MinRecentMessages == 0 {
		o.MinRecentMessages = DefaultMinRecentMessages
	}
}

// Validate checks the options for contract violations.
func (o *Options) Validate() error {
	if o.MaxTokens <= 0 {
		return fmt.Errorf("%w: MaxTokens must be positive, got %d", ErrInvalidOptions, o.MaxTokens)
	}
	if o.SafetyMargin < 0 || o.SafetyMargin > 1 {
		return fmt.Errorf("%w: SafetyMargin must be in [0, 1], got %v", ErrInvalidOptions, o.SafetyMargin)
	}
	if o.MinRecentMessages < 0 {
		return fmt.Errorf("%w: MinRecentMessages must not be negative, got %d", ErrInvalidOptions, o.MinRecentMessages)
	}
	return nil
}
