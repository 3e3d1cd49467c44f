package castellan

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/castellan-ai/castellan/internal/eventbus"
	"github.com/castellan-ai/castellan/internal/logging"
)

// Castellan is the main entry point into the runtime. It encapsulates the
// components required for running one task end to end: plan, validate,
// execute, synthesize, persist.
type Castellan struct {
	planner     Planner
	validator   Validator
	executor    Executor
	synthesizer Synthesizer
	sink        TraceSink
	bus         eventbus.Bus
	logger      logging.Logger

	config Config

	// Async processing
	asyncRuns   map[string]*ProcessContext
	asyncRunsMu sync.RWMutex
}

// Config holds the runtime options for a Castellan instance.
type Config struct {
	// Enable/disable the in-process event bus
	EnableEventBus bool

	// Event bus configuration
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 2,
	}
}

// Option is a function that configures a Castellan instance.
type Option func(*Castellan)

// WithConfig sets the runtime configuration.
func WithConfig(config Config) Option {
	return func(c *Castellan) {
		c.config = config
	}
}

// WithPlanner sets the planner component.
func WithPlanner(planner Planner) Option {
	return func(c *Castellan) {
		c.planner = planner
	}
}

// WithValidator sets the validator component.
func WithValidator(validator Validator) Option {
	return func(c *Castellan) {
		c.validator = validator
	}
}

// WithExecutor sets the executor component.
func WithExecutor(executor Executor) Option {
	return func(c *Castellan) {
		c.executor = executor
	}
}

// WithSynthesizer sets the synthesizer component.
func WithSynthesizer(synthesizer Synthesizer) Option {
	return func(c *Castellan) {
		c.synthesizer = synthesizer
	}
}

// WithTraceSink sets the trace sink. Without one, responses are not persisted.
func WithTraceSink(sink TraceSink) Option {
	return func(c *Castellan) {
		c.sink = sink
	}
}

// WithEventBus sets a pre-built event bus instead of the default one.
func WithEventBus(bus eventbus.Bus) Option {
	return func(c *Castellan) {
		c.bus = bus
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Castellan) {
		c.logger = logger
	}
}

// New creates a Castellan instance with the provided options.
func New(options ...Option) (*Castellan, error) {
	c := &Castellan{
		config:    DefaultConfig(),
		asyncRuns: make(map[string]*ProcessContext),
	}

	for _, option := range options {
		option(c)
	}

	if c.planner == nil {
		return nil, NewConfigurationError("planner is required", nil)
	}
	if c.validator == nil {
		return nil, NewConfigurationError("validator is required", nil)
	}
	if c.executor == nil {
		return nil, NewConfigurationError("executor is required", nil)
	}
	if c.synthesizer == nil {
		return nil, NewConfigurationError("synthesizer is required", nil)
	}
	if c.logger == nil {
		c.logger = &logging.StdLogger{}
	}
	if c.config.EnableEventBus && c.bus == nil {
		c.bus = eventbus.NewChannelBus(
			eventbus.WithBufferSize(c.config.EventBusBufferSize),
			eventbus.WithWorkerCount(c.config.EventBusWorkerCount),
		)
	}

	return c, nil
}

// Execute runs one task end to end and returns its response. The returned
// error is always a *Error carrying the failed stage and code.
func (c *Castellan) Execute(ctx context.Context, request TaskRequest) (*TaskResponse, error) {
	pCtx := NewProcessContext(uuid.New().String(), request.Task, request.Context)
	return c.createStateMachine().Execute(ctx, pCtx)
}

// Close releases runtime resources. Only the event bus holds any.
func (c *Castellan) Close() error {
	if c.bus != nil {
		return c.bus.Close()
	}
	return nil
}

func (c *Castellan) createStateMachine() *StateMachine {
	var bus eventbus.Bus
	if c.config.EnableEventBus {
		bus = c.bus
	}
	return CreateStateMachine(Components{
		Planner:     c.planner,
		Validator:   c.validator,
		Executor:    c.executor,
		Synthesizer: c.synthesizer,
		Sink:        c.sink,
		Logger:      c.logger,
	}, bus)
}
