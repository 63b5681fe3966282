// Package execution carries the per-run execution context shared by the
// optimizer, codecs and oracles: the inference device, the seeded random
// streams, the run logger and the tracer. It replaces process-wide globals;
// its lifetime is tied to a single optimization run.
package execution

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for run spans.
const TracerName = "github.com/thalesfsp/latentbo"

// Context is the explicit execution context handed to Codec and Oracle
// constructors.
type Context struct {
	// RunID identifies the run in logs, metrics and checkpoints.
	RunID string

	// Device names the inference device (e.g. "cpu", "cuda:0"). Codecs and
	// oracles that run models must honor it; others may ignore it.
	Device string

	// RNG provides isolated seeded random streams per subsystem.
	RNG *PartitionedRNG

	// Logger is the run logger, pre-populated with the run_id field.
	Logger *logrus.Entry

	// Tracer emits spans around the loop phases.
	Tracer trace.Tracer
}

// Option customizes a Context.
type Option func(*Context)

// WithLogger sets the base logger. The run_id field is added on top.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Context) {
		c.Logger = logrus.NewEntry(l)
	}
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Context) {
		c.Tracer = t
	}
}

// WithRunID pins the run identifier, used when resuming a checkpointed run.
func WithRunID(id string) Option {
	return func(c *Context) {
		c.RunID = id
	}
}

// New builds a Context for device seeded by seed. A zero seed is replaced by
// the current time so unseeded runs differ.
func New(device string, seed int64, opts ...Option) *Context {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	if device == "" {
		device = "cpu"
	}

	c := &Context{
		RunID:  uuid.NewString(),
		Device: device,
		RNG:    NewPartitionedRNG(seed),
		Logger: logrus.NewEntry(logrus.StandardLogger()),
		Tracer: otel.Tracer(TracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Logger = c.Logger.WithField("run_id", c.RunID)

	return c
}
