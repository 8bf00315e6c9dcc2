// Package phase drives the Warmup -> Measurement -> Done clock of one run.
package phase

import (
	"context"
	"sync/atomic"
	"time"
)

type Phase uint32

const (
	Warmup Phase = iota
	Measurement
	Done
)

func (p Phase) String() string {
	switch p {
	case Warmup:
		return "warmup"
	case Measurement:
		return "measurement"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Tag identifies where a sample belongs.
type Tag struct {
	RunID string
	Phase Phase
}

// Controller transitions purely on elapsed wall-clock time since Start. It
// never looks at request outcomes.
type Controller struct {
	runID       string
	warmup      time.Duration
	measurement time.Duration

	state     atomic.Uint32
	started   atomic.Int64 // unix nanos
	measuring chan struct{}
	done      chan struct{}
}

func NewController(runID string, warmup, measurement time.Duration) *Controller {
	return &Controller{
		runID:       runID,
		warmup:      warmup,
		measurement: measurement,
		measuring:   make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run starts the clock and blocks until Done. Cancelling ctx ends the run
// early; the controller still moves to Done so issuers stop.
func (c *Controller) Run(ctx context.Context) {
	c.started.Store(time.Now().UnixNano())
	defer c.finish()

	if c.warmup > 0 {
		t := time.NewTimer(c.warmup)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	c.state.Store(uint32(Measurement))
	close(c.measuring)

	t := time.NewTimer(c.measurement)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Controller) finish() {
	c.state.Store(uint32(Done))
	close(c.done)
}

// Current is the phase at this instant. Issuers read it once per request,
// at issue time, and carry the result with the request.
func (c *Controller) Current() Phase { return Phase(c.state.Load()) }

func (c *Controller) Tag() Tag { return Tag{RunID: c.runID, Phase: c.Current()} }

func (c *Controller) RunID() string { return c.runID }

// Measuring is closed at the Warmup -> Measurement boundary.
func (c *Controller) Measuring() <-chan struct{} { return c.measuring }

// Done is closed when no new request may be issued.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Elapsed is the time since Start, zero before it.
func (c *Controller) Elapsed() time.Duration {
	s := c.started.Load()
	if s == 0 {
		return 0
	}
	return time.Since(time.Unix(0, s))
}

// Total is the configured length of the run.
func (c *Controller) Total() time.Duration { return c.warmup + c.measurement }

func (c *Controller) WarmupDuration() time.Duration { return c.warmup }
func (c *Controller) MeasurementDuration() time.Duration { return c.measurement }
