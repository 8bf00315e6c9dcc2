package stats

import (
	"sync/atomic"
	"time"

	"xferbench/internal/outcome"
)

// Counters tallies outcomes. Writes come from a single owning worker; the
// atomics only let the live view read them without stopping that worker.
type Counters struct {
	kinds   [outcome.NumKinds]atomic.Uint64
	reasons [outcome.NumReasons]atomic.Uint64
	retries atomic.Uint64
}

func (c *Counters) Add(o outcome.Outcome, retries int) {
	c.kinds[o.Kind].Add(1)
	if o.Reason != outcome.None {
		c.reasons[o.Reason].Add(1)
	}
	if retries > 0 {
		c.retries.Add(uint64(retries))
	}
}

func (c *Counters) Completed() uint64 { return c.kinds[outcome.Completed].Load() }
func (c *Counters) Rejected() uint64  { return c.kinds[outcome.Rejected].Load() }
func (c *Counters) Failed() uint64    { return c.kinds[outcome.Failed].Load() }
func (c *Counters) Retries() uint64   { return c.retries.Load() }

// Snapshot copies the current values.
func (c *Counters) Snapshot() CounterSnapshot {
	s := CounterSnapshot{
		Completed: c.Completed(),
		Rejected:  c.Rejected(),
		Failed:    c.Failed(),
		Retries:   c.Retries(),
	}
	for r := outcome.InsufficientBalance; int(r) < outcome.NumReasons; r++ {
		if n := c.reasons[r].Load(); n > 0 {
			if s.Reasons == nil {
				s.Reasons = make(map[string]uint64)
			}
			s.Reasons[r.String()] = n
		}
	}
	return s
}

// CounterSnapshot is the immutable, serializable form of Counters.
type CounterSnapshot struct {
	Completed uint64            `json:"completed"`
	Rejected  uint64            `json:"rejected"`
	Failed    uint64            `json:"failed"`
	Dropped   uint64            `json:"dropped"`
	Retries   uint64            `json:"retries"`
	Reasons   map[string]uint64 `json:"reasons,omitempty"`
}

// Add sums o into s.
func (s *CounterSnapshot) Add(o CounterSnapshot) {
	s.Completed += o.Completed
	s.Rejected += o.Rejected
	s.Failed += o.Failed
	s.Dropped += o.Dropped
	s.Retries += o.Retries
	for k, v := range o.Reasons {
		if s.Reasons == nil {
			s.Reasons = make(map[string]uint64)
		}
		s.Reasons[k] += v
	}
}

// Total counts issued requests. Dropped requests were never issued.
func (s CounterSnapshot) Total() uint64 {
	return s.Completed + s.Rejected + s.Failed
}

// Succeeded counts requests that contribute to throughput.
func (s CounterSnapshot) Succeeded() uint64 {
	return s.Completed + s.Rejected
}

// ErrorRate is failed / (completed + rejected + failed), 0 when nothing ran.
func (s CounterSnapshot) ErrorRate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(total)
}

// Recorder is the per-worker, per-phase accumulator: outcome counters plus
// the latency histogram of requests that succeeded.
type Recorder struct {
	Counters
	Latency *SafeHistogram
}

func NewRecorder() *Recorder {
	return &Recorder{Latency: NewSafeHistogram()}
}

// Observe records one classified request. Failed requests are counted but
// kept out of the latency distribution. A non-zero expected interval turns
// on coordinated-omission correction.
func (r *Recorder) Observe(o outcome.Outcome, retries int, latency, expected time.Duration) error {
	r.Counters.Add(o, retries)
	if !o.Succeeded() {
		return nil
	}
	if expected > 0 {
		return r.Latency.RecordCorrected(latency, expected)
	}
	return r.Latency.Record(latency)
}
