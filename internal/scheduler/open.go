package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DropFunc is told about every nominal slot that found no free worker.
type DropFunc func(nominal time.Time)

// OpenLoop issues requests at Rate per second on a nominal timetable,
// next = previous_nominal + interval, so a slow request never shifts later
// slots. At most MaxInFlight requests run at once; a slot that finds every
// worker busy is dropped and reported, never queued.
type OpenLoop struct {
	Rate        int
	MaxInFlight int
	OnDrop      DropFunc

	interval time.Duration
	inFlight atomic.Int64
	peak     atomic.Int64
	released atomic.Uint64
	dropped  atomic.Uint64
}

func NewOpenLoop(rate, maxInFlight int, onDrop DropFunc) *OpenLoop {
	return &OpenLoop{
		Rate:        rate,
		MaxInFlight: maxInFlight,
		OnDrop:      onDrop,
		interval:    openLoopInterval(rate),
	}
}

// openLoopInterval never returns 0, which would stall the timetable.
func openLoopInterval(rate int) time.Duration {
	if rate < 1 {
		rate = 1
	}
	return max(time.Second/time.Duration(rate), time.Nanosecond)
}

func (s *OpenLoop) Slots() int { return s.MaxInFlight }
func (s *OpenLoop) ExpectedInterval() time.Duration { return s.interval }

// InFlight is the number of requests currently outstanding.
func (s *OpenLoop) InFlight() int64 { return s.inFlight.Load() }

// PeakInFlight is the highest in-flight count observed.
func (s *OpenLoop) PeakInFlight() int64 { return s.peak.Load() }

// Released counts nominal slots handed to a worker.
func (s *OpenLoop) Released() uint64 { return s.released.Load() }

// Dropped counts nominal slots that hit the ceiling.
func (s *OpenLoop) Dropped() uint64 { return s.dropped.Load() }

func (s *OpenLoop) Run(ctx context.Context, sig Signals, issue IssueFunc) {
	idle := make(chan int, s.MaxInFlight)
	work := make([]chan time.Time, s.MaxInFlight)

	var g errgroup.Group
	for i := range work {
		slot := i
		work[slot] = make(chan time.Time, 1)
		idle <- slot
		g.Go(func() error {
			for nominal := range work[slot] {
				s.enter()
				more := issue(ctx, slot, nominal)
				s.inFlight.Add(-1)
				if !more {
					// retired: never handed out again
					continue
				}
				idle <- slot
			}
			return nil
		})
	}
	defer func() {
		for _, ch := range work {
			close(ch)
		}
		_ = g.Wait()
	}()

	rebase := sig.Rebase
	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-sig.Stop:
			return
		case <-ctx.Done():
			return
		case <-rebase:
			rebase = nil
			next = time.Now()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(0)
		case <-timer.C:
			now := time.Now()
			for !next.After(now) {
				if stopped(sig.Stop) {
					return
				}
				s.release(idle, work, next)
				next = next.Add(s.interval)
			}
			timer.Reset(next.Sub(now))
		}
	}
}

func (s *OpenLoop) release(idle chan int, work []chan time.Time, nominal time.Time) {
	select {
	case slot := <-idle:
		s.released.Add(1)
		work[slot] <- nominal
	default:
		s.dropped.Add(1)
		if s.OnDrop != nil {
			s.OnDrop(nominal)
		}
	}
}

func (s *OpenLoop) enter() {
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			return
		}
	}
}
