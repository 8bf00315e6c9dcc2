package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// ClosedLoop runs Workers goroutines, each issuing its next request only once
// the previous one has completed. No artificial delay is added.
type ClosedLoop struct {
	Workers int
}

func NewClosedLoop(workers int) *ClosedLoop {
	return &ClosedLoop{Workers: workers}
}

func (s *ClosedLoop) Slots() int { return s.Workers }
func (s *ClosedLoop) ExpectedInterval() time.Duration { return 0 }

func (s *ClosedLoop) Run(ctx context.Context, sig Signals, issue IssueFunc) {
	var g errgroup.Group
	for i := 0; i < s.Workers; i++ {
		slot := i
		g.Go(func() error {
			for {
				if stopped(sig.Stop) || ctx.Err() != nil {
					return nil
				}
				if !issue(ctx, slot, time.Now()) {
					return nil
				}
			}
		})
	}
	_ = g.Wait()
}
