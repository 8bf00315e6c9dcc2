// Package scheduler decides when requests are issued. ClosedLoop keeps a
// fixed number of workers busy back to back; OpenLoop releases requests on a
// nominal timetable and drops them when the in-flight ceiling is reached.
package scheduler

import (
	"context"
	"time"
)

// IssueFunc performs one request on behalf of worker slot and blocks until it
// completes. issued is the request's issue time: wall clock for ClosedLoop,
// the nominal timetable slot for OpenLoop. It returns false once the run is
// over, after which the slot issues nothing more.
type IssueFunc func(ctx context.Context, slot int, issued time.Time) bool

// Signals are the phase events a scheduler reacts to.
type Signals struct {
	// Stop is closed when no new request may be issued.
	Stop <-chan struct{}
	// Rebase is closed at the warmup boundary. OpenLoop re-anchors its
	// nominal timetable there.
	Rebase <-chan struct{}
}

type Scheduler interface {
	// Run issues requests until Stop closes, then waits for every in-flight
	// request to finish before returning.
	Run(ctx context.Context, sig Signals, issue IssueFunc)
	// Slots is the number of worker slots, each of which owns its own
	// recorder.
	Slots() int
	// ExpectedInterval is the nominal inter-arrival time, 0 for ClosedLoop.
	ExpectedInterval() time.Duration
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
