package engine

import (
	"testing"
	"time"
)

func TestSchedulerZeroIntervalDisabled(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeHost())

	// A zero interval must not panic on Start, and Stop must stay safe
	// with no ticker running.
	rs := NewReconcileScheduler(e, 0)
	rs.Start()
	rs.Stop()

	rs = NewReconcileScheduler(e, -time.Second)
	rs.Start()
	rs.Stop()
}

func TestSchedulerStartStop(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeHost())

	rs := NewReconcileScheduler(e, time.Hour)
	rs.Start()
	rs.Stop()
}
