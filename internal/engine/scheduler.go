package engine

import (
	"context"
	"log"
	"time"
)

// ReconcileScheduler runs the engine's bulk reconcile on a fixed interval,
// catching drift from events the service never saw.
type ReconcileScheduler struct {
	engine   *Engine
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
}

func NewReconcileScheduler(e *Engine, interval time.Duration) *ReconcileScheduler {
	return &ReconcileScheduler{engine: e, interval: interval}
}

// Start begins the background ticker. A non-positive interval disables
// periodic reconciliation; event handling and the host-triggered reconcile
// endpoint still work.
func (rs *ReconcileScheduler) Start() {
	if rs.interval <= 0 {
		log.Println("Reconcile scheduler disabled (interval <= 0)")
		return
	}
	rs.ticker = time.NewTicker(rs.interval)
	rs.done = make(chan struct{})
	go rs.run()
	log.Printf("Reconcile scheduler started (%s interval)", rs.interval)
}

// Stop halts the background ticker.
func (rs *ReconcileScheduler) Stop() {
	if rs.ticker != nil {
		rs.ticker.Stop()
	}
	if rs.done != nil {
		close(rs.done)
	}
}

func (rs *ReconcileScheduler) run() {
	for {
		select {
		case <-rs.done:
			return
		case <-rs.ticker.C:
			if err := rs.engine.Reconcile(context.Background()); err != nil {
				log.Printf("ERROR: scheduled reconcile: %v", err)
			}
		}
	}
}
