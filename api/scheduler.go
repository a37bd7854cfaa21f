/*
scheduler.go - Automated payday scheduler

PURPOSE:
  Periodically scans the roster for workers whose payment cycle has run
  longer than the configured pay interval and either flags them as due
  or, when auto-pay is enabled, settles them directly.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A worker is due when their cycle start is older than PayInterval
  - Workers with nothing harvested still settle to a zero payment,
    which resets their cycle like any other payment
  - Auto-pay goes through the same MarkPaid path as the API, so every
    settlement keeps full atomicity and cycle monotonicity

CONFIGURATION:
  - CheckInterval: How often to scan (default: 1 hour)
  - PayInterval:   Cycle length that makes a worker due (default: 7 days)
  - AutoPay:       Settle due workers automatically (default: false)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewPaydayScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: MarkPaid endpoint (manual settlement)
  - engine/earnings.go: PayRun
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tidewater/fleet-engine/engine"
)

// schedulerApprover is recorded as the approver on auto-paid settlements.
const schedulerApprover = "payday-scheduler"

// PaydayScheduler flags or settles workers whose cycle is past due.
type PaydayScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	PayInterval   time.Duration
	AutoPay       bool
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPaydayScheduler creates a new scheduler.
func NewPaydayScheduler(handler *Handler) *PaydayScheduler {
	return &PaydayScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		PayInterval:   7 * 24 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ps *PaydayScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.wg.Add(1)

	go ps.run()

	log.Printf("[Scheduler] Started with check interval: %v, pay interval: %v", ps.CheckInterval, ps.PayInterval)
}

// Stop stops the scheduler.
func (ps *PaydayScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ps *PaydayScheduler) run() {
	defer ps.wg.Done()

	// Run immediately on start
	ps.checkAndProcess()

	for {
		select {
		case <-ps.ticker.C:
			ps.checkAndProcess()
		case <-ps.stop:
			return
		}
	}
}

func (ps *PaydayScheduler) checkAndProcess() {
	ctx := context.Background()
	now := engine.Now()

	workers, err := ps.Handler.Roster.List(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing workers: %v", err)
		return
	}

	var due []engine.WorkerID
	for _, w := range workers {
		cycleStart, err := ps.Handler.Engine.CycleStart(ctx, w.ID)
		if err != nil {
			log.Printf("[Scheduler] Error getting cycle start for %s: %v", w.ID, err)
			continue
		}
		if now.Time.Sub(cycleStart.Time) < ps.PayInterval {
			continue
		}
		due = append(due, w.ID)
	}

	if len(due) == 0 {
		return
	}

	if !ps.AutoPay {
		log.Printf("[Scheduler] %d workers past due for payment: %v", len(due), due)
		return
	}

	results := ps.Handler.Engine.PayRun(ctx, due, schedulerApprover, now)
	paid := 0
	for _, res := range results {
		if res.Err != nil {
			log.Printf("[Scheduler] Error settling %s: %v", res.WorkerID, res.Err)
			continue
		}
		paid++
		log.Printf("[Scheduler] Settled %s: %s for %d units", res.WorkerID, res.Payment.AmountPaid, res.Payment.Quantity)
	}
	log.Printf("[Scheduler] Completed: %d settled, %d failed", paid, len(results)-paid)
}

// RunNow triggers an immediate check (for testing/admin).
func (ps *PaydayScheduler) RunNow() {
	ps.checkAndProcess()
}

// NextRunTime returns when the next scheduled check will occur.
func (ps *PaydayScheduler) NextRunTime() time.Time {
	return time.Now().Add(ps.CheckInterval)
}
