/*
sweeper.go - Background release of expired reservation locks

PURPOSE:
  Periodically scans for slots whose reservation lock has passed its
  expiry and returns the held capacity unit to the pool. This is the
  self-healing path for abandoned booking attempts: a cashier closes
  the terminal mid-form, the lock expires, the sweeper frees the unit.

DESIGN:
  - Runs a background goroutine with configurable sweep interval
  - Each pass delegates to SlotManager.SweepExpired
  - Expiry is also checked lazily at commit time, so correctness does
    not depend on sweep frequency; the sweeper only bounds how long a
    unit stays invisible to other devotees

USAGE:
  sweeper := NewLockSweeper(slots, cfg.SweepInterval)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - counter/slot.go: SweepExpired and the lock lifecycle
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/devasthan/seva-counter/counter"
)

// LockSweeper releases expired slot reservation locks on a schedule.
type LockSweeper struct {
	Slots    *counter.SlotManager
	Interval time.Duration

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewLockSweeper creates a new sweeper.
func NewLockSweeper(slots *counter.SlotManager, interval time.Duration) *LockSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LockSweeper{
		Slots:    slots,
		Interval: interval,
		stop:     make(chan bool),
	}
}

// Start begins the sweeper.
func (ls *LockSweeper) Start() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.ticker = time.NewTicker(ls.Interval)
	ls.wg.Add(1)

	go ls.run()

	log.Printf("[Sweeper] Started with interval: %v", ls.Interval)
}

// Stop stops the sweeper.
func (ls *LockSweeper) Stop() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.ticker != nil {
		ls.ticker.Stop()
		close(ls.stop)
		ls.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (ls *LockSweeper) run() {
	defer ls.wg.Done()

	// Run immediately on start
	ls.sweep()

	for {
		select {
		case <-ls.ticker.C:
			ls.sweep()
		case <-ls.stop:
			return
		}
	}
}

func (ls *LockSweeper) sweep() {
	released, err := ls.Slots.SweepExpired(context.Background())
	if err != nil {
		log.Printf("[Sweeper] Error sweeping expired locks: %v", err)
		return
	}
	if released > 0 {
		log.Printf("[Sweeper] Released %d expired locks", released)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ls *LockSweeper) RunNow() {
	ls.sweep()
}
