/*
scheduler.go - In-process daily-send poller

PURPOSE:
  Optional backstop for deployments without an external time-based trigger:
  a background goroutine that invokes the daily run controller on a short
  interval. The controller itself decides whether anything should happen
  (cutoff gate, already-sent check), so the poller is deliberately
  stateless - it keeps no "last sent" memory of its own, which makes
  process restarts safe. The durable RunRecord is the only state.

CONFIGURATION:
  - CheckInterval: How often to invoke (default: 30 seconds)
  - Enabled: Whether the poller is active

USAGE:
  poller := NewPoller(controller)
  poller.Start()
  // ... later
  poller.Stop()

SEE ALSO:
  - orderbook/controller.go: the invoked state machine
  - handlers.go: CronDaily, the external trigger surface
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/orderdesk/orderbook"
)

// Poller periodically invokes the daily run controller.
type Poller struct {
	Controller    *orderbook.Controller
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPoller creates a new poller with the default interval.
func NewPoller(controller *orderbook.Controller) *Poller {
	return &Poller{
		Controller:    controller,
		CheckInterval: 30 * time.Second,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the poller.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.Enabled {
		log.Println("[Poller] Disabled, not starting")
		return
	}

	p.ticker = time.NewTicker(p.CheckInterval)
	p.wg.Add(1)

	go p.run()

	log.Printf("[Poller] Started with check interval: %v", p.CheckInterval)
}

// Stop stops the poller.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker != nil {
		p.ticker.Stop()
		close(p.stop)
		p.wg.Wait()
		log.Println("[Poller] Stopped")
	}
}

func (p *Poller) run() {
	defer p.wg.Done()

	// Run immediately on start
	p.check()

	for {
		select {
		case <-p.ticker.C:
			p.check()
		case <-p.stop:
			return
		}
	}
}

func (p *Poller) check() {
	outcome, err := p.Controller.Run(context.Background())
	if err != nil {
		log.Printf("[Poller] Daily run failed: %v", err)
		return
	}
	if outcome.Sent {
		log.Printf("[Poller] Sent daily report for %s: %d rows, sequence %d",
			outcome.RunDate, outcome.RowCount, outcome.Sequence)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (p *Poller) RunNow() {
	p.check()
}
