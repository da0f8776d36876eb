/*
sweeper.go - Automated credit expiration sweeper

PURPOSE:
  Periodically archives credit batches whose expiry date has passed.
  Expired batches already contribute zero to every balance read; the
  sweep only stamps archived_at so reporting can distinguish swept
  batches from live ones. Nothing is ever deleted.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - First sweep fires immediately on Start
  - Safe to run alongside manual sweeps (POST /api/admin/sweep);
    archiving is idempotent

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewExpirationSweeper(ledger, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - credit/ledger.go: ArchiveExpired
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/limpahora/hours-engine/credit"
)

// ExpirationSweeper archives expired credit batches on a schedule.
type ExpirationSweeper struct {
	Ledger        *credit.Ledger
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpirationSweeper creates a new sweeper.
func NewExpirationSweeper(ledger *credit.Ledger, logger *zap.Logger) *ExpirationSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirationSweeper{
		Ledger:        ledger,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (es *ExpirationSweeper) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.Logger.Info("sweeper disabled, not starting")
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.wg.Add(1)

	go es.run()

	es.Logger.Info("sweeper started", zap.Duration("check_interval", es.CheckInterval))
}

// Stop stops the sweeper.
func (es *ExpirationSweeper) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		es.Logger.Info("sweeper stopped")
	}
}

func (es *ExpirationSweeper) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.sweep()

	for {
		select {
		case <-es.ticker.C:
			es.sweep()
		case <-es.stop:
			return
		}
	}
}

func (es *ExpirationSweeper) sweep() {
	ctx := context.Background()

	archived, err := es.Ledger.ArchiveExpired(ctx)
	if err != nil {
		es.Logger.Error("sweep failed", zap.Error(err))
		return
	}

	if archived > 0 {
		es.Logger.Info("archived expired batches", zap.Int("archived", archived))
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (es *ExpirationSweeper) RunNow() {
	es.sweep()
}
