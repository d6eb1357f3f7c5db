package confirmer

import (
	"context"
	"time"

	"github.com/nkiryanov/affiliate/internal/logger"
)

const defaultInterval = time.Minute

type ledger interface {
	ConfirmDue(ctx context.Context, now time.Time) (int64, error)
}

// Confirmer periodically confirms pending commissions whose refund window has passed
type Confirmer struct {
	interval time.Duration
	ledger   ledger
	logger   logger.Logger

	now func() time.Time
}

func New(interval time.Duration, ledger ledger, l logger.Logger) *Confirmer {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Confirmer{
		interval: interval,
		ledger:   ledger,
		logger:   l.With("component", "confirmer"),
		now:      time.Now,
	}
}

// Run sweep on every tick until ctx is done
// Returned channel is closed when the loop is stopped
func (c *Confirmer) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	c.logger.Debug("Starting confirmer", "interval", c.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.logger.Debug("Confirmer stopped by context")
				return

			case <-ticker.C:
				c.sweep(ctx)
			}
		}
	}()

	return idleStopped
}

func (c *Confirmer) sweep(ctx context.Context) {
	count, err := c.ledger.ConfirmDue(ctx, c.now())
	switch {
	case err != nil:
		// Next tick retries
		c.logger.Error("Failed to confirm due commissions", "error", err)
	case count > 0:
		c.logger.Info("Commissions confirmed", "count", count)
	default:
		c.logger.Debug("No commissions to confirm")
	}
}
