// Package staging holds helpers layered over a digest.StagingStore.
package staging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/digest"
)

// Poller waits for staged keys to appear.
type Poller struct {
	store  digest.StagingStore
	logger *zap.Logger
}

// NewPoller builds a poller over store.
func NewPoller(store digest.StagingStore, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{store: store, logger: logger}
}

// WaitForKey checks key up to maxAttempts times, sleeping interval between checks.
// It returns ("", false, nil) once attempts are exhausted. Store errors and context
// cancellation are returned.
func (p *Poller) WaitForKey(ctx context.Context, key string, maxAttempts int, interval time.Duration) (string, bool, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, ok, err := p.store.Get(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("poll %s: %w", key, err)
		}
		if ok {
			p.logger.Debug("staged key ready", zap.String("key", key), zap.Int("attempt", attempt))
			return value, true, nil
		}
		if attempt == maxAttempts {
			break
		}
		if timer == nil {
			timer = time.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-timer.C:
		}
	}
	p.logger.Debug("staged key not ready", zap.String("key", key), zap.Int("attempts", maxAttempts))
	return "", false, nil
}
