// Package retry provides bounded retries with multiplicative backoff and
// jitter for transient I/O: feed connects and artifact writes.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
)

// Config bounds one retried operation.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

// DefaultConfig matches the transient-I/O policy: three retries starting at
// one second.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Multiplier:     1.5,
	Jitter:         true,
}

// FixedConfig retries n times with a constant gap and no jitter, used where
// determinism matters more than herd avoidance (snapshot writes).
func FixedConfig(n int, gap time.Duration) Config {
	return Config{MaxRetries: n, InitialBackoff: gap, MaxBackoff: gap, Multiplier: 1}
}

// Do runs fn until it succeeds, retries are exhausted, or ctx is cancelled.
// Every failure is logged under the operation name.
func Do(ctx context.Context, logger *logrus.Logger, op string, cfg Config, fn func() error) error {
	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s canceled: %w", op, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		logger.WithError(lastErr).WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
		}).Warn("Operation failed")

		if attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(backoff):
			backoff = next(cfg, backoff)
		case <-ctx.Done():
			return fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, cfg.MaxRetries+1, lastErr)
}

func next(cfg Config, cur time.Duration) time.Duration {
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = 1
	}
	backoff := time.Duration(float64(cur) * mult)
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	if cfg.Jitter {
		if maxJitter := int64(backoff / 4); maxJitter > 0 {
			if j, err := rand.Int(rand.Reader, big.NewInt(maxJitter)); err == nil {
				backoff += time.Duration(j.Int64())
			}
		}
	}
	return backoff
}
