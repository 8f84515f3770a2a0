package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Config controls Do
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter adds up to Jitter*delay of random wait to every sleep
	Jitter float64
	// ShouldRetry decides whether an error is worth another attempt. nil retries every error.
	ShouldRetry func(error) bool
	// OnRetry is called before sleeping
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Default returns the backoff used for outbound HTTP calls
func Default() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
}

// Do runs fn until it succeeds, the error is not retryable, attempts run out or ctx is done.
// The last error is returned.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = 2
	}

	delay := cfg.InitialDelay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return err
		}

		wait := delay
		if cfg.Jitter > 0 && wait > 0 {
			wait += time.Duration(rand.Float64() * cfg.Jitter * float64(wait))
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		if sleepErr := Sleep(ctx, wait); sleepErr != nil {
			return err
		}

		delay = time.Duration(float64(delay) * mult)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return err
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
