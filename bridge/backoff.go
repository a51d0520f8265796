package bridge

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// reconnectDelay computes the backoff before reconnect attempt number
// attempt (1-based): initial * factor^(attempt-1), capped at MaxDelay,
// then spread across [d*(1-jitter), d*(1+jitter)]. The result never goes
// below minReconnectDelay.
func reconnectDelay(p ReconnectPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt-1))
	if ceiling := float64(p.MaxDelay); d > ceiling {
		d = ceiling
	}
	if p.Jitter > 0 {
		span := 2 * p.Jitter * d
		d = d - p.Jitter*d + rand.Float64()*span
	}
	if d < float64(minReconnectDelay) {
		d = float64(minReconnectDelay)
	}
	return time.Duration(d)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

func withTimeoutIfNeeded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
