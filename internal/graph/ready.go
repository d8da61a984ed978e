package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WaitReady pings p until it answers, ctx ends, or attempts run out.
func WaitReady(ctx context.Context, p Pinger, attempts uint, delay time.Duration) error {
	return retry.Do(
		func() error { return p.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("graph store not ready", "attempt", n+1, "error", err)
		}),
	)
}
