package tgutil

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/td/telegram"
	"github.com/iyear/tdl/core/middlewares/recovery"
	"github.com/iyear/tdl/core/middlewares/retry"
)

// Resilience bounds how hard a client tries before an RPC error reaches the caller: Retries
// re-sends internal server errors, RecoveryTimeout caps reconnect attempts after a dropped connection.
type Resilience struct {
	Retries         int
	RecoveryTimeout time.Duration
	MaxInterval     time.Duration
}

var (
	UserResilience     = Resilience{Retries: 4, RecoveryTimeout: 5 * time.Minute, MaxInterval: 10 * time.Second}
	BotResilience      = Resilience{Retries: 2, RecoveryTimeout: time.Minute, MaxInterval: 5 * time.Second}
	TransferResilience = Resilience{Retries: 8, RecoveryTimeout: 10 * time.Minute, MaxInterval: 30 * time.Second}
)

func Middlewares(ctx context.Context, r Resilience) []telegram.Middleware {
	return []telegram.Middleware{
		retry.New(r.Retries),
		recovery.New(ctx, r.backoff()),
	}
}

func (r Resilience) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.Multiplier = 1.1
	b.MaxElapsedTime = r.RecoveryTimeout
	b.MaxInterval = r.MaxInterval
	return b
}
