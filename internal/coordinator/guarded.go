package coordinator

import (
	"context"
	"log/slog"
)

// GuardedSignaler enforces one signal per token. A claim is taken before the
// signal is sent and released again when sending fails for a reason other than
// the coordinator having already dropped the token, so the caller can retry.
type GuardedSignaler struct {
	inner  Signaler
	claims Claimer
	logger *slog.Logger
}

func NewGuardedSignaler(logger *slog.Logger, inner Signaler, claims Claimer) *GuardedSignaler {
	if inner == nil || claims == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedSignaler{inner: inner, claims: claims, logger: logger}
}

func (g *GuardedSignaler) Success(ctx context.Context, token string, output any) error {
	return g.guard(ctx, token, OutcomeSuccess, func() error {
		return g.inner.Success(ctx, token, output)
	})
}

func (g *GuardedSignaler) Failure(ctx context.Context, token, errorName, cause string) error {
	return g.guard(ctx, token, OutcomeFailure, func() error {
		return g.inner.Failure(ctx, token, errorName, cause)
	})
}

func (g *GuardedSignaler) guard(ctx context.Context, token string, outcome Outcome, send func() error) error {
	claimed, err := g.claims.Claim(ctx, token, outcome)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrAlreadySignaled
	}
	if err := send(); err != nil {
		if !IsTimeout(err) {
			if relErr := g.claims.Release(ctx, token); relErr != nil {
				g.logger.Warn("release signal claim failed", "error", relErr)
			}
		}
		return err
	}
	return nil
}
