// Package state carries the per-session capabilities the pipeline needs but
// never owns itself: the logger, configuration, and cancellation.
package state

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"muepub/config"
)

type envKey struct{}

// RenderContext is the muepub analog of fbc's state.LocalEnv: the single
// place a session's ambient dependencies live, threaded through
// context.Context rather than passed positionally everywhere.
type RenderContext struct {
	Cfg *config.Config
	Log *zap.Logger
}

// ContextWithEnv attaches a RenderContext to ctx.
func ContextWithEnv(ctx context.Context, env *RenderContext) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// FromContext extracts the RenderContext, falling back to an inert default
// (nop logger, config.Default()) rather than panicking — unlike fbc's
// EnvFromContext, library callers here are not guaranteed to have gone
// through a CLI bootstrap first.
func FromContext(ctx context.Context) *RenderContext {
	if env, ok := ctx.Value(envKey{}).(*RenderContext); ok && env != nil {
		if env.Log == nil {
			env.Log = zap.NewNop()
		}
		return env
	}
	return &RenderContext{Cfg: config.Default(), Log: zap.NewNop()}
}

// CancelToken is the single-boolean capability polled at page boundaries
// (§5). It is safe to trip from any goroutine; the pipeline itself never
// starts one.
type CancelToken struct {
	tripped atomic.Bool
}

// NewCancelToken returns a token in the not-cancelled state.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel trips the token. Idempotent.
func (c *CancelToken) Cancel() {
	if c == nil {
		return
	}
	c.tripped.Store(true)
}

// IsCancelled reports whether Cancel has been called.
func (c *CancelToken) IsCancelled() bool {
	if c == nil {
		return false
	}
	return c.tripped.Load()
}
