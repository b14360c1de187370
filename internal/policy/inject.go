package policy

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/config"
	"github.com/stupiduntilnot/officebot/internal/module"
)

// Deps are the shared collaborators a handler may resolve from its
// request context.
type Deps struct {
	Config    config.Config
	Registry  *module.Registry
	RequestID string
	Logger    *zap.Logger
}

type depsKey struct{}

// WithDeps returns a copy of ctx carrying d.
func WithDeps(ctx context.Context, d Deps) context.Context {
	return context.WithValue(ctx, depsKey{}, d)
}

// DepsFrom returns the Deps attached by Inject.
func DepsFrom(ctx context.Context) (Deps, bool) {
	d, ok := ctx.Value(depsKey{}).(Deps)
	return d, ok
}

// Inject attaches cfg, reg and a per-request logger tagged with a fresh
// request id to every event's context.
func Inject(cfg config.Config, reg *module.Registry, log *zap.Logger) Stage {
	return func(next commander.Handler) commander.Handler {
		return func(ctx context.Context, ev commander.Event) (string, error) {
			id := uuid.NewString()
			ctx = WithDeps(ctx, Deps{
				Config:    cfg,
				Registry:  reg,
				RequestID: id,
				Logger: log.With(
					zap.String("request_id", id),
					zap.Int64("user_id", ev.UserID),
				),
			})
			return next(ctx, ev)
		}
	}
}
