// Package policy gates inbound events before they reach a handler:
// allow-list access control, a per-user sliding-window rate limit, and
// request-scoped dependency injection.
package policy

import (
	"context"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/db"
	"github.com/stupiduntilnot/officebot/internal/observability"
)

// Stage names used in logs, metrics and audit events.
const (
	StageAccess    = "access"
	StageRateLimit = "rate_limit"
)

// Stage wraps a handler with one policy step.
type Stage func(next commander.Handler) commander.Handler

// Chain wraps h so that stages run in the given order, first outermost.
func Chain(h commander.Handler, stages ...Stage) commander.Handler {
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return h
}

// DropRecorder persists dropped events, e.g. *db.Auditor.
type DropRecorder interface {
	Record(ctx context.Context, eventType string, payload map[string]any)
}

// Dropper is notified when a stage drops an event. A dropped event gets
// no reply and no error.
type Dropper struct {
	log      *zap.Logger
	metrics  *observability.Metrics
	recorder DropRecorder
}

// NewDropper builds a Dropper. metrics and recorder may be nil.
func NewDropper(log *zap.Logger, metrics *observability.Metrics, recorder DropRecorder) *Dropper {
	return &Dropper{log: log.Named("policy"), metrics: metrics, recorder: recorder}
}

func (d *Dropper) drop(ctx context.Context, stage string, ev commander.Event) {
	if d == nil {
		return
	}
	d.log.Debug("event dropped",
		zap.String("stage", stage),
		zap.Int64("user_id", ev.UserID),
		zap.Int64("update_id", ev.UpdateID))
	d.metrics.IncPolicyDrop(stage)
	if d.recorder != nil {
		d.recorder.Record(ctx, db.EventPolicyDropped, map[string]any{
			"stage":     stage,
			"user_id":   ev.UserID,
			"update_id": ev.UpdateID,
		})
	}
}

// Access drops events from senders outside allow. An empty allow-list
// admits everyone.
func Access(allow []int64, d *Dropper) Stage {
	set := make(map[int64]struct{}, len(allow))
	for _, id := range allow {
		set[id] = struct{}{}
	}
	return func(next commander.Handler) commander.Handler {
		if len(set) == 0 {
			return next
		}
		return func(ctx context.Context, ev commander.Event) (string, error) {
			if _, ok := set[ev.UserID]; !ok {
				d.drop(ctx, StageAccess, ev)
				return "", nil
			}
			return next(ctx, ev)
		}
	}
}

// RateLimit drops events once a sender exceeds the limiter's ceiling.
func RateLimit(l *RateLimiter, d *Dropper) Stage {
	return func(next commander.Handler) commander.Handler {
		return func(ctx context.Context, ev commander.Event) (string, error) {
			if !l.Allow(ev.UserID) {
				d.drop(ctx, StageRateLimit, ev)
				return "", nil
			}
			return next(ctx, ev)
		}
	}
}
