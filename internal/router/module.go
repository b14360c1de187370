package router

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/history"
)

func (r *Router) Name() string { return Name }

func (r *Router) Capabilities() []string {
	return []string{"route_message"}
}

// Initialize binds /ai and plain text to the conversation handler.
func (r *Router) Initialize(mux commander.Mux) error {
	mux.Command("ai", r.handle)
	mux.Text(r.handle)
	return nil
}

// Process routes text to another module and returns its reply.
func (r *Router) Process(ctx context.Context, userID int64, text string) (string, error) {
	reply, _ := r.Route(ctx, userID, text)
	return reply, nil
}

// handle records the user turn, routes, records the reply and returns
// it. History failures are logged and never block the reply.
func (r *Router) handle(ctx context.Context, ev commander.Event) (string, error) {
	text := strings.TrimSpace(ev.Args)
	if text == "" {
		return ReplyUsage, nil
	}
	r.appendTurn(ctx, ev.UserID, history.RoleUser, text)
	reply, _ := r.Route(ctx, ev.UserID, text)
	if reply != "" {
		r.appendTurn(ctx, ev.UserID, history.RoleAssistant, reply)
	}
	return reply, nil
}

func (r *Router) appendTurn(ctx context.Context, userID int64, role, content string) {
	if r.history == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, r.opts.StorageTimeout)
	defer cancel()
	err := r.history.Append(sctx, userID, role, content)
	if err == nil {
		return
	}
	op := "append"
	var se *history.StorageError
	if errors.As(err, &se) {
		op = se.Op
	}
	r.opts.Metrics.IncStorageError(op)
	r.logger(ctx).Error("storage degraded",
		zap.String("role", role),
		zap.String("op", op),
		zap.Error(err))
}
