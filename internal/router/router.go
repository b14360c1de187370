// Package router picks the capability module that answers a message.
// Routing is two-tier: an LLM tool call when a model is configured, and
// a deterministic keyword heuristic that always resolves to a module.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/officebot/internal/db"
	"github.com/stupiduntilnot/officebot/internal/history"
	"github.com/stupiduntilnot/officebot/internal/model"
	"github.com/stupiduntilnot/officebot/internal/module"
	"github.com/stupiduntilnot/officebot/internal/observability"
	"github.com/stupiduntilnot/officebot/internal/policy"
)

// Name is the router's own module name.
const Name = "ai_core"

// Module names the fallback heuristic resolves to.
const (
	ModuleMail      = "mail"
	ModuleKnowledge = "knowledge_base"
)

// Decision tiers.
const (
	TierLLM      = "llm"
	TierFallback = "fallback"
)

// User-facing replies.
const (
	ReplyModuleUnavailable = "Модуль недоступен."
	ReplyModuleFailure     = "Модуль временно недоступен, попробуйте позже."
	ReplyUsage             = "Отправьте вопрос после команды /ai"
)

const routingPrompt = "Ты маршрутизатор запросов корпоративного бота. " +
	"Выбери один инструмент, который лучше всего ответит на последнее сообщение пользователя."

// ErrModuleUnavailable means the target module is not loaded.
var ErrModuleUnavailable = errors.New("module unavailable")

// ModuleFailure wraps an error or panic raised by a module's Process.
type ModuleFailure struct {
	Module string
	Err    error
}

func (e *ModuleFailure) Error() string {
	return fmt.Sprintf("module %s failed: %v", e.Module, e.Err)
}

func (e *ModuleFailure) Unwrap() error { return e.Err }

// Decision is the outcome of routing one message.
type Decision struct {
	Target string
	Tier   string
}

// Recorder persists routing outcomes, e.g. *db.Auditor.
type Recorder interface {
	Record(ctx context.Context, eventType string, payload map[string]any)
}

// Options are the router's optional collaborators.
type Options struct {
	// LLM is nil when no model is configured; routing then uses the
	// heuristic only.
	LLM            model.Provider
	Metrics        *observability.Metrics
	Recorder       Recorder
	HistoryTurns   int
	LLMTimeout     time.Duration
	StorageTimeout time.Duration
}

// Router selects and invokes modules.
type Router struct {
	registry *module.Registry
	history  *history.Store
	opts     Options
	log      *zap.Logger
}

func New(registry *module.Registry, store *history.Store, log *zap.Logger, opts Options) *Router {
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 30 * time.Second
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 5 * time.Second
	}
	return &Router{
		registry: registry,
		history:  store,
		opts:     opts,
		log:      log.Named("router"),
	}
}

// Decide picks the target module for text. It never returns an empty
// target.
func (r *Router) Decide(ctx context.Context, userID int64, text string) Decision {
	if r.opts.LLM != nil {
		if target, ok := r.routeWithLLM(ctx, userID, text); ok {
			return Decision{Target: target, Tier: TierLLM}
		}
	}
	return Decision{Target: Fallback(text), Tier: TierFallback}
}

// Dispatch invokes the target module. Errors are ErrModuleUnavailable
// or *ModuleFailure; a panicking module is reported as a failure.
func (r *Router) Dispatch(ctx context.Context, target string, userID int64, text string) (reply string, err error) {
	m, ok := r.registry.Get(target)
	if !ok || target == Name {
		return "", fmt.Errorf("%w: %s", ErrModuleUnavailable, target)
	}
	defer func() {
		if p := recover(); p != nil {
			reply, err = "", &ModuleFailure{Module: target, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	reply, err = m.Process(ctx, userID, text)
	if err != nil {
		return "", &ModuleFailure{Module: target, Err: err}
	}
	return reply, nil
}

// Route decides, dispatches and turns failures into user-facing
// replies. It never returns an error.
func (r *Router) Route(ctx context.Context, userID int64, text string) (string, Decision) {
	log := r.logger(ctx)
	d := r.Decide(ctx, userID, text)
	r.opts.Metrics.IncRoute(d.Target, d.Tier)
	r.record(ctx, db.EventRouteSelected, map[string]any{
		"user_id": userID,
		"module":  d.Target,
		"tier":    d.Tier,
	})
	log.Debug("route selected", zap.String("module", d.Target), zap.String("tier", d.Tier))

	reply, err := r.Dispatch(ctx, d.Target, userID, text)
	var failure *ModuleFailure
	switch {
	case err == nil:
		return reply, d
	case errors.Is(err, ErrModuleUnavailable):
		log.Warn("target module not loaded", zap.String("module", d.Target))
		return ReplyModuleUnavailable, d
	case errors.As(err, &failure):
		log.Error("module failed",
			zap.String("module", failure.Module),
			zap.Error(failure.Err))
		r.opts.Metrics.IncModuleFailure(failure.Module)
		r.record(ctx, db.EventModuleFailed, map[string]any{
			"user_id": userID,
			"module":  failure.Module,
			"error":   failure.Err.Error(),
		})
		return ReplyModuleFailure, d
	default:
		log.Error("dispatch failed", zap.Error(err))
		return ReplyModuleFailure, d
	}
}

// Fallback is the keyword heuristic: first matching category wins and
// the knowledge base is the default.
func Fallback(text string) string {
	lower := strings.ToLower(text)
	for _, rule := range fallbackRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.target
			}
		}
	}
	return ModuleKnowledge
}

var fallbackRules = []struct {
	target   string
	keywords []string
}{
	{ModuleMail, []string{"почт", "email", "mail"}},
	{ModuleKnowledge, []string{"rdp", "удален", "доступ"}},
}

func (r *Router) routeWithLLM(ctx context.Context, userID int64, text string) (string, bool) {
	log := r.logger(ctx)
	tools := r.tools()
	if len(tools) == 0 {
		return "", false
	}
	req := model.Request{
		Messages: history.Assemble(routingPrompt, history.Messages(r.recentHistory(ctx, userID, text)), text),
		Tools:    tools,
	}

	llmCtx, cancel := context.WithTimeout(ctx, r.opts.LLMTimeout)
	defer cancel()
	started := time.Now()
	resp, err := r.opts.LLM.Complete(llmCtx, req)
	r.opts.Metrics.ObserveLLMLatency(time.Since(started))
	if err != nil {
		log.Warn("llm routing failed, using fallback", zap.Error(err))
		return "", false
	}
	if resp.ToolCall == nil {
		return "", false
	}
	name := resp.ToolCall.Name
	for _, t := range tools {
		if t.Name == name {
			return name, true
		}
	}
	log.Warn("llm chose an unknown tool, using fallback", zap.String("tool", name))
	return "", false
}

// tools describes every registered module except the router itself.
func (r *Router) tools() []model.Tool {
	var tools []model.Tool
	for _, d := range r.registry.Descriptors() {
		if d.Name == Name {
			continue
		}
		tools = append(tools, model.Tool{
			Name:        d.Name,
			Description: strings.Join(d.Capabilities, ", "),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"intent": map[string]any{"type": "string"},
				},
			},
		})
	}
	return tools
}

// recentHistory reads the user's last turns without the message being
// routed. A storage failure yields an empty history.
func (r *Router) recentHistory(ctx context.Context, userID int64, text string) []history.Turn {
	if r.history == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, r.opts.StorageTimeout)
	defer cancel()
	turns, err := r.history.History(sctx, userID)
	if err != nil {
		r.logger(ctx).Warn("history read failed, routing without history", zap.Error(err))
		r.opts.Metrics.IncStorageError("list")
		return nil
	}
	return history.Recent(history.WithoutCurrent(turns, text), r.opts.HistoryTurns)
}

func (r *Router) record(ctx context.Context, eventType string, payload map[string]any) {
	if r.opts.Recorder != nil {
		r.opts.Recorder.Record(ctx, eventType, payload)
	}
}

// logger prefers the request-scoped logger attached by the policy chain.
func (r *Router) logger(ctx context.Context) *zap.Logger {
	if d, ok := policy.DepsFrom(ctx); ok && d.Logger != nil {
		return d.Logger.Named("router")
	}
	return r.log
}
