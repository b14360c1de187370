// Package chat is the general-purpose assistant module: it answers
// free-form questions with the LLM, using the user's recent history.
package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/history"
	"github.com/stupiduntilnot/officebot/internal/model"
	"github.com/stupiduntilnot/officebot/internal/observability"
)

const Name = "ai_assistant"

const systemPrompt = "Ты корпоративный ассистент и отвечаешь кратко и по делу."

const temperature = 0.2

const (
	ReplyNotConfigured = "Модуль ИИ не настроен. Укажите переменную окружения OPENAI_API_KEY."
	ReplyLLMError      = "Не получилось обратиться к модели. Проверьте ключ API/доступ и попробуйте ещё раз."
	ReplyEmpty         = "Модель не вернула ответ, попробуйте переформулировать вопрос."
	ReplyUsage         = "Отправьте вопрос после команды /ask"
)

type Options struct {
	HistoryTurns   int
	LLMTimeout     time.Duration
	StorageTimeout time.Duration
	Metrics        *observability.Metrics
}

// Module answers questions with the LLM. A nil provider means the LLM
// is not configured.
type Module struct {
	llm     model.Provider
	history *history.Store
	opts    Options
	log     *zap.Logger
}

func New(llm model.Provider, store *history.Store, log *zap.Logger, opts Options) *Module {
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 30 * time.Second
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 5 * time.Second
	}
	return &Module{llm: llm, history: store, opts: opts, log: log.Named(Name)}
}

func (m *Module) Name() string { return Name }

func (m *Module) Capabilities() []string {
	return []string{"chat", "answer_question"}
}

func (m *Module) Initialize(mux commander.Mux) error {
	mux.Command("ask", m.handleAsk)
	return nil
}

// Process answers text. LLM failures become a user-facing reply rather
// than an error.
func (m *Module) Process(ctx context.Context, userID int64, text string) (string, error) {
	if m.llm == nil {
		return ReplyNotConfigured, nil
	}
	req := model.Request{
		Messages:    history.Assemble(systemPrompt, history.Messages(m.recent(ctx, userID, text)), text),
		Temperature: temperature,
	}
	llmCtx, cancel := context.WithTimeout(ctx, m.opts.LLMTimeout)
	defer cancel()
	started := time.Now()
	resp, err := m.llm.Complete(llmCtx, req)
	m.opts.Metrics.ObserveLLMLatency(time.Since(started))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		m.log.Warn("llm request failed", zap.Int64("user_id", userID), zap.Error(err))
		return ReplyLLMError, nil
	}
	m.log.Debug("llm answered",
		zap.Int64("user_id", userID),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens))
	if strings.TrimSpace(resp.Content) == "" {
		return ReplyEmpty, nil
	}
	return resp.Content, nil
}

func (m *Module) handleAsk(ctx context.Context, ev commander.Event) (string, error) {
	question := strings.TrimSpace(ev.Args)
	if question == "" {
		return ReplyUsage, nil
	}
	m.appendTurn(ctx, ev.UserID, history.RoleUser, question)
	reply, err := m.Process(ctx, ev.UserID, question)
	if err != nil {
		return "", err
	}
	m.appendTurn(ctx, ev.UserID, history.RoleAssistant, reply)
	return reply, nil
}

func (m *Module) recent(ctx context.Context, userID int64, text string) []history.Turn {
	if m.history == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, m.opts.StorageTimeout)
	defer cancel()
	turns, err := m.history.History(sctx, userID)
	if err != nil {
		m.log.Warn("history read failed, answering without history", zap.Error(err))
		m.opts.Metrics.IncStorageError("list")
		return nil
	}
	return history.Recent(history.WithoutCurrent(turns, text), m.opts.HistoryTurns)
}

func (m *Module) appendTurn(ctx context.Context, userID int64, role, content string) {
	if m.history == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, m.opts.StorageTimeout)
	defer cancel()
	if err := m.history.Append(sctx, userID, role, content); err != nil {
		m.opts.Metrics.IncStorageError("append")
		m.log.Error("storage degraded", zap.String("role", role), zap.Error(err))
	}
}
