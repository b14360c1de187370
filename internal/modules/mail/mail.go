// Package mail is the mail module: it fetches the newest messages and
// summarizes them, with the LLM when one is configured.
package mail

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/history"
	"github.com/stupiduntilnot/officebot/internal/model"
	"github.com/stupiduntilnot/officebot/internal/observability"
)

const Name = "mail"

const (
	ReplyHelp         = "Я могу получать почту и резюмировать письма. Используйте /mail для проверки."
	ReplyNoMail       = "Нет писем или не настроено соединение с почтой"
	ReplyAnalyzeError = "Не удалось проанализировать письмо"
	ReplyFetchError   = "Не удалось получить почту, попробуйте позже."
)

const analyzePrompt = "Ты помощник, который кратко классифицирует и выделяет ключевое из письма"

const (
	maxBodyRunes = 4000
	maxMessages  = 5
)

type Options struct {
	LLMTimeout time.Duration
	Metrics    *observability.Metrics
}

// Module summarizes mail. A nil fetcher means no mailbox is configured;
// a nil provider means summaries are built without the LLM.
type Module struct {
	fetcher Fetcher
	llm     model.Provider
	opts    Options
	log     *zap.Logger
}

func New(fetcher Fetcher, llm model.Provider, log *zap.Logger, opts Options) *Module {
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 30 * time.Second
	}
	return &Module{fetcher: fetcher, llm: llm, opts: opts, log: log.Named(Name)}
}

func (m *Module) Name() string { return Name }

func (m *Module) Capabilities() []string {
	return []string{"fetch_mail", "analyze_mail"}
}

func (m *Module) Initialize(mux commander.Mux) error {
	mux.Command("mail", m.handleMail)
	return nil
}

func (m *Module) Process(context.Context, int64, string) (string, error) {
	return ReplyHelp, nil
}

// Summarize describes one message in a few sentences.
func (m *Module) Summarize(ctx context.Context, msg Message) string {
	subject := orDefault(msg.Subject, "(без темы)")
	sender := orDefault(msg.From, "(неизвестно)")
	if m.llm == nil {
		return fmt.Sprintf("Письмо от %s с темой '%s'.", sender, subject)
	}
	req := model.Request{
		Messages: history.Assemble(analyzePrompt, nil,
			fmt.Sprintf("Тема: %s\nОтправитель: %s\nТекст: %s", subject, sender, truncateRunes(msg.Body, maxBodyRunes))),
		Temperature: 0.2,
	}
	llmCtx, cancel := context.WithTimeout(ctx, m.opts.LLMTimeout)
	defer cancel()
	started := time.Now()
	resp, err := m.llm.Complete(llmCtx, req)
	m.opts.Metrics.ObserveLLMLatency(time.Since(started))
	if err != nil {
		m.log.Warn("mail analysis failed", zap.String("subject", subject), zap.Error(err))
		return ReplyAnalyzeError
	}
	if strings.TrimSpace(resp.Content) == "" {
		return ReplyAnalyzeError
	}
	return strings.TrimSpace(resp.Content)
}

// handleMail summarizes the newest message, or the newest n for
// "/mail n".
func (m *Module) handleMail(ctx context.Context, ev commander.Event) (string, error) {
	if m.fetcher == nil {
		return ReplyNoMail, nil
	}
	n := 1
	if arg := strings.TrimSpace(ev.Args); arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			return "Формат: /mail [количество писем, до 5]", nil
		}
		n = min(v, maxMessages)
	}
	msgs, err := m.fetcher.Fetch(ctx, n)
	if err != nil {
		m.log.Error("fetch mail failed", zap.Int64("user_id", ev.UserID), zap.Error(err))
		return ReplyFetchError, nil
	}
	if len(msgs) == 0 {
		return ReplyNoMail, nil
	}
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		parts = append(parts, m.Summarize(ctx, msg))
	}
	return strings.Join(parts, "\n\n"), nil
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
