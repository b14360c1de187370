package bot

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/control"
	"github.com/stupiduntilnot/officebot/internal/db"
	"github.com/stupiduntilnot/officebot/internal/observability"
	"github.com/stupiduntilnot/officebot/internal/telegram"
)

// Event outcomes counted by the poller.
const (
	OutcomeReplied = "replied"
	OutcomeNoReply = "no_reply"
	OutcomeError   = "error"
)

// PollerConfig tunes the long-poll loop.
type PollerConfig struct {
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// Sleep is the pause after a failed poll or while the breaker is open.
	Sleep         time.Duration
	DropPending   bool
	MaxConcurrent int
	// MaxMessageChars is the split limit for replies.
	MaxMessageChars int
	// EventTimeout bounds one event's handling and delivery. Events keep
	// running after polling stops, until they finish or this expires.
	EventTimeout time.Duration
}

// Recorder persists delivery events, e.g. *db.Auditor.
type Recorder interface {
	Record(ctx context.Context, eventType string, payload map[string]any)
}

// Poller long-polls a Commander and runs each event through handler
// on its own goroutine.
type Poller struct {
	source   commander.Commander
	handler  commander.Handler
	cfg      PollerConfig
	breaker  *control.CircuitBreaker
	metrics  *observability.Metrics
	recorder Recorder
	log      *zap.Logger
}

// NewPoller builds a Poller. metrics and recorder may be nil.
func NewPoller(source commander.Commander, handler commander.Handler, cfg PollerConfig, metrics *observability.Metrics, recorder Recorder, log *zap.Logger) *Poller {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = telegram.MaxMessageChars
	}
	if cfg.Sleep <= 0 {
		cfg.Sleep = time.Second
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 2 * time.Minute
	}
	return &Poller{
		source:   source,
		handler:  handler,
		cfg:      cfg,
		breaker:  control.NewCircuitBreaker(5, 30*time.Second),
		metrics:  metrics,
		recorder: recorder,
		log:      log.Named("poller"),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight events.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	if p.cfg.DropPending {
		bootstrapped, err := p.bootstrapOffset(ctx)
		if err != nil {
			p.log.Warn("bootstrap offset failed", zap.Error(err))
		} else {
			offset = bootstrapped
		}
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrent)

	p.log.Info("polling started", zap.Int64("offset", offset))
	failures := 0
	for ctx.Err() == nil {
		if !p.breaker.Allow(time.Now()) {
			control.Sleep(ctx, p.cfg.Sleep)
			continue
		}

		updates, err := p.source.GetUpdates(ctx, offset, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			errClass := control.ClassifyError(err)
			p.log.Warn("getUpdates failed", zap.String("error_class", errClass), zap.Error(err))
			if p.breaker.RecordFailure(errClass, time.Now()) {
				p.log.Error("circuit opened",
					zap.String("error_class", errClass),
					zap.Duration("cooldown", p.breaker.Cooldown))
			}
			control.Sleep(ctx, max(p.cfg.Sleep, control.RetryBackoff(failures)))
			continue
		}
		failures = 0
		if p.breaker.RecordSuccess() {
			p.log.Info("circuit closed")
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			ev, ok := commander.EventFromUpdate(u)
			if !ok {
				continue
			}
			g.Go(func() error {
				evCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.EventTimeout)
				defer cancel()
				p.process(evCtx, ev)
				return nil
			})
		}
	}
	p.log.Info("polling stopped, waiting for in-flight events")
	return g.Wait()
}

// process runs one event and delivers its reply. It never panics.
func (p *Poller) process(ctx context.Context, ev commander.Event) {
	log := p.log.With(zap.Int64("update_id", ev.UpdateID), zap.Int64("user_id", ev.UserID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("event panic", zap.Any("panic", r))
			p.metrics.IncEvent(OutcomeError)
		}
	}()

	reply, err := p.handler(ctx, ev)
	if err != nil {
		log.Error("event failed", zap.Error(err))
		p.metrics.IncEvent(OutcomeError)
		return
	}
	if reply == "" {
		p.metrics.IncEvent(OutcomeNoReply)
		return
	}

	parts := telegram.SplitText(reply, p.cfg.MaxMessageChars)
	for i, part := range parts {
		if err := p.source.SendMessage(ctx, ev.ChatID, part); err != nil {
			log.Error("send reply failed", zap.Int("part", i), zap.Error(err))
			p.metrics.IncEvent(OutcomeError)
			return
		}
	}
	p.metrics.IncEvent(OutcomeReplied)
	if p.recorder != nil {
		p.recorder.Record(ctx, db.EventReplySent, map[string]any{
			"user_id": ev.UserID,
			"chat_id": ev.ChatID,
			"parts":   len(parts),
		})
	}
}

// bootstrapOffset skips the backlog that accumulated while the bot was
// down.
func (p *Poller) bootstrapOffset(ctx context.Context) (int64, error) {
	updates, err := p.source.GetUpdates(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}
	last := updates[len(updates)-1].UpdateID
	p.log.Info("dropping pending updates", zap.Int("count", len(updates)))
	return last + 1, nil
}
