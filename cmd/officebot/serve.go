package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/officebot/internal/bot"
	"github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/config"
	"github.com/stupiduntilnot/officebot/internal/db"
	"github.com/stupiduntilnot/officebot/internal/dummy"
	"github.com/stupiduntilnot/officebot/internal/history"
	"github.com/stupiduntilnot/officebot/internal/model"
	"github.com/stupiduntilnot/officebot/internal/module"
	"github.com/stupiduntilnot/officebot/internal/modules/chat"
	"github.com/stupiduntilnot/officebot/internal/modules/knowledge"
	"github.com/stupiduntilnot/officebot/internal/modules/mail"
	"github.com/stupiduntilnot/officebot/internal/observability"
	"github.com/stupiduntilnot/officebot/internal/openai"
	"github.com/stupiduntilnot/officebot/internal/policy"
	"github.com/stupiduntilnot/officebot/internal/router"
	"github.com/stupiduntilnot/officebot/internal/telegram"
	"github.com/stupiduntilnot/officebot/internal/vault"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServe()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(cmd.Context())
}

// app is one wired bot process.
type app struct {
	db       *db.DB
	source   commander.Commander
	registry *module.Registry
	handler  commander.Handler
	poller   *bot.Poller
	limiter  *policy.RateLimiter
	metrics  *observability.Metrics
	ops      *observability.Server
	log      *zap.Logger
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &app{db: database, log: log}
	if err := a.wire(ctx, cfg); err != nil {
		database.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg config.Config) error {
	if err := db.InitSchema(ctx, a.db); err != nil {
		return err
	}

	var parentID *int64
	startID, err := db.LogEvent(ctx, a.db, nil, db.EventProcessStarted, map[string]any{
		"pid":       os.Getpid(),
		"transport": cfg.Transport,
		"llm":       cfg.LLMEnabled(),
		"modules":   cfg.EnabledModules,
	})
	if err != nil {
		a.log.Warn("failed to log process.started", zap.Error(err))
	} else {
		parentID = &startID
	}
	auditor := db.NewAuditor(a.db, parentID, a.log)
	a.metrics = observability.NewMetrics(cfg.MetricsNamespace)

	v, err := vault.New(cfg.VaultSecret)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if !v.Enabled() {
		a.log.Warn("VAULT_SECRET is not set, storing remote-access credentials is disabled")
	}
	llm, err := newModelProvider(cfg)
	if err != nil {
		return err
	}
	store := history.NewStore(history.NewSQLStore(a.db), history.Limits{
		MaxMessages: cfg.ContextMaxMessages,
		MaxChars:    cfg.ContextMaxChars,
	}, a.log)

	a.registry = module.NewRegistry()
	if err := a.registerModules(cfg, store, llm, v, auditor); err != nil {
		return err
	}
	dispatcher := bot.NewDispatcher(a.log)
	if err := a.registry.InitializeAll(dispatcher); err != nil {
		return err
	}

	a.limiter = policy.NewRateLimiter(cfg.RateLimitPerMinute)
	dropper := policy.NewDropper(a.log, a.metrics, auditor)
	a.handler = policy.Chain(dispatcher.Handle,
		policy.Access(cfg.AllowedUsers, dropper),
		policy.RateLimit(a.limiter, dropper),
		policy.Inject(cfg, a.registry, a.log),
	)

	a.source, err = newCommander(cfg)
	if err != nil {
		return err
	}
	a.poller = bot.NewPoller(a.source, a.handler, bot.PollerConfig{
		PollTimeout:     cfg.PollTimeout,
		Sleep:           time.Duration(cfg.SleepSeconds) * time.Second,
		DropPending:     cfg.DropPending,
		MaxConcurrent:   cfg.MaxConcurrentEvents,
		MaxMessageChars: cfg.MaxMessageChars,
	}, a.metrics, auditor, a.log)

	if cfg.OpsAddr != "" {
		a.ops = observability.NewServer(cfg.OpsAddr, a.metrics, a.db, a.log)
	}

	a.log.Info("officebot wired",
		zap.Strings("modules", a.registry.Names()),
		zap.String("transport", cfg.Transport),
		zap.Bool("llm", llm != nil),
		zap.Int("allowed_users", len(cfg.AllowedUsers)),
		zap.Int("rate_limit_per_minute", cfg.RateLimitPerMinute))
	return nil
}

func (a *app) registerModules(cfg config.Config, store *history.Store, llm model.Provider, v *vault.Vault, auditor *db.Auditor) error {
	var mods []module.Module
	if cfg.ModuleEnabled(router.Name) {
		mods = append(mods, router.New(a.registry, store, a.log, router.Options{
			LLM:            llm,
			Metrics:        a.metrics,
			Recorder:       auditor,
			HistoryTurns:   cfg.RoutingHistory,
			LLMTimeout:     cfg.LLMTimeout(),
			StorageTimeout: cfg.StorageTimeout(),
		}))
	}
	if cfg.ModuleEnabled(knowledge.Name) {
		mods = append(mods, knowledge.New(knowledge.NewDirectory(a.db), v, a.log))
	}
	if cfg.ModuleEnabled(mail.Name) {
		var fetcher mail.Fetcher
		if cfg.MailDir != "" {
			fetcher = mail.NewDirFetcher(cfg.MailDir)
		}
		mods = append(mods, mail.New(fetcher, llm, a.log, mail.Options{
			LLMTimeout: cfg.LLMTimeout(),
			Metrics:    a.metrics,
		}))
	}
	if cfg.ModuleEnabled(chat.Name) {
		mods = append(mods, chat.New(llm, store, a.log, chat.Options{
			HistoryTurns:   cfg.RoutingHistory,
			LLMTimeout:     cfg.LLMTimeout(),
			StorageTimeout: cfg.StorageTimeout(),
			Metrics:        a.metrics,
		}))
	}
	for _, m := range mods {
		if err := a.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Run polls, serves the ops endpoints and sweeps idle rate windows
// until ctx is cancelled.
func (a *app) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.poller.Run(gctx) })
	if a.ops != nil {
		g.Go(func() error { return a.ops.Run(gctx) })
	}
	g.Go(func() error {
		a.limiter.RunSweeper(gctx, policy.Window)
		return nil
	})
	return g.Wait()
}

func (a *app) Close() error {
	return a.db.Close()
}

func newCommander(cfg config.Config) (commander.Commander, error) {
	switch cfg.Transport {
	case "telegram":
		return telegram.NewClient(cfg.TelegramBotBase(), time.Duration(cfg.PollTimeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyPollScript, cfg.DummySendScript, cfg.DummyUserID)
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

// newModelProvider returns nil when no LLM is configured.
func newModelProvider(cfg config.Config) (model.Provider, error) {
	if !cfg.LLMEnabled() {
		return nil, nil
	}
	switch cfg.LLMProvider {
	case "openai":
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.LLMTimeout()), nil
	case "dummy":
		return dummy.NewProvider(cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLMProvider)
	}
}
