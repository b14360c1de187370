package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/config"
	"github.com/stupiduntilnot/officebot/internal/db"
	"github.com/stupiduntilnot/officebot/internal/dummy"
	"github.com/stupiduntilnot/officebot/internal/modules/chat"
	"github.com/stupiduntilnot/officebot/internal/modules/knowledge"
	"github.com/stupiduntilnot/officebot/internal/modules/mail"
	"github.com/stupiduntilnot/officebot/internal/router"
)

func testConfig(t *testing.T, pollScript string) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "officebot.db")
	cfg.Transport = "dummy"
	cfg.DummyPollScript = pollScript
	cfg.DummyUserID = 42
	cfg.DropPending = false
	cfg.PollTimeout = 1
	cfg.OpsAddr = ""
	return cfg
}

func startApp(t *testing.T, cfg config.Config) (*app, *dummy.Commander, func()) {
	t.Helper()
	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	source, ok := a.source.(*dummy.Commander)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	stop := func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
		a.Close()
	}
	return a, source, stop
}

func TestServe_RoutesPlainTextEndToEnd(t *testing.T) {
	_, source, stop := startApp(t, testConfig(t, "msg:проверьте почту,ok"))
	defer stop()

	require.Eventually(t, func() bool { return len(source.Sent()) == 1 }, 5*time.Second, 10*time.Millisecond)
	sent := source.Sent()[0]
	assert.Equal(t, int64(42), sent.ChatID)
	assert.Equal(t, mail.ReplyHelp, sent.Text)
}

func TestServe_DropsUnlistedSender(t *testing.T) {
	cfg := testConfig(t, "msg:проверьте почту,ok")
	cfg.AllowedUsers = []int64{7}
	a, source, stop := startApp(t, cfg)
	defer stop()

	require.Eventually(t, func() bool {
		n, err := db.CountEvents(context.Background(), a.db, db.EventPolicyDropped)
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, source.Sent())
}

func TestNewApp_RegistersEnabledModules(t *testing.T) {
	cfg := testConfig(t, "ok")
	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, []string{"ai_assistant", "ai_core", "knowledge_base", "mail"}, a.registry.Names())

	n, err := db.CountEvents(context.Background(), a.db, db.EventProcessStarted)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cfg = testConfig(t, "ok")
	cfg.EnabledModules = []string{router.Name, mail.Name}
	b, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, []string{"ai_core", "mail"}, b.registry.Names())
}

func TestKnownModulesMatchRegisteredNames(t *testing.T) {
	assert.ElementsMatch(t, config.KnownModules, []string{router.Name, knowledge.Name, mail.Name, chat.Name})
}

func TestNewApp_HandlerChain(t *testing.T) {
	cfg := testConfig(t, "ok")
	cfg.LLMProvider = "dummy"
	cfg.DummyProviderScript = "msg:краткий ответ"
	cfg.RateLimitPerMinute = 2
	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	ctx := context.Background()

	reply, err := a.handler(ctx, commander.Event{UserID: 1, Command: "ask", Args: "как дела?"})
	require.NoError(t, err)
	assert.Equal(t, "краткий ответ", reply)

	reply, err = a.handler(ctx, commander.Event{UserID: 1, Command: "nosuch"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply, "Доступные команды:"), reply)

	// The third event inside the window is dropped silently.
	reply, err = a.handler(ctx, commander.Event{UserID: 1, Command: "ask", Args: "ещё"})
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestNewApp_ChatWithoutLLM(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t, "ok"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	reply, err := a.handler(context.Background(), commander.Event{UserID: 1, Command: "ask", Args: "вопрос"})
	require.NoError(t, err)
	assert.Equal(t, chat.ReplyNotConfigured, reply)
}

func TestVaultCommands(t *testing.T) {
	t.Setenv("OFFICEBOT_CONFIG", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("ALLOWED_USERS", "")
	t.Setenv("DUMMY_USER_ID", "")
	t.Setenv("VAULT_SECRET", "test secret")

	run := func(args ...string) (string, error) {
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(args)
		err := root.Execute()
		return strings.TrimSpace(out.String()), err
	}

	sealed, err := run("vault", "encrypt", "p@ss")
	require.NoError(t, err)
	assert.NotEqual(t, "p@ss", sealed)

	plain, err := run("vault", "decrypt", sealed)
	require.NoError(t, err)
	assert.Equal(t, "p@ss", plain)

	_, err = run("vault", "decrypt", "garbage")
	assert.Error(t, err)

	key, err := run("vault", "genkey")
	require.NoError(t, err)
	assert.Len(t, key, 44)

	t.Setenv("VAULT_SECRET", "")
	_, err = run("vault", "encrypt", "x")
	assert.Error(t, err)
}
