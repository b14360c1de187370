package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/stupiduntilnot/officebot/internal/commander"
	"github.com/stupiduntilnot/officebot/internal/dummy"
	"github.com/stupiduntilnot/officebot/internal/observability"
	"github.com/stupiduntilnot/officebot/internal/policy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func echo(_ context.Context, ev commander.Event) (string, error) {
	return "echo: " + ev.Args, nil
}

func TestDispatcher_RoutesCommandsAndText(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t))
	d.Command("/Find", echo)
	d.Text(func(context.Context, commander.Event) (string, error) { return "text", nil })

	reply, err := d.Handle(context.Background(), commander.Event{Command: "find", Args: "Иванов"})
	require.NoError(t, err)
	assert.Equal(t, "echo: Иванов", reply)

	reply, err = d.Handle(context.Background(), commander.Event{Args: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "text", reply)

	assert.Equal(t, []string{"find"}, d.Commands())
}

func TestDispatcher_UnknownCommandGetsHelp(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t))
	d.Command("ai", echo)
	d.Command("find", echo)

	reply, err := d.Handle(context.Background(), commander.Event{Command: "nope"})
	require.NoError(t, err)
	assert.Equal(t, "Доступные команды:\n/ai\n/find", reply)

	reply, err = d.Handle(context.Background(), commander.Event{Args: "plain"})
	require.NoError(t, err)
	assert.Empty(t, reply, "no text handler bound")
}

func TestDispatcher_ContainsErrorsAndPanics(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t))
	d.Command("fail", func(context.Context, commander.Event) (string, error) { return "", errors.New("boom") })
	d.Command("panic", func(context.Context, commander.Event) (string, error) { panic("kaboom") })

	reply, err := d.Handle(context.Background(), commander.Event{Command: "fail"})
	require.NoError(t, err)
	assert.Equal(t, ReplyInternalError, reply)

	reply, err = d.Handle(context.Background(), commander.Event{Command: "panic"})
	require.NoError(t, err)
	assert.Equal(t, ReplyInternalError, reply)
}

func runPoller(t *testing.T, p *Poller) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("poller did not stop")
		}
	}
}

func TestPoller_DeliversReplies(t *testing.T) {
	src, err := dummy.NewCommander("msg:/ai привет,msg:hello,ok", "ok", 42)
	require.NoError(t, err)
	d := NewDispatcher(zaptest.NewLogger(t))
	d.Command("ai", echo)
	d.Text(echo)
	metrics := observability.NewMetrics("test")

	p := NewPoller(src, d.Handle, PollerConfig{PollTimeout: 1, MaxConcurrent: 4}, metrics, nil, zaptest.NewLogger(t))
	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return len(src.Sent()) == 2 }, 3*time.Second, 5*time.Millisecond)
	stop()

	texts := []string{src.Sent()[0].Text, src.Sent()[1].Text}
	assert.ElementsMatch(t, []string{"echo: привет", "echo: hello"}, texts)
	assert.Equal(t, int64(42), src.Sent()[0].ChatID)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Events.WithLabelValues(OutcomeReplied)))
}

func TestPoller_SplitsLongReplies(t *testing.T) {
	src, err := dummy.NewCommander("msg:go,ok", "ok", 1)
	require.NoError(t, err)
	long := strings.Repeat("a", 25)
	h := func(context.Context, commander.Event) (string, error) { return long, nil }

	p := NewPoller(src, h, PollerConfig{PollTimeout: 1, MaxMessageChars: 10}, nil, nil, zaptest.NewLogger(t))
	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return len(src.Sent()) == 3 }, 3*time.Second, 5*time.Millisecond)
	stop()

	var joined strings.Builder
	for _, s := range src.Sent() {
		assert.LessOrEqual(t, len(s.Text), 10)
		joined.WriteString(s.Text)
	}
	assert.Equal(t, long, joined.String())
}

func TestPoller_PolicyDropsSendNothing(t *testing.T) {
	src, err := dummy.NewCommander("msg:/ai hi,ok", "ok", 7)
	require.NoError(t, err)
	var mu sync.Mutex
	calls := 0
	h := func(context.Context, commander.Event) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "secret", nil
	}
	metrics := observability.NewMetrics("test")
	chain := policy.Chain(h, policy.Access([]int64{42}, policy.NewDropper(zaptest.NewLogger(t), metrics, nil)))

	p := NewPoller(src, chain, PollerConfig{PollTimeout: 1}, metrics, nil, zaptest.NewLogger(t))
	stop := runPoller(t, p)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.Events.WithLabelValues(OutcomeNoReply)) == 1
	}, 3*time.Second, 5*time.Millisecond)
	stop()

	assert.Empty(t, src.Sent())
	assert.Zero(t, calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PolicyDrops.WithLabelValues(policy.StageAccess)))
}

func TestPoller_DropPendingSkipsBacklog(t *testing.T) {
	src, err := dummy.NewCommander("msg:old,msg:new,ok", "ok", 1)
	require.NoError(t, err)

	p := NewPoller(src, echo, PollerConfig{PollTimeout: 1, DropPending: true}, nil, nil, zaptest.NewLogger(t))
	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return len(src.Sent()) == 1 }, 3*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, "echo: new", src.Sent()[0].Text)
}

func TestPoller_TransportErrorsBackOff(t *testing.T) {
	src, err := dummy.NewCommander("err:transport_api,msg:after,ok", "ok", 1)
	require.NoError(t, err)

	p := NewPoller(src, echo, PollerConfig{PollTimeout: 1, Sleep: 10 * time.Millisecond}, nil, nil, zaptest.NewLogger(t))
	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return len(src.Sent()) == 1 }, 5*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, "echo: after", src.Sent()[0].Text)
}

func TestPoller_SendFailureCounted(t *testing.T) {
	src, err := dummy.NewCommander("msg:x,ok", "err:transport_api", 1)
	require.NoError(t, err)
	metrics := observability.NewMetrics("test")

	p := NewPoller(src, echo, PollerConfig{PollTimeout: 1}, metrics, nil, zaptest.NewLogger(t))
	stop := runPoller(t, p)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.Events.WithLabelValues(OutcomeError)) == 1
	}, 3*time.Second, 5*time.Millisecond)
	stop()
}

// scriptedSource serves fixed batches of updates and records the offset
// of every GetUpdates call.
type scriptedSource struct {
	mu      sync.Mutex
	batches [][]commander.Update
	offsets []int64
	sent    []string
}

func (s *scriptedSource) GetUpdates(ctx context.Context, offset int64, _ int) ([]commander.Update, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return batch, nil
	}
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func (s *scriptedSource) SendMessage(_ context.Context, _ int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *scriptedSource) Offsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.offsets...)
}

func (s *scriptedSource) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func textUpdate(id int64, text string) commander.Update {
	return commander.Update{UpdateID: id, Message: &commander.Message{Chat: commander.Chat{ID: 5}, Text: &text}}
}

func TestPoller_AcknowledgesUpdatesWithoutText(t *testing.T) {
	src := &scriptedSource{batches: [][]commander.Update{
		{{UpdateID: 77}},
		{{UpdateID: 78, Message: &commander.Message{Chat: commander.Chat{ID: 5}}}, textUpdate(79, "hi")},
	}}
	p := NewPoller(src, echo, PollerConfig{PollTimeout: 1}, nil, nil, zaptest.NewLogger(t))
	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return len(src.Offsets()) >= 3 }, 3*time.Second, 5*time.Millisecond)
	stop()

	offsets := src.Offsets()
	assert.Equal(t, []int64{0, 78, 80}, offsets[:3])
	assert.Equal(t, []string{"echo: hi"}, src.Sent())
}

func TestPoller_DropPendingSkipsTrailingNonTextUpdate(t *testing.T) {
	src := &scriptedSource{batches: [][]commander.Update{
		{textUpdate(10, "old"), {UpdateID: 11}},
	}}
	p := NewPoller(src, echo, PollerConfig{PollTimeout: 1, DropPending: true}, nil, nil, zaptest.NewLogger(t))
	stop := runPoller(t, p)
	require.Eventually(t, func() bool { return len(src.Offsets()) >= 2 }, 3*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, int64(12), src.Offsets()[1])
	assert.Empty(t, src.Sent())
}

func TestPoller_FinishesInFlightEventsAfterStop(t *testing.T) {
	src := &scriptedSource{batches: [][]commander.Update{{textUpdate(1, "slow")}}}
	started := make(chan struct{})
	release := make(chan struct{})
	h := func(ctx context.Context, ev commander.Event) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "done: " + ev.Text, nil
	}

	p := NewPoller(src, h, PollerConfig{PollTimeout: 1}, nil, nil, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never started")
	}
	cancel()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, []string{"done: slow"}, src.Sent())
}

func TestPoller_EventTimeoutBoundsHandlers(t *testing.T) {
	src := &scriptedSource{batches: [][]commander.Update{{textUpdate(1, "stuck")}}}
	h := func(ctx context.Context, _ commander.Event) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	metrics := observability.NewMetrics("test")

	p := NewPoller(src, h, PollerConfig{PollTimeout: 1, EventTimeout: 20 * time.Millisecond}, metrics, nil, zaptest.NewLogger(t))
	stop := runPoller(t, p)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.Events.WithLabelValues(OutcomeError)) == 1
	}, 3*time.Second, 5*time.Millisecond)
	stop()
}
