package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.IncEvent("replied")
	m.IncPolicyDrop("access")
	m.IncRoute("mail", "fallback")
	m.IncModuleFailure("mail")
	m.IncStorageError("append")
	m.ObserveLLMLatency(time.Second)
	assert.NotNil(t, m.Handler())
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("test")
	m.IncPolicyDrop("rate_limit")
	m.IncPolicyDrop("rate_limit")
	m.IncRoute("mail", "llm")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PolicyDrops.WithLabelValues("rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Routes.WithLabelValues("mail", "llm")))
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a := NewMetrics("test")
	b := NewMetrics("test")
	a.IncEvent("replied")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Events.WithLabelValues("replied")))
}

func TestServer_Endpoints(t *testing.T) {
	m := NewMetrics("officebot")
	m.IncEvent("replied")
	srv := httptest.NewServer(NewServer(":0", m, fakePinger{}, zaptest.NewLogger(t)).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `officebot_events_total{outcome="replied"} 1`)
}

func TestServer_NotReady(t *testing.T) {
	s := NewServer(":0", nil, fakePinger{err: errors.New("db down")}, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil, nil, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
