package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "state", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, InitSchema(context.Background(), d))
	return d
}

func TestOpen_CreatesParentDirAndSchema(t *testing.T) {
	d := openTestDB(t)
	assert.Equal(t, SQLite, d.Dialect)

	for _, table := range []string{"events", "context_history", "users", "remote_credentials", "employees"} {
		var name string
		err := d.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	// Idempotent.
	require.NoError(t, InitSchema(context.Background(), d))
}

func TestOpen_Empty(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestOpenSQLite_Memory(t *testing.T) {
	d, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, InitSchema(context.Background(), d))
	_, err = LogEvent(context.Background(), d, nil, EventProcessStarted, nil)
	require.NoError(t, err)
}

func TestRebind(t *testing.T) {
	sqlite := &DB{Dialect: SQLite}
	pg := &DB{Dialect: Postgres}
	q := `SELECT * FROM t WHERE a = ? AND b = ?`

	assert.Equal(t, q, sqlite.Rebind(q))
	assert.Equal(t, `SELECT * FROM t WHERE a = $1 AND b = $2`, pg.Rebind(q))
}

func TestLogEvent(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	rootID, err := LogEvent(ctx, d, nil, EventProcessStarted, map[string]any{"pid": 1})
	require.NoError(t, err)
	childID, err := LogEvent(ctx, d, &rootID, EventRouteSelected, map[string]any{"module": "mail"})
	require.NoError(t, err)
	assert.Greater(t, childID, rootID)

	var parent sql.NullInt64
	var payload string
	err = d.QueryRow(`SELECT parent_id, payload FROM events WHERE id = ?`, childID).Scan(&parent, &payload)
	require.NoError(t, err)
	assert.Equal(t, rootID, parent.Int64)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &m))
	assert.Equal(t, "mail", m["module"])

	var nullPayload sql.NullString
	noPayloadID, err := LogEvent(ctx, d, nil, EventReplySent, nil)
	require.NoError(t, err)
	require.NoError(t, d.QueryRow(`SELECT payload FROM events WHERE id = ?`, noPayloadID).Scan(&nullPayload))
	assert.False(t, nullPayload.Valid)
}

func TestAuditor_Record(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	rootID, err := LogEvent(ctx, d, nil, EventProcessStarted, nil)
	require.NoError(t, err)

	a := NewAuditor(d, &rootID, zaptest.NewLogger(t))
	a.Record(ctx, EventPolicyDropped, map[string]any{"stage": "access"})
	a.Record(ctx, EventPolicyDropped, map[string]any{"stage": "rate_limit"})

	n, err := CountEvents(ctx, d, EventPolicyDropped)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var nilAuditor *Auditor
	nilAuditor.Record(ctx, EventPolicyDropped, nil)
}

func TestEventTree(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	_, err := LatestRun(ctx, d)
	require.Error(t, err)

	old, err := LogEvent(ctx, d, nil, EventProcessStarted, map[string]any{"pid": 1})
	require.NoError(t, err)
	_, err = LogEvent(ctx, d, &old, EventReplySent, nil)
	require.NoError(t, err)

	run, err := LogEvent(ctx, d, nil, EventProcessStarted, map[string]any{"pid": 2})
	require.NoError(t, err)
	route, err := LogEvent(ctx, d, &run, EventRouteSelected, map[string]any{"module": "mail"})
	require.NoError(t, err)
	_, err = LogEvent(ctx, d, &route, EventModuleFailed, map[string]any{"module": "mail"})
	require.NoError(t, err)
	_, err = LogEvent(ctx, d, &run, EventPolicyDropped, map[string]any{"stage": "access"})
	require.NoError(t, err)

	latest, err := LatestRun(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, run, latest)

	root, err := EventTree(ctx, d, latest)
	require.NoError(t, err)
	assert.Equal(t, EventProcessStarted, root.Type)
	assert.EqualValues(t, 2, root.Payload["pid"])
	require.Len(t, root.Children, 2)
	assert.Equal(t, EventRouteSelected, root.Children[0].Type)
	assert.Equal(t, EventPolicyDropped, root.Children[1].Type)
	require.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, EventModuleFailed, root.Children[0].Children[0].Type)

	_, err = EventTree(ctx, d, 9999)
	assert.Error(t, err)
}
