package db

import (
	"context"

	"go.uber.org/zap"
)

// Auditor appends audit events under one parent (the process.started
// event of this run). Failures are logged, never returned: the audit
// trail must not break message handling.
type Auditor struct {
	db       *DB
	parentID *int64
	log      *zap.Logger
}

func NewAuditor(d *DB, parentID *int64, log *zap.Logger) *Auditor {
	return &Auditor{db: d, parentID: parentID, log: log.Named("audit")}
}

// Record writes one event. A nil Auditor is a no-op.
func (a *Auditor) Record(ctx context.Context, eventType string, payload map[string]any) {
	if a == nil || a.db == nil {
		return
	}
	if _, err := LogEvent(ctx, a.db, a.parentID, eventType, payload); err != nil {
		a.log.Warn("audit write failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
