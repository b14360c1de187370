package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Event is one audit event with its children attached.
type Event struct {
	ID        int64
	Timestamp int64
	ParentID  *int64
	Type      string
	Payload   map[string]any
	Children  []*Event
}

// LatestRun returns the id of the newest process.started event.
func LatestRun(ctx context.Context, d *DB) (int64, error) {
	var id int64
	err := d.QueryRowContext(ctx,
		d.Rebind(`SELECT id FROM events WHERE event_type = ? ORDER BY id DESC LIMIT 1`),
		EventProcessStarted,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no %s event found", EventProcessStarted)
	}
	return id, err
}

// EventTree loads the subtree rooted at rootID.
func EventTree(ctx context.Context, d *DB, rootID int64) (*Event, error) {
	rows, err := d.QueryContext(ctx, d.Rebind(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC`), rootID)
	if err != nil {
		return nil, fmt.Errorf("query event subtree: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			ev      Event
			parent  sql.NullInt64
			payload sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &parent, &ev.Type, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if parent.Valid {
			ev.ParentID = &parent.Int64
		}
		if payload.Valid && payload.String != "" {
			_ = json.Unmarshal([]byte(payload.String), &ev.Payload)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	root := buildTree(events, rootID)
	if root == nil {
		return nil, fmt.Errorf("event %d not found", rootID)
	}
	return root, nil
}

func buildTree(events []*Event, rootID int64) *Event {
	byID := make(map[int64]*Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	for _, ev := range events {
		if ev.ParentID == nil || *ev.ParentID == ev.ID || ev.ID == rootID {
			continue
		}
		if parent, ok := byID[*ev.ParentID]; ok {
			parent.Children = append(parent.Children, ev)
		}
	}
	for _, ev := range events {
		sort.Slice(ev.Children, func(i, j int) bool { return ev.Children[i].ID < ev.Children[j].ID })
	}
	return byID[rootID]
}
