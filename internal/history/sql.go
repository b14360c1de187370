package history

import (
	"context"
	"fmt"
	"time"

	"github.com/stupiduntilnot/officebot/internal/db"
)

// SQLStore keeps turns in the context_history table.
type SQLStore struct {
	DB *db.DB
}

func NewSQLStore(d *db.DB) *SQLStore {
	return &SQLStore{DB: d}
}

func (s *SQLStore) AppendTurn(ctx context.Context, turn Turn) (Turn, error) {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	err := s.DB.QueryRowContext(ctx,
		s.DB.Rebind(`INSERT INTO context_history (user_id, role, content, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		turn.UserID, turn.Role, turn.Content, turn.CreatedAt.Unix(),
	).Scan(&turn.Sequence)
	if err != nil {
		return Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	return turn, nil
}

// ListTurns returns the user's turns ordered chronologically (oldest first).
func (s *SQLStore) ListTurns(ctx context.Context, userID int64) ([]Turn, error) {
	rows, err := s.DB.QueryContext(ctx,
		s.DB.Rebind(`SELECT id, role, content, created_at FROM context_history WHERE user_id = ? ORDER BY id ASC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var results []Turn
	for rows.Next() {
		var (
			t       Turn
			created int64
		)
		if err := rows.Scan(&t.Sequence, &t.Role, &t.Content, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.UserID = userID
		t.CreatedAt = time.Unix(created, 0).UTC()
		results = append(results, t)
	}
	return results, rows.Err()
}

func (s *SQLStore) DeleteTurn(ctx context.Context, sequence int64) error {
	if _, err := s.DB.ExecContext(ctx, s.DB.Rebind(`DELETE FROM context_history WHERE id = ?`), sequence); err != nil {
		return fmt.Errorf("delete turn %d: %w", sequence, err)
	}
	return nil
}
