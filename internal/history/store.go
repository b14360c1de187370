package history

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/officebot/internal/userlock"
)

// Limits bound one user's history. A value <= 0 disables that bound.
type Limits struct {
	MaxMessages int
	MaxChars    int
}

// Store appends and trims per-user turns. All mutation for a user runs
// under that user's lock so concurrent events cannot interleave an
// append with another event's trim.
type Store struct {
	turns  TurnStore
	limits Limits
	locks  *userlock.Locker
	log    *zap.Logger
	now    func() time.Time
}

func NewStore(turns TurnStore, limits Limits, log *zap.Logger) *Store {
	return &Store{
		turns:  turns,
		limits: limits,
		locks:  userlock.New(),
		log:    log.Named("history"),
		now:    time.Now,
	}
}

func (s *Store) Limits() Limits { return s.limits }

// Append records a turn and trims the user's history right after.
// A failed trim leaves the turn recorded; the next Append retries it.
func (s *Store) Append(ctx context.Context, userID int64, role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("invalid role %q", role)
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	turn := Turn{UserID: userID, Role: role, Content: content, CreatedAt: s.now().UTC()}
	if _, err := s.turns.AppendTurn(ctx, turn); err != nil {
		return &StorageError{Op: "append", UserID: userID, Err: err}
	}
	return s.trimLocked(ctx, userID)
}

// History returns the user's turns, oldest first.
func (s *Store) History(ctx context.Context, userID int64) ([]Turn, error) {
	turns, err := s.turns.ListTurns(ctx, userID)
	if err != nil {
		return nil, &StorageError{Op: "list", UserID: userID, Err: err}
	}
	return turns, nil
}

// Trim removes the oldest turns until both limits hold.
func (s *Store) Trim(ctx context.Context, userID int64) error {
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.trimLocked(ctx, userID)
}

func (s *Store) trimLocked(ctx context.Context, userID int64) error {
	turns, err := s.turns.ListTurns(ctx, userID)
	if err != nil {
		return &StorageError{Op: "trim", UserID: userID, Err: err}
	}
	total := TotalChars(turns)
	for len(turns) > 0 && s.exceeds(len(turns), total) {
		oldest := turns[0]
		if err := s.turns.DeleteTurn(ctx, oldest.Sequence); err != nil {
			return &StorageError{Op: "trim", UserID: userID, Err: err}
		}
		turns = turns[1:]
		total -= utf8.RuneCountInString(oldest.Content)
		s.log.Debug("trimmed turn",
			zap.Int64("user_id", userID),
			zap.Int64("sequence", oldest.Sequence))
	}
	return nil
}

func (s *Store) exceeds(count, chars int) bool {
	if s.limits.MaxMessages > 0 && count > s.limits.MaxMessages {
		return true
	}
	return s.limits.MaxChars > 0 && chars > s.limits.MaxChars
}

// TotalChars is the summed content length of turns, in runes.
func TotalChars(turns []Turn) int {
	n := 0
	for _, t := range turns {
		n += utf8.RuneCountInString(t.Content)
	}
	return n
}
