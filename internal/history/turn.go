// Package history keeps each user's bounded conversation history. The
// history feeds LLM prompts and serves as an audit trail of the dialogue.
package history

import (
	"context"
	"fmt"
	"time"
)

// Roles a turn can have.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one recorded message. Turns are never mutated after creation;
// Sequence is assigned by the record store and is monotonic.
type Turn struct {
	UserID    int64
	Role      string
	Content   string
	Sequence  int64
	CreatedAt time.Time
}

// TurnStore is the persistence collaborator behind the Store.
type TurnStore interface {
	// AppendTurn records turn and returns it with Sequence set.
	AppendTurn(ctx context.Context, turn Turn) (Turn, error)
	// ListTurns returns the user's turns ordered by Sequence, oldest first.
	ListTurns(ctx context.Context, userID int64) ([]Turn, error)
	// DeleteTurn removes one turn by sequence.
	DeleteTurn(ctx context.Context, sequence int64) error
}

// StorageError reports that the record store could not be reached.
type StorageError struct {
	Op     string
	UserID int64
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history %s user_id=%d: %v", e.Op, e.UserID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
