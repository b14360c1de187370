package history

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is an in-process TurnStore for tests and local runs.
type InMemoryStore struct {
	mu    sync.RWMutex
	seq   int64
	turns map[int64][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{turns: make(map[int64][]Turn)}
}

func (s *InMemoryStore) AppendTurn(_ context.Context, turn Turn) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	turn.Sequence = s.seq
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns[turn.UserID] = append(s.turns[turn.UserID], turn)
	return turn, nil
}

func (s *InMemoryStore) ListTurns(_ context.Context, userID int64) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]Turn, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) DeleteTurn(_ context.Context, sequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for user, arr := range s.turns {
		for i, t := range arr {
			if t.Sequence != sequence {
				continue
			}
			arr = append(arr[:i:i], arr[i+1:]...)
			if len(arr) == 0 {
				delete(s.turns, user)
			} else {
				s.turns[user] = arr
			}
			return nil
		}
	}
	return nil
}
