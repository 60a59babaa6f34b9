package store

import (
	"context"
	"sync"

	"github.com/vouchmesh/vouchmesh/internal/domain"
)

// InMemoryStore is the contract-state backend for development and
// tests: a map of blobs with edge-triggered change notification.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	subs  map[string][]chan domain.StateChange
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		blobs: make(map[string][]byte),
		subs:  make(map[string][]chan domain.StateChange),
	}
}

func (s *InMemoryStore) GetState(ctx context.Context, contract string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[contract]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (s *InMemoryStore) SaveState(ctx context.Context, contract string, blob []byte) error {
	stored := make([]byte, len(blob))
	copy(stored, blob)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[contract] = stored

	// Notifications coalesce: a slow subscriber sees at least one change
	// and reloads the full state, so dropped signals lose nothing. Sends
	// stay under the lock so a concurrent unsubscribe cannot close a
	// channel between the snapshot and the send.
	for _, ch := range s.subs[contract] {
		select {
		case ch <- domain.StateChange{Contract: contract}:
		default:
		}
	}
	return nil
}

func (s *InMemoryStore) Subscribe(ctx context.Context, contract string) (<-chan domain.StateChange, error) {
	ch := make(chan domain.StateChange, 1)

	s.mu.Lock()
	s.subs[contract] = append(s.subs[contract], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		subs := s.subs[contract]
		for i, sub := range subs {
			if sub == ch {
				s.subs[contract] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		// Close under the lock so SaveState never sends on a closed channel.
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}
