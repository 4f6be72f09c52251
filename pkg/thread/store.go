package thread

import (
	"context"
	"sync"

	"github.com/adrianliechti/wingman-gateway/pkg/agent"
)

// Store persists the message sequence of each thread. Appending to an
// unknown thread creates it.
type Store interface {
	Load(ctx context.Context, id string) ([]agent.Message, error)
	Append(ctx context.Context, id string, messages []agent.Message) error
}

// MemoryStore keeps threads in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]agent.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]agent.Message),
	}
}

func (s *MemoryStore) Load(_ context.Context, id string) ([]agent.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return agent.CloneMessages(s.threads[id]), nil
}

func (s *MemoryStore) Append(_ context.Context, id string, messages []agent.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads[id] = append(s.threads[id], agent.CloneMessages(messages)...)

	return nil
}
