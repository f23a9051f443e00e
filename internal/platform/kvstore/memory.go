package kvstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. A single mutex serialises every update.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, collection string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneBytes(m.data[collection]), nil
}

// Update implements Store.
func (m *Memory) Update(ctx context.Context, collections []string, fn MutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[string][]byte, len(collections))
	for _, name := range collections {
		current[name] = cloneBytes(m.data[name])
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	for _, name := range collections {
		if raw, ok := next[name]; ok {
			m.data[name] = cloneBytes(raw)
		}
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
