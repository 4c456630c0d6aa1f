package backplane

import (
	"context"
	"errors"
	"sync"

	"github.com/twinelabs/twine/internal/models"
)

// ErrClosed is returned by operations on a closed backplane.
var ErrClosed = errors.New("backplane closed")

// Memory is a process-local backplane for single-node deployments and
// tests. Handlers run synchronously on the publishing goroutine.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

// NewMemory creates a new in-process backplane.
func NewMemory() *Memory {
	return &Memory{
		subs: make(map[string]map[int]Handler),
	}
}

func (m *Memory) Publish(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(m.subs[msg.Room]))
	for _, fn := range m.subs[msg.Room] {
		handlers = append(handlers, fn)
	}
	m.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
	return nil
}

func (m *Memory) Subscribe(room string, fn Handler) (func() error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if m.subs[room] == nil {
		m.subs[room] = make(map[int]Handler)
	}
	id := m.nextID
	m.nextID++
	m.subs[room][id] = fn

	cancel := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.subs[room], id)
		if len(m.subs[room]) == 0 {
			delete(m.subs, room)
		}
		return nil
	}
	return cancel, nil
}

// Subscribers reports how many handlers are registered for a room.
func (m *Memory) Subscribers(room string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.subs[room])
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.subs = make(map[string]map[int]Handler)
	return nil
}
