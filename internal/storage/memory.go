package storage

import (
	"context"
	"sync"
)

type slotKey struct {
	jobID string
	slot  int
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.Mutex
	states map[Key]*ChatState
	people map[Key]*Person
	slots  map[slotKey]string
}

func NewMemory() *Memory {
	return &Memory{
		states: make(map[Key]*ChatState),
		people: make(map[Key]*Person),
		slots:  make(map[slotKey]string),
	}
}

func (m *Memory) Load(ctx context.Context, key Key, first string) (*ChatState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.states[key]; ok {
		return state.Clone(), nil
	}
	return NewChatState(key, first), nil
}

func (m *Memory) Save(ctx context.Context, state *ChatState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := state.Key()
	var stored int64
	if current, ok := m.states[key]; ok {
		stored = current.Version
	}
	if stored != state.Version {
		return ErrConflict
	}

	state.Version++
	m.states[key] = state.Clone()
	return nil
}

func (m *Memory) LoadPerson(ctx context.Context, key Key) (*Person, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.people[key]; ok {
		return p.Clone(), nil
	}
	return &Person{Platform: key.Platform, UserID: key.UserID}, nil
}

func (m *Memory) SavePerson(ctx context.Context, person *Person) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.people[person.Key()] = person.Clone()
	return nil
}

func (m *Memory) Book(ctx context.Context, jobID string, slot int, holder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := slotKey{jobID: jobID, slot: slot}
	if _, taken := m.slots[k]; taken {
		return ErrSlotTaken
	}
	m.slots[k] = holder
	return nil
}

func (m *Memory) Release(ctx context.Context, jobID string, slot int, holder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := slotKey{jobID: jobID, slot: slot}
	if m.slots[k] == holder {
		delete(m.slots, k)
	}
	return nil
}

func (m *Memory) Booked(ctx context.Context, jobID string, n int) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n < 0 {
		n = 0
	}
	out := make([]bool, n)
	for i := range out {
		_, out[i] = m.slots[slotKey{jobID: jobID, slot: i}]
	}
	return out, nil
}
