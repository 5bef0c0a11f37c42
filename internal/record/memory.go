package record

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// Memory is an in-memory record keeper. Use in tests. Events are stored in
// wire form so tampering tests can mutate the raw bytes.
type Memory struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID][]byte
	order []uuid.UUID
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[uuid.UUID][]byte)}
}

func (rk *Memory) Append(ev *gonk.Event) error {
	rk.mu.Lock()
	defer rk.mu.Unlock()

	if _, ok := rk.byID[ev.UUID]; ok {
		return gonk.Validationf("event-uuid", "event UUID already exists")
	}
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	rk.byID[ev.UUID] = data
	rk.order = append(rk.order, ev.UUID)
	return nil
}

func (rk *Memory) Read(id uuid.UUID) (*gonk.Event, error) {
	rk.mu.RLock()
	data, ok := rk.byID[id]
	rk.mu.RUnlock()
	if !ok {
		return nil, gonk.NotFoundf("event", "%s", id)
	}
	return gonk.Decode(data)
}

func (rk *Memory) At(seq uint64) (*gonk.Event, error) {
	rk.mu.RLock()
	defer rk.mu.RUnlock()
	if seq >= uint64(len(rk.order)) {
		return nil, gonk.NotFoundf("event", "seq %d", seq)
	}
	return gonk.Decode(rk.byID[rk.order[seq]])
}

func (rk *Memory) Exists(id uuid.UUID) (bool, error) {
	rk.mu.RLock()
	defer rk.mu.RUnlock()
	_, ok := rk.byID[id]
	return ok, nil
}

func (rk *Memory) Next(after *uuid.UUID) (*uuid.UUID, error) {
	rk.mu.RLock()
	defer rk.mu.RUnlock()

	if after == nil {
		if len(rk.order) == 0 {
			return nil, nil
		}
		head := rk.order[0]
		return &head, nil
	}
	for i, id := range rk.order {
		if id == *after {
			if i+1 >= len(rk.order) {
				return nil, nil
			}
			next := rk.order[i+1]
			return &next, nil
		}
	}
	return nil, gonk.NotFoundf("event", "%s", *after)
}

func (rk *Memory) Tail() (*uuid.UUID, error) {
	rk.mu.RLock()
	defer rk.mu.RUnlock()
	if len(rk.order) == 0 {
		return nil, nil
	}
	tail := rk.order[len(rk.order)-1]
	return &tail, nil
}

func (rk *Memory) Count() (uint64, error) {
	rk.mu.RLock()
	defer rk.mu.RUnlock()
	return uint64(len(rk.order)), nil
}

// Tamper overwrites the stored wire bytes for id. Test hook for chain
// verification.
func (rk *Memory) Tamper(id uuid.UUID, data []byte) {
	rk.mu.Lock()
	defer rk.mu.Unlock()
	if _, ok := rk.byID[id]; ok {
		rk.byID[id] = data
	}
}

var _ gonk.RecordKeeper = (*Memory)(nil)
