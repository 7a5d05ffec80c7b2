package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Store with per-key version counters standing in
// for the watch mechanism. The decision function runs without the lock
// held, so concurrent transactions genuinely race and lose to ErrConflict
// the same way they would against a remote store.
type Memory struct {
	mu       sync.Mutex
	records  map[string]map[string]int64
	sets     map[string]map[string]struct{}
	versions map[string]uint64
}

func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]map[string]int64),
		sets:     make(map[string]map[string]struct{}),
		versions: make(map[string]uint64),
	}
}

func (m *Memory) Tx(ctx context.Context, watch Watch, decide DecideFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	snap := Snapshot{
		records: make(map[string]map[string]int64, len(watch.Records)),
		sets:    make(map[string]map[string]struct{}, len(watch.Sets)),
	}
	seen := make(map[string]uint64, len(watch.Records)+len(watch.Sets))
	for _, key := range watch.Records {
		if fields, ok := m.records[key]; ok {
			copied := make(map[string]int64, len(fields))
			for f, v := range fields {
				copied[f] = v
			}
			snap.records[key] = copied
		}
		seen[key] = m.versions[key]
	}
	for _, key := range watch.Sets {
		if members, ok := m.sets[key]; ok {
			copied := make(map[string]struct{}, len(members))
			for member := range members {
				copied[member] = struct{}{}
			}
			snap.sets[key] = copied
		}
		seen[key] = m.versions[key]
	}
	m.mu.Unlock()

	write, err := decide(snap)
	if err != nil {
		return err
	}
	if write.empty() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, version := range seen {
		if m.versions[key] != version {
			return ErrConflict
		}
	}
	for _, op := range write.ops {
		switch op.kind {
		case opIncrField:
			m.record(op.key)[op.field] += op.value
		case opSetField:
			m.record(op.key)[op.field] = op.value
		case opSetFields:
			fields := m.record(op.key)
			for f, v := range op.fields {
				fields[f] = v
			}
		case opAddMember:
			m.set(op.key)[op.member] = struct{}{}
		}
	}
	for _, key := range write.touchedKeys() {
		m.versions[key]++
	}
	return nil
}

// record returns the live field map for key, creating it when absent.
// Callers must hold mu.
func (m *Memory) record(key string) map[string]int64 {
	fields, ok := m.records[key]
	if !ok {
		fields = make(map[string]int64)
		m.records[key] = fields
	}
	return fields
}

// set returns the live member set for key, creating it when absent.
// Callers must hold mu.
func (m *Memory) set(key string) map[string]struct{} {
	members, ok := m.sets[key]
	if !ok {
		members = make(map[string]struct{})
		m.sets[key] = members
	}
	return members
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[key]) > 0, nil
}

func (m *Memory) Field(ctx context.Context, key, field string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[key][field], nil
}

func (m *Memory) Members(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *Memory) Contains(ctx context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[key][member]
	return ok, nil
}
