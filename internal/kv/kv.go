// Package kv provides the account record store: string keys holding either a
// field record (string field -> int64) or a member set, with optimistic
// watch/conditional-commit transactions.
package kv

import (
	"context"
	"errors"
)

// ErrConflict is returned by Tx when a watched key was modified between the
// snapshot and the commit attempt. Run absorbs it by retrying.
var ErrConflict = errors.New("kv: watched key changed")

// Watch names the keys a transaction observes. Every key listed must be
// unchanged at commit time for the write to land.
type Watch struct {
	Records []string
	Sets    []string
}

func (w Watch) keys() []string {
	out := make([]string, 0, len(w.Records)+len(w.Sets))
	out = append(out, w.Records...)
	return append(out, w.Sets...)
}

// Snapshot is a consistent view of the watched keys. Absent keys read as
// zeroed records and empty sets.
type Snapshot struct {
	records map[string]map[string]int64
	sets    map[string]map[string]struct{}
}

// HasRecord reports whether the record key existed at snapshot time.
func (s Snapshot) HasRecord(key string) bool {
	return len(s.records[key]) > 0
}

// Field returns the value of a record field, zero when the key or field is
// absent.
func (s Snapshot) Field(key, field string) int64 {
	return s.records[key][field]
}

// Contains reports set membership at snapshot time.
func (s Snapshot) Contains(key, member string) bool {
	_, ok := s.sets[key][member]
	return ok
}

type opKind int

const (
	opIncrField opKind = iota
	opSetField
	opSetFields
	opAddMember
)

type writeOp struct {
	kind   opKind
	key    string
	field  string
	member string
	value  int64
	fields map[string]int64
}

// Write is the staged effect of a transaction. All operations commit
// together or not at all.
type Write struct {
	ops []writeOp
}

// IncrField adds delta to a record field, creating key and field at zero
// when absent.
func (w *Write) IncrField(key, field string, delta int64) {
	w.ops = append(w.ops, writeOp{kind: opIncrField, key: key, field: field, value: delta})
}

// SetField stores an absolute field value.
func (w *Write) SetField(key, field string, value int64) {
	w.ops = append(w.ops, writeOp{kind: opSetField, key: key, field: field, value: value})
}

// SetFields stores several absolute field values on one key.
func (w *Write) SetFields(key string, fields map[string]int64) {
	copied := make(map[string]int64, len(fields))
	for f, v := range fields {
		copied[f] = v
	}
	w.ops = append(w.ops, writeOp{kind: opSetFields, key: key, fields: copied})
}

// AddMember adds a member to a set key.
func (w *Write) AddMember(key, member string) {
	w.ops = append(w.ops, writeOp{kind: opAddMember, key: key, member: member})
}

func (w *Write) empty() bool {
	return w == nil || len(w.ops) == 0
}

// touchedKeys lists every key the write modifies, in first-touch order.
func (w *Write) touchedKeys() []string {
	seen := make(map[string]struct{}, len(w.ops))
	var out []string
	for _, op := range w.ops {
		if _, ok := seen[op.key]; ok {
			continue
		}
		seen[op.key] = struct{}{}
		out = append(out, op.key)
	}
	return out
}

// DecideFunc inspects a snapshot and either stages a write, aborts with an
// error, or returns (nil, nil) to commit nothing.
type DecideFunc func(Snapshot) (*Write, error)

// Store is the backing store contract. Tx snapshots the watched keys,
// invokes decide and conditionally commits the staged write; it returns
// ErrConflict when a watched key changed in between, and decide's error
// unchanged when decide aborts. The remaining methods are plain reads used
// by the query surface.
type Store interface {
	Tx(ctx context.Context, watch Watch, decide DecideFunc) error

	Exists(ctx context.Context, key string) (bool, error)
	Field(ctx context.Context, key, field string) (int64, error)
	Members(ctx context.Context, key string) ([]string, error)
	Contains(ctx context.Context, key, member string) (bool, error)
}

// Run executes decide through s.Tx until it commits or aborts. Conflicts
// retry from a fresh snapshot with no attempt bound and no backoff; a
// request racing a persistent writer stream keeps retrying until the store
// itself fails, typically on context cancellation.
func Run(ctx context.Context, s Store, watch Watch, decide DecideFunc) error {
	for {
		err := s.Tx(ctx, watch, decide)
		if errors.Is(err, ErrConflict) {
			continue
		}
		return err
	}
}
