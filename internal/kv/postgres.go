package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv_versions (
	key TEXT PRIMARY KEY,
	version BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS kv_records (
	key TEXT PRIMARY KEY,
	fields JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE TABLE IF NOT EXISTS kv_set_members (
	key TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (key, member)
);
`

// Postgres implements Store with a version column per key: the commit is a
// compare-and-swap on kv_versions, so a watched key written by a concurrent
// transaction fails the swap and the whole commit rolls back as ErrConflict.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, db *pgxpool.Pool) (*Postgres, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create kv schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Tx(ctx context.Context, watch Watch, decide DecideFunc) error {
	snap, versions, err := p.snapshot(ctx, watch)
	if err != nil {
		return err
	}

	write, err := decide(snap)
	if err != nil {
		return err
	}
	if write.empty() {
		return nil
	}

	return p.commit(ctx, snap, versions, write)
}

// snapshot reads the watched keys and their versions inside one repeatable
// read transaction, so the decision function never sees a torn view.
func (p *Postgres) snapshot(ctx context.Context, watch Watch) (Snapshot, map[string]int64, error) {
	snap := Snapshot{
		records: make(map[string]map[string]int64, len(watch.Records)),
		sets:    make(map[string]map[string]struct{}, len(watch.Sets)),
	}
	versions := make(map[string]int64, len(watch.Records)+len(watch.Sets))

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return snap, nil, err
	}
	defer tx.Rollback(ctx)

	for _, key := range append(append([]string{}, watch.Records...), watch.Sets...) {
		var version int64
		err := tx.QueryRow(ctx, `SELECT version FROM kv_versions WHERE key = $1`, key).Scan(&version)
		if err != nil && err != pgx.ErrNoRows {
			return snap, nil, err
		}
		versions[key] = version
	}
	for _, key := range watch.Records {
		var raw []byte
		err := tx.QueryRow(ctx, `SELECT fields FROM kv_records WHERE key = $1`, key).Scan(&raw)
		if err == pgx.ErrNoRows {
			continue
		}
		if err != nil {
			return snap, nil, err
		}
		fields := make(map[string]int64)
		if err := json.Unmarshal(raw, &fields); err != nil {
			return snap, nil, fmt.Errorf("record %s: %w", key, err)
		}
		snap.records[key] = fields
	}
	for _, key := range watch.Sets {
		rows, err := tx.Query(ctx, `SELECT member FROM kv_set_members WHERE key = $1`, key)
		if err != nil {
			return snap, nil, err
		}
		set := make(map[string]struct{})
		for rows.Next() {
			var member string
			if err := rows.Scan(&member); err != nil {
				rows.Close()
				return snap, nil, err
			}
			set[member] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return snap, nil, err
		}
		snap.sets[key] = set
	}
	return snap, versions, tx.Commit(ctx)
}

func (p *Postgres) commit(ctx context.Context, snap Snapshot, versions map[string]int64, write *Write) error {
	touched := make(map[string]struct{})
	for _, key := range write.touchedKeys() {
		touched[key] = struct{}{}
	}

	// Keys are swapped in sorted order so concurrent commits cannot
	// deadlock on each other's row locks.
	keys := make([]string, 0, len(versions))
	for key := range versions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, key := range keys {
		_, bump := touched[key]
		ok, err := swapVersion(ctx, tx, key, versions[key], bump)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
	}

	records, members := write.materialize(snap)
	for key, fields := range records {
		raw, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO kv_records (key, fields)
			VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET fields = EXCLUDED.fields
		`, key, raw); err != nil {
			return err
		}
	}
	for key, add := range members {
		for _, member := range add {
			if _, err := tx.Exec(ctx, `
				INSERT INTO kv_set_members (key, member)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, key, member); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

// swapVersion performs the compare-and-swap for one watched key. A key that
// was absent at snapshot time is claimed by inserting its first version
// row; losing that insert means another transaction got there first.
func swapVersion(ctx context.Context, tx pgx.Tx, key string, seen int64, bump bool) (bool, error) {
	next := seen
	if bump {
		next++
	}
	if seen == 0 {
		tag, err := tx.Exec(ctx, `
			INSERT INTO kv_versions (key, version)
			VALUES ($1, $2)
			ON CONFLICT (key) DO NOTHING
		`, key, next)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	}
	tag, err := tx.Exec(ctx, `
		UPDATE kv_versions SET version = $1
		WHERE key = $2 AND version = $3
	`, next, key, seen)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// materialize folds the staged operations over the snapshot, returning the
// final field maps and set additions per key. Valid only while the watched
// versions still hold, which commit guarantees.
func (w *Write) materialize(snap Snapshot) (map[string]map[string]int64, map[string][]string) {
	records := make(map[string]map[string]int64)
	members := make(map[string][]string)
	fieldsFor := func(key string) map[string]int64 {
		if fields, ok := records[key]; ok {
			return fields
		}
		fields := make(map[string]int64)
		for f, v := range snap.records[key] {
			fields[f] = v
		}
		records[key] = fields
		return fields
	}
	for _, op := range w.ops {
		switch op.kind {
		case opIncrField:
			fieldsFor(op.key)[op.field] += op.value
		case opSetField:
			fieldsFor(op.key)[op.field] = op.value
		case opSetFields:
			fields := fieldsFor(op.key)
			for f, v := range op.fields {
				fields[f] = v
			}
		case opAddMember:
			members[op.key] = append(members[op.key], op.member)
		}
	}
	return records, members
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM kv_records WHERE key = $1)`, key).Scan(&ok)
	return ok, err
}

func (p *Postgres) Field(ctx context.Context, key, field string) (int64, error) {
	var value int64
	err := p.db.QueryRow(ctx, `
		SELECT COALESCE(fields->>$2, '0')::bigint FROM kv_records WHERE key = $1
	`, key, field).Scan(&value)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return value, err
}

func (p *Postgres) Members(ctx context.Context, key string) ([]string, error) {
	rows, err := p.db.Query(ctx, `SELECT member FROM kv_set_members WHERE key = $1`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		out = append(out, member)
	}
	return out, rows.Err()
}

func (p *Postgres) Contains(ctx context.Context, key, member string) (bool, error) {
	var ok bool
	err := p.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM kv_set_members WHERE key = $1 AND member = $2)
	`, key, member).Scan(&ok)
	return ok, err
}
