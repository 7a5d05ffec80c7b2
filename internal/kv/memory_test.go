package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestTxCommitsAllOpsTogether(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	watch := Watch{Records: []string{"user:a"}, Sets: []string{"inv:a"}}

	err := m.Tx(ctx, watch, func(snap Snapshot) (*Write, error) {
		if snap.HasRecord("user:a") {
			t.Fatalf("expected empty snapshot")
		}
		w := &Write{}
		w.SetFields("user:a", map[string]int64{"balance": 100, "count": 0})
		w.IncrField("user:a", "balance", -30)
		w.AddMember("inv:a", "fame")
		return w, nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	balance, err := m.Field(ctx, "user:a", "balance")
	if err != nil || balance != 70 {
		t.Fatalf("balance=%d err=%v want 70", balance, err)
	}
	owned, err := m.Contains(ctx, "inv:a", "fame")
	if err != nil || !owned {
		t.Fatalf("owned=%v err=%v want true", owned, err)
	}
	exists, err := m.Exists(ctx, "user:a")
	if err != nil || !exists {
		t.Fatalf("exists=%v err=%v want true", exists, err)
	}
}

func TestTxAbortWritesNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	watch := Watch{Records: []string{"user:a"}}
	abort := errors.New("guard failed")

	err := m.Tx(ctx, watch, func(Snapshot) (*Write, error) {
		w := &Write{}
		w.SetField("user:a", "balance", 999)
		return w, abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	exists, _ := m.Exists(ctx, "user:a")
	if exists {
		t.Fatalf("abort must not write")
	}
}

func TestTxNilWriteCommitsNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	err := m.Tx(ctx, Watch{Records: []string{"user:a"}}, func(Snapshot) (*Write, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("nil write should succeed: %v", err)
	}
	exists, _ := m.Exists(ctx, "user:a")
	if exists {
		t.Fatalf("nil write must not create keys")
	}
}

func TestTxConflictOnInterleavedWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	watch := Watch{Records: []string{"user:a"}}

	err := m.Tx(ctx, watch, func(Snapshot) (*Write, error) {
		// A competing transaction lands between snapshot and commit.
		innerErr := m.Tx(ctx, watch, func(Snapshot) (*Write, error) {
			w := &Write{}
			w.IncrField("user:a", "balance", 1)
			return w, nil
		})
		if innerErr != nil {
			t.Fatalf("inner tx failed: %v", innerErr)
		}
		w := &Write{}
		w.IncrField("user:a", "balance", 1)
		return w, nil
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	balance, _ := m.Field(ctx, "user:a", "balance")
	if balance != 1 {
		t.Fatalf("only the inner write may land, balance=%d", balance)
	}
}

func TestTxConflictOnWatchedSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	watch := Watch{Sets: []string{"inv:a"}}

	err := m.Tx(ctx, watch, func(snap Snapshot) (*Write, error) {
		if snap.Contains("inv:a", "fame") {
			t.Fatalf("fame must not be owned yet")
		}
		innerErr := m.Tx(ctx, watch, func(Snapshot) (*Write, error) {
			w := &Write{}
			w.AddMember("inv:a", "fame")
			return w, nil
		})
		if innerErr != nil {
			t.Fatalf("inner tx failed: %v", innerErr)
		}
		w := &Write{}
		w.AddMember("inv:a", "fame")
		return w, nil
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRunRetriesUntilCommit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	watch := Watch{Records: []string{"user:a"}}

	attempts := 0
	err := Run(ctx, m, watch, func(Snapshot) (*Write, error) {
		attempts++
		if attempts == 1 {
			if err := m.Tx(ctx, watch, func(Snapshot) (*Write, error) {
				w := &Write{}
				w.IncrField("user:a", "other", 1)
				return w, nil
			}); err != nil {
				t.Fatalf("interfering tx failed: %v", err)
			}
		}
		w := &Write{}
		w.IncrField("user:a", "balance", 1)
		return w, nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts=%d want 2", attempts)
	}
	balance, _ := m.Field(ctx, "user:a", "balance")
	if balance != 1 {
		t.Fatalf("retried decision double-applied: balance=%d", balance)
	}
}

func TestRunPropagatesAbort(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	abort := errors.New("no")
	err := Run(ctx, m, Watch{Records: []string{"user:a"}}, func(Snapshot) (*Write, error) {
		return nil, abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort, got %v", err)
	}
}

func TestConcurrentIncrementsAreLossless(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	watch := Watch{Records: []string{"user:a"}}

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := Run(ctx, m, watch, func(Snapshot) (*Write, error) {
				w := &Write{}
				w.IncrField("user:a", "balance", 1)
				return w, nil
			})
			if err != nil {
				t.Errorf("run failed: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, _ := m.Field(ctx, "user:a", "balance")
	if balance != n {
		t.Fatalf("lost updates: balance=%d want %d", balance, n)
	}
}

func TestMembersAndFieldDefaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	members, err := m.Members(ctx, "inv:missing")
	if err != nil || len(members) != 0 {
		t.Fatalf("members=%v err=%v want empty", members, err)
	}
	balance, err := m.Field(ctx, "user:missing", "balance")
	if err != nil || balance != 0 {
		t.Fatalf("balance=%d err=%v want 0", balance, err)
	}
	owned, err := m.Contains(ctx, "inv:missing", "fame")
	if err != nil || owned {
		t.Fatalf("owned=%v err=%v want false", owned, err)
	}
}
