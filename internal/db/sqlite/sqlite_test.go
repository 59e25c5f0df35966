// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/volantvm/reanaconda/internal/db"
)

func TestHandleRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	handles := store.Queries().Handles()

	if _, err := handles.Get(ctx); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}
	if err := handles.UpdateMonitorPort(ctx, 1234); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating missing handle, got %v", err)
	}

	in := &db.Handle{
		Args:         []string{"-m", "2G", "-append", "inst.updates=http://10.0.2.22 foo=bar"},
		MonitorPort:  40123,
		SnapshotName: "preupdates",
	}
	if err := handles.Put(ctx, in); err != nil {
		t.Fatalf("put handle: %v", err)
	}

	got, err := handles.Get(ctx)
	if err != nil {
		t.Fatalf("get handle: %v", err)
	}
	if len(got.Args) != 4 || got.Args[3] != "inst.updates=http://10.0.2.22 foo=bar" {
		t.Fatalf("unexpected args: %#v", got.Args)
	}
	if got.MonitorPort != 40123 || got.SnapshotName != "preupdates" {
		t.Fatalf("unexpected handle: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not populated: %+v", got)
	}

	if err := handles.UpdateMonitorPort(ctx, 40999); err != nil {
		t.Fatalf("update monitor port: %v", err)
	}
	in.Args = []string{"-append", "inst.updates=http://10.0.2.22"}
	if err := handles.Put(ctx, in); err != nil {
		t.Fatalf("replace handle: %v", err)
	}
	got, err = handles.Get(ctx)
	if err != nil {
		t.Fatalf("get replaced handle: %v", err)
	}
	if len(got.Args) != 2 || got.MonitorPort != 40123 {
		t.Fatalf("handle not replaced: %+v", got)
	}
}

func TestSessionRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	sessions := store.Queries().Sessions()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"first", "second"} {
		s := &db.Session{
			ID:            id,
			PayloadPath:   "/tmp/updates.img",
			PayloadSHA256: "abc",
			PayloadSize:   42,
			ResponderPort: 5000 + i,
			StartedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := sessions.Create(ctx, s); err != nil {
			t.Fatalf("create session %s: %v", id, err)
		}
	}

	if err := sessions.Finish(ctx, "first", db.SessionStatusExited, "", time.Now()); err != nil {
		t.Fatalf("finish session: %v", err)
	}
	if err := sessions.Finish(ctx, "missing", db.SessionStatusFailed, "boom", time.Now()); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound finishing unknown session, got %v", err)
	}

	first, err := sessions.Get(ctx, "first")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if first.Status != db.SessionStatusExited || first.FinishedAt == nil {
		t.Fatalf("session not finished: %+v", first)
	}

	recent, err := sessions.ListRecent(ctx, 5)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "second" {
		t.Fatalf("unexpected ordering: %+v", recent)
	}
	if recent[0].Status != db.SessionStatusRunning || recent[0].FinishedAt != nil {
		t.Fatalf("running session reported finished: %+v", recent[0])
	}
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	sentinel := errors.New("abort")
	err := store.WithTx(ctx, func(q db.Queries) error {
		if err := q.Handles().Put(ctx, &db.Handle{Args: []string{"-m", "1G"}, SnapshotName: "preupdates"}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if _, err := store.Queries().Handles().Get(ctx); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("handle survived rollback: %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	first, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := first.Queries().Handles().Put(ctx, &db.Handle{Args: []string{"-m", "1G"}, SnapshotName: "preupdates"}); err != nil {
		t.Fatalf("put handle: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("close store: %v", err)
	}

	second, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = second.Close(ctx) })
	if _, err := second.Queries().Handles().Get(ctx); err != nil {
		t.Fatalf("handle lost across reopen: %v", err)
	}
	var version int
	if err := second.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected schema version 1, got %d", version)
	}
}

func TestOpenKeepsURIMetacharactersInPath(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"ws#1", "ws?x", "ws 100%"} {
		parent := t.TempDir()
		dir := filepath.Join(parent, name)
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
		store, err := Open(ctx, filepath.Join(dir, "state.db"))
		if err != nil {
			t.Fatalf("open store in %s: %v", name, err)
		}
		if err := store.Close(ctx); err != nil {
			t.Fatalf("close store: %v", err)
		}

		if _, err := os.Stat(filepath.Join(dir, "state.db")); err != nil {
			t.Fatalf("state.db not created inside %s: %v", name, err)
		}
		entries, err := os.ReadDir(parent)
		if err != nil {
			t.Fatalf("read parent: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("expected only %s in parent, got %d entries", name, len(entries))
		}
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
