package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/atriumhq/atrium/internal/host/db"
)

func TestAppRepositoryUpsertAndList(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	apps := store.Queries().Apps()

	if err := apps.Upsert(ctx, db.App{Name: "alpha", Version: "1.0.0", Enabled: true, Metadata: []byte(`{"title":"Alpha"}`)}); err != nil {
		t.Fatalf("upsert app: %v", err)
	}

	fetched, err := apps.GetByName(ctx, "alpha")
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	if fetched == nil || fetched.Version != "1.0.0" || !fetched.Enabled {
		t.Fatalf("unexpected app fetched: %+v", fetched)
	}
	if fetched.InstalledAt.IsZero() || fetched.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not populated: %+v", fetched)
	}

	// Upsert with the same name must update in place, not duplicate.
	if err := apps.Upsert(ctx, db.App{Name: "alpha", Version: "1.1.0", Enabled: true}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	listed, err := apps.List(ctx)
	if err != nil {
		t.Fatalf("list apps: %v", err)
	}
	if len(listed) != 1 || listed[0].Version != "1.1.0" {
		t.Fatalf("unexpected list after upsert: %+v", listed)
	}

	if err := apps.SetEnabled(ctx, "alpha", false); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	disabled, err := apps.GetByName(ctx, "alpha")
	if err != nil {
		t.Fatalf("get disabled app: %v", err)
	}
	if disabled.Enabled {
		t.Fatalf("app still enabled after SetEnabled(false)")
	}

	if err := apps.Delete(ctx, "alpha"); err != nil {
		t.Fatalf("delete app: %v", err)
	}
	removed, err := apps.GetByName(ctx, "alpha")
	if err != nil {
		t.Fatalf("get removed app: %v", err)
	}
	if removed != nil {
		t.Fatalf("expected nil after delete, got %+v", removed)
	}
}

func TestInstanceRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	if err := store.Queries().Apps().Upsert(ctx, db.App{Name: "alpha", Version: "1.0.0", Enabled: true}); err != nil {
		t.Fatalf("upsert app: %v", err)
	}

	instances := store.Queries().Instances()
	inst := &db.Instance{InstanceID: "i-1", AppName: "alpha", Status: db.InstanceStatusLoading}
	if _, err := instances.Create(ctx, inst); err != nil {
		t.Fatalf("create instance: %v", err)
	}

	fetched, err := instances.GetByInstanceID(ctx, "i-1")
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if fetched == nil || fetched.Status != db.InstanceStatusLoading {
		t.Fatalf("unexpected instance fetched: %+v", fetched)
	}

	if err := instances.UpdateStatus(ctx, "i-1", db.InstanceStatusLoaded, "ready"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	updated, err := instances.GetByInstanceID(ctx, "i-1")
	if err != nil {
		t.Fatalf("get updated instance: %v", err)
	}
	if updated.Status != db.InstanceStatusLoaded || updated.Message != "ready" {
		t.Fatalf("status not updated: %+v", updated)
	}

	if err := instances.UpdateStatus(ctx, "i-missing", db.InstanceStatusLoaded, ""); err == nil {
		t.Fatalf("expected error updating unknown instance")
	}

	listed, err := instances.List(ctx)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(listed))
	}

	if err := instances.Delete(ctx, "i-1"); err != nil {
		t.Fatalf("delete instance: %v", err)
	}
	gone, err := instances.GetByInstanceID(ctx, "i-1")
	if err != nil {
		t.Fatalf("get deleted instance: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected nil after delete, got %+v", gone)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close(ctx) })

	sentinel := context.Canceled
	err := store.WithTx(ctx, func(q db.Queries) error {
		if err := q.Apps().Upsert(ctx, db.App{Name: "ephemeral", Version: "0.1.0"}); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	app, err := store.Queries().Apps().GetByName(ctx, "ephemeral")
	if err != nil {
		t.Fatalf("get app after rollback: %v", err)
	}
	if app != nil {
		t.Fatalf("expected rollback to discard app, got %+v", app)
	}
}

func TestTimestampCoercionHandlesRFC3339(t *testing.T) {
	ts, err := coerceTime("2026-08-25T12:34:56Z")
	if err != nil {
		t.Fatalf("coerceTime: %v", err)
	}
	if ts.UTC().Format(time.RFC3339) != "2026-08-25T12:34:56Z" {
		t.Fatalf("unexpected coerced time: %s", ts)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	return store
}
