package runs_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"magpie/internal/runs"
)

func openStore(t *testing.T) *runs.Store {
	t.Helper()
	store, err := runs.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	run, err := store.Create(ctx, []string{"cache", "classify"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if run.Status != runs.StatusQueued {
		t.Fatalf("expected queued, got %s", run.Status)
	}

	if err := store.Begin(ctx, run.ID); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := store.UpdateProgress(ctx, run.ID, "classify", 40, "classifying"); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if err := store.Finish(ctx, run.ID, runs.StatusSucceeded, "done", "report body"); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != runs.StatusSucceeded || got.Report != "report body" {
		t.Fatalf("unexpected run %+v", got)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("expected timestamps set")
	}
	if len(got.Phases) != 2 || got.Phases[1] != "classify" {
		t.Fatalf("unexpected phases %v", got.Phases)
	}
}

func TestOnlyOneRunning(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, _ := store.Create(ctx, nil)
	second, _ := store.Create(ctx, nil)
	if err := store.Begin(ctx, first.ID); err != nil {
		t.Fatalf("Begin first failed: %v", err)
	}
	if err := store.Begin(ctx, second.ID); !errors.Is(err, runs.ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	if err := store.Finish(ctx, first.ID, runs.StatusCancelled, "stopped", ""); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if err := store.Begin(ctx, second.ID); err != nil {
		t.Fatalf("Begin after release failed: %v", err)
	}
}

func TestTerminalImmutable(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	run, _ := store.Create(ctx, nil)
	if err := store.Begin(ctx, run.ID); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := store.Finish(ctx, run.ID, runs.StatusFailed, "boom", ""); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if err := store.Finish(ctx, run.ID, runs.StatusSucceeded, "nope", ""); !errors.Is(err, runs.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	if err := store.UpdateProgress(ctx, run.ID, "cache", 10, "late"); err == nil {
		t.Fatal("expected progress update on terminal run to fail")
	}
}

func TestSweepStuck(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	run, _ := store.Create(ctx, nil)
	if err := store.Begin(ctx, run.ID); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	swept, err := store.SweepStuck(ctx, time.Hour)
	if err != nil {
		t.Fatalf("SweepStuck failed: %v", err)
	}
	if swept != 0 {
		t.Fatalf("fresh run must not be swept, got %d", swept)
	}

	swept, err = store.SweepStuck(ctx, -time.Second)
	if err != nil {
		t.Fatalf("SweepStuck failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept run, got %d", swept)
	}
	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != runs.StatusFailed {
		t.Fatalf("expected failed after sweep, got %s", got.Status)
	}
}

func TestActive(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active run, got %+v", active)
	}

	run, _ := store.Create(ctx, nil)
	_ = store.Begin(ctx, run.ID)
	active, err = store.Active(ctx)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active == nil || active.ID != run.ID {
		t.Fatalf("unexpected active run %+v", active)
	}
}
