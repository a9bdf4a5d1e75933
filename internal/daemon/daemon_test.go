package daemon_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"magpie/internal/catalog"
	"magpie/internal/classify"
	"magpie/internal/daemon"
	"magpie/internal/docgen"
	"magpie/internal/logging"
	"magpie/internal/pipeline"
	"magpie/internal/testsupport"
)

type noopDownloader struct{}

func (noopDownloader) Cache(_ context.Context, item *catalog.Item) error {
	item.Text = "cached"
	return nil
}

type noopCategorizer struct{}

func (noopCategorizer) Classify(context.Context, *catalog.Item) (classify.Classification, error) {
	return classify.Classification{Category: "C", SubCategory: "S", ItemName: "N"}, nil
}

type noopGenerator struct{}

func (noopGenerator) Generate(_ context.Context, item *catalog.Item) (docgen.Result, error) {
	return docgen.Result{Content: "doc", Path: "c/s/" + item.ID + ".md"}, nil
}

type slowDownloader struct {
	release chan struct{}
}

func (s *slowDownloader) Cache(ctx context.Context, item *catalog.Item) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	item.Text = "cached"
	return nil
}

func newDaemon(t *testing.T, downloader pipeline.Downloader) (*daemon.Daemon, *catalog.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cat := testsupport.NewCatalog(t)
	runStore := testsupport.NewRunStore(t)
	orch := pipeline.New(cfg.Workflow, pipeline.Deps{
		Store:       cat,
		Runs:        runStore,
		Downloader:  downloader,
		Categorizer: noopCategorizer{},
		Generator:   noopGenerator{},
		Logger:      logging.NewNop(),
	})
	d, err := daemon.New(cfg, cat, runStore, orch, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	return d, cat
}

func TestStartAcquiresLock(t *testing.T) {
	d, _ := newDaemon(t, noopDownloader{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	status := d.Status(context.Background())
	if !status.Running {
		t.Fatal("daemon should report running")
	}
	if status.LockPath == "" || status.SnapshotPath == "" {
		t.Fatalf("missing paths in status: %+v", status)
	}
}

func TestStartTwiceFails(t *testing.T) {
	d, _ := newDaemon(t, noopDownloader{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := d.Start(context.Background()); err == nil {
		t.Fatal("second start must fail")
	}
}

func TestStartRunRequiresRunningDaemon(t *testing.T) {
	d, _ := newDaemon(t, noopDownloader{})
	if err := d.StartRun(pipeline.Options{}); err == nil {
		t.Fatal("StartRun must fail before Start")
	}
}

func TestStartRunRejectsConcurrentRun(t *testing.T) {
	downloader := &slowDownloader{release: make(chan struct{})}
	d, cat := newDaemon(t, downloader)
	testsupport.SeedItem(t, cat, "a1")
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if err := d.StartRun(pipeline.Options{}); err != nil {
		t.Fatalf("first StartRun failed: %v", err)
	}

	// Wait for the run to register as active, then a second start must be
	// refused while it holds the slot.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if status := d.Status(context.Background()); status.ActiveRun != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := d.StartRun(pipeline.Options{})
	if err == nil {
		t.Fatal("second StartRun must be rejected while a run is active")
	}
	if !strings.Contains(err.Error(), "already active") {
		t.Fatalf("unexpected error: %v", err)
	}

	close(downloader.release)
	for {
		if status := d.Status(context.Background()); status.ActiveRun == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never drained after release")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopRunWithoutRun(t *testing.T) {
	d, _ := newDaemon(t, noopDownloader{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	if d.StopRun() {
		t.Fatal("StopRun should report false with no active run")
	}
}
