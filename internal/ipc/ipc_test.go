package ipc_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"magpie/internal/catalog"
	"magpie/internal/classify"
	"magpie/internal/daemon"
	"magpie/internal/docgen"
	"magpie/internal/ipc"
	"magpie/internal/logging"
	"magpie/internal/pipeline"
	"magpie/internal/testsupport"
)

type quickDownloader struct{}

func (quickDownloader) Cache(_ context.Context, item *catalog.Item) error {
	item.Text = "cached"
	return nil
}

type quickCategorizer struct{}

func (quickCategorizer) Classify(context.Context, *catalog.Item) (classify.Classification, error) {
	return classify.Classification{Category: "C", SubCategory: "S", ItemName: "N"}, nil
}

type quickGenerator struct{}

func (quickGenerator) Generate(_ context.Context, item *catalog.Item) (docgen.Result, error) {
	return docgen.Result{Content: "doc", Path: "c/s/" + item.ID + ".md"}, nil
}

func newTestDaemon(t *testing.T) (*daemon.Daemon, *ipc.Client) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cat := testsupport.NewCatalog(t)
	runStore := testsupport.NewRunStore(t)
	orch := pipeline.New(cfg.Workflow, pipeline.Deps{
		Store:       cat,
		Runs:        runStore,
		Downloader:  quickDownloader{},
		Categorizer: quickCategorizer{},
		Generator:   quickGenerator{},
		Logger:      logging.NewNop(),
	})
	d, err := daemon.New(cfg, cat, runStore, orch, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	socketPath := filepath.Join(t.TempDir(), "magpie.sock")
	server, err := ipc.NewServer(ctx, socketPath, d, logging.NewNop())
	if err != nil {
		t.Fatalf("ipc.NewServer failed: %v", err)
	}
	server.Serve()
	t.Cleanup(server.Close)

	client, err := ipc.Dial(socketPath)
	if err != nil {
		t.Fatalf("ipc.Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return d, client
}

func TestStatusRoundTrip(t *testing.T) {
	_, client := newTestDaemon(t)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon running")
	}
	if status.PID <= 0 || status.LockPath == "" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.ActiveRun != nil {
		t.Fatalf("expected no active run, got %+v", status.ActiveRun)
	}
}

func TestStartRunAndHistory(t *testing.T) {
	_, client := newTestDaemon(t)

	resp, err := client.StartRun([]string{"cache"}, false)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if !resp.Started {
		t.Fatalf("run not started: %s", resp.Message)
	}

	// The run executes in the background; wait for it to land in history.
	deadline := time.Now().Add(5 * time.Second)
	for {
		history, err := client.History(10)
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history.Runs) == 1 && history.Runs[0].Status == "succeeded" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never completed: %+v", history.Runs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartRunRejectsUnknownPhase(t *testing.T) {
	_, client := newTestDaemon(t)
	resp, err := client.StartRun([]string{"teleport"}, false)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if resp.Started {
		t.Fatal("unknown phase must be rejected")
	}
}

func TestStopWithoutRun(t *testing.T) {
	_, client := newTestDaemon(t)
	resp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if resp.Stopping {
		t.Fatal("no run was active")
	}
}

func TestSweep(t *testing.T) {
	_, client := newTestDaemon(t)
	resp, err := client.Sweep()
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if resp.Swept != 0 {
		t.Fatalf("expected nothing to sweep, got %d", resp.Swept)
	}
}
