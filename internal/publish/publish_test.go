package publish_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"magpie/internal/config"
	"magpie/internal/logging"
	"magpie/internal/publish"
)

func newBareRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := git.PlainInit(dir, true); err != nil {
		t.Fatalf("init bare remote: %v", err)
	}
	return dir
}

func writeDoc(t *testing.T, libraryDir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(libraryDir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
}

func TestPublishCommitsAndPushes(t *testing.T) {
	libraryDir := t.TempDir()
	remoteDir := newBareRemote(t)
	writeDoc(t, libraryDir, "doc.md", "# hello\n")

	p := publish.NewPublisher(config.Publish{
		RemoteURL:   remoteDir,
		Branch:      "main",
		AuthorName:  "tester",
		AuthorEmail: "tester@example.com",
	}, libraryDir, logging.NewNop())

	if err := p.Publish(context.Background(), "Add doc"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	remote, err := git.PlainOpen(remoteDir)
	if err != nil {
		t.Fatalf("open remote: %v", err)
	}
	ref, err := remote.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		t.Fatalf("remote branch missing: %v", err)
	}
	commit, err := remote.CommitObject(ref.Hash())
	if err != nil {
		t.Fatalf("remote commit missing: %v", err)
	}
	if commit.Message != "Add doc" || commit.Author.Name != "tester" {
		t.Fatalf("unexpected commit %q by %q", commit.Message, commit.Author.Name)
	}
}

func TestPublishNoChangesIsSuccess(t *testing.T) {
	libraryDir := t.TempDir()
	remoteDir := newBareRemote(t)
	writeDoc(t, libraryDir, "doc.md", "# hello\n")

	p := publish.NewPublisher(config.Publish{RemoteURL: remoteDir, Branch: "main"}, libraryDir, logging.NewNop())
	if err := p.Publish(context.Background(), "first"); err != nil {
		t.Fatalf("first Publish failed: %v", err)
	}
	// Second publish with a clean worktree must succeed without a new commit.
	if err := p.Publish(context.Background(), "second"); err != nil {
		t.Fatalf("second Publish failed: %v", err)
	}

	local, err := git.PlainOpen(libraryDir)
	if err != nil {
		t.Fatalf("open local: %v", err)
	}
	iter, err := local.Log(&git.LogOptions{})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	count := 0
	for {
		if _, err := iter.Next(); err != nil {
			break
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 commit, got %d", count)
	}
}

func TestPublishWithoutRemoteCommitsLocally(t *testing.T) {
	libraryDir := t.TempDir()
	writeDoc(t, libraryDir, "doc.md", "# local only\n")

	p := publish.NewPublisher(config.Publish{}, libraryDir, logging.NewNop())
	if err := p.Publish(context.Background(), "local commit"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	local, err := git.PlainOpen(libraryDir)
	if err != nil {
		t.Fatalf("open local: %v", err)
	}
	head, err := local.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Name().Short() != "main" {
		t.Fatalf("unexpected branch %q", head.Name().Short())
	}
}
