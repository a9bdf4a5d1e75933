// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"magpie/internal/catalog"
	"magpie/internal/config"
	"magpie/internal/logging"
	"magpie/internal/runs"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.CacheDir = filepath.Join(base, "cache")
	cfg.Paths.LibraryDir = filepath.Join(base, "library")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Source.FeedURL = "https://feed.test/posts"
	cfg.LLM.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithSourceAccounts sets the followed accounts on the test config.
func WithSourceAccounts(accounts ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Source.Accounts = accounts
	}
}

// NewCatalog returns an empty item store backed by a temp snapshot.
func NewCatalog(t testing.TB) *catalog.Store {
	t.Helper()
	return catalog.NewStore(filepath.Join(t.TempDir(), "catalog.json"), logging.NewNop())
}

// SeedItem inserts an item with the given completion flags applied in phase
// order, returning the stored copy.
func SeedItem(t testing.TB, store *catalog.Store, id string, completed ...catalog.Phase) *catalog.Item {
	t.Helper()
	item := store.GetOrCreate(id, "https://example.test/"+id)
	for _, phase := range completed {
		item.CompletePhase(phase)
	}
	if err := store.Update(item); err != nil {
		t.Fatalf("seed item %s: %v", id, err)
	}
	stored, _ := store.Get(id)
	return stored
}

// NewRunStore opens a run store backed by a temp database.
func NewRunStore(t testing.TB) *runs.Store {
	t.Helper()
	store, err := runs.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open run store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
