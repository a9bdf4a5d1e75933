package fetch_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"magpie/internal/config"
	"magpie/internal/fetch"
	"magpie/internal/logging"
)

func TestDiscover(t *testing.T) {
	var gotQuery, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `[
			{"id":"p1","url":"https://example.com/p1"},
			{"id":"p2","url":"https://example.com/p2"},
			{"id":"","url":"https://example.com/broken"}
		]`)
	}))
	defer server.Close()

	svc := fetch.NewService(config.Source{
		FeedURL:    server.URL,
		APIKey:     "feed-key",
		Accounts:   []string{"alice", "bob"},
		BatchLimit: 25,
	}, logging.NewNop())

	discovered, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(discovered) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(discovered), discovered)
	}
	if discovered["p1"] != "https://example.com/p1" {
		t.Fatalf("unexpected url for p1: %q", discovered["p1"])
	}
	if gotAuth != "Bearer feed-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotQuery != "accounts=alice%2Cbob&limit=25" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}

func TestDiscoverEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"posts":[{"id":"p9","url":"https://example.com/p9"}]}`)
	}))
	defer server.Close()

	svc := fetch.NewService(config.Source{FeedURL: server.URL}, logging.NewNop())
	discovered, err := svc.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(discovered) != 1 || discovered["p9"] == "" {
		t.Fatalf("unexpected result %v", discovered)
	}
}

func TestDiscoverServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	svc := fetch.NewService(config.Source{FeedURL: server.URL}, logging.NewNop())
	if _, err := svc.Discover(context.Background()); err == nil {
		t.Fatal("expected error for http 502")
	}
}

func TestDiscoverMissingFeedURL(t *testing.T) {
	svc := fetch.NewService(config.Source{}, logging.NewNop())
	if _, err := svc.Discover(context.Background()); err == nil {
		t.Fatal("expected configuration error")
	}
}
