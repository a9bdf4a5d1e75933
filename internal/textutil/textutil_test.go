package textutil_test

import (
	"testing"

	"magpie/internal/textutil"
)

func TestSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello-world"},
		{"  Déjà Vu -- Café  ", "deja-vu-cafe"},
		{"already-slugged", "already-slugged"},
		{"___", ""},
		{"Rust vs Go (2026)", "rust-vs-go-2026"},
	}
	for _, tc := range cases {
		if got := textutil.Slug(tc.in); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := textutil.Truncate("abcdef", 4); got != "a..." {
		t.Fatalf("Truncate = %q", got)
	}
	if got := textutil.Truncate("abc", 10); got != "abc" {
		t.Fatalf("Truncate short = %q", got)
	}
}
