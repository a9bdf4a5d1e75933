package vision_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"magpie/internal/catalog"
	"magpie/internal/logging"
	"magpie/internal/services/llm"
	"magpie/internal/vision"
)

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func newInterpreter(t *testing.T, modelContent string, capture *[]byte) *vision.Interpreter {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": modelContent}},
		},
	})
	if err != nil {
		t.Fatalf("marshal completion: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			reqBody, _ := io.ReadAll(r.Body)
			*capture = reqBody
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	client := llm.NewClient(llm.Config{APIKey: "k", BaseURL: server.URL, Model: "m"})
	return vision.NewInterpreter(client, logging.NewNop())
}

func TestDescribeImage(t *testing.T) {
	var gotBody []byte
	interp := newInterpreter(t, `{"description":"a red bicycle"}`, &gotBody)

	description, err := interp.Describe(context.Background(), catalog.MediaRef{
		Kind:      catalog.MediaImage,
		LocalPath: writeImage(t),
	})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if description != "a red bicycle" {
		t.Fatalf("unexpected description %q", description)
	}
	if !strings.Contains(string(gotBody), "data:image/png;base64,") {
		t.Fatalf("request missing data url: %s", gotBody)
	}
}

func TestDescribeSkipsNonImages(t *testing.T) {
	interp := vision.NewInterpreter(llm.NewClient(llm.Config{APIKey: "k"}), logging.NewNop())
	for _, kind := range []catalog.MediaKind{catalog.MediaVideo, catalog.MediaLink} {
		description, err := interp.Describe(context.Background(), catalog.MediaRef{Kind: kind})
		if err != nil || description != "" {
			t.Fatalf("kind %s: expected silent skip, got %q, %v", kind, description, err)
		}
	}
}

func TestDescribeRejectsEmptyDescription(t *testing.T) {
	interp := newInterpreter(t, `{"description":"  "}`, nil)
	if _, err := interp.Describe(context.Background(), catalog.MediaRef{
		Kind:      catalog.MediaImage,
		LocalPath: writeImage(t),
	}); err == nil {
		t.Fatal("expected error for empty description")
	}
}

func TestDescribeMissingLocalFile(t *testing.T) {
	interp := vision.NewInterpreter(llm.NewClient(llm.Config{APIKey: "k"}), logging.NewNop())
	if _, err := interp.Describe(context.Background(), catalog.MediaRef{
		Kind:      catalog.MediaImage,
		LocalPath: filepath.Join(t.TempDir(), "missing.png"),
	}); err == nil {
		t.Fatal("expected error for missing image file")
	}
}
