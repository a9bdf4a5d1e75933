package classify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"magpie/internal/catalog"
	"magpie/internal/classify"
	"magpie/internal/logging"
	"magpie/internal/services/llm"
)

func newCategorizer(t *testing.T, modelContent string, capture *[]byte) *classify.Categorizer {
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
	return classify.NewCategorizer(client, logging.NewNop())
}

func TestClassify(t *testing.T) {
	var gotBody []byte
	cat := newCategorizer(t, `{"category":"Cooking","subCategory":"Baking","itemName":"Sourdough starter guide"}`, &gotBody)

	item := &catalog.Item{
		ID:     "p1",
		Author: "alice",
		Text:   "How to keep a sourdough starter alive",
		Media: []catalog.MediaRef{
			{Kind: catalog.MediaImage, Description: "a jar of bubbly starter"},
		},
	}
	result, err := cat.Classify(context.Background(), item)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Category != "Cooking" || result.SubCategory != "Baking" || result.ItemName != "Sourdough starter guide" {
		t.Fatalf("unexpected classification %+v", result)
	}
	for _, fragment := range []string{"sourdough starter", "alice", "bubbly starter"} {
		if !strings.Contains(string(gotBody), fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, gotBody)
		}
	}
}

func TestClassifyFailsClosedOnMissingField(t *testing.T) {
	cases := map[string]string{
		"missing itemName":   `{"category":"Cooking","subCategory":"Baking"}`,
		"blank subCategory":  `{"category":"Cooking","subCategory":"  ","itemName":"x"}`,
		"empty object":       `{}`,
		"unparseable output": `not json`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			cat := newCategorizer(t, payload, nil)
			if _, err := cat.Classify(context.Background(), &catalog.Item{ID: "p1", Text: "content"}); err == nil {
				t.Fatal("expected classification to fail closed")
			}
		})
	}
}

func TestClassifyRequiresContent(t *testing.T) {
	cat := newCategorizer(t, `{}`, nil)
	if _, err := cat.Classify(context.Background(), &catalog.Item{ID: "p1"}); err == nil {
		t.Fatal("expected error for empty item")
	}
}

func TestClassifyFencedResponse(t *testing.T) {
	cat := newCategorizer(t, "```json\n{\"category\":\"A\",\"subCategory\":\"B\",\"itemName\":\"C\"}\n```", nil)
	result, err := cat.Classify(context.Background(), &catalog.Item{ID: "p1", Text: "content"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if result.Category != "A" || result.SubCategory != "B" || result.ItemName != "C" {
		t.Fatalf("unexpected classification %+v", result)
	}
}
