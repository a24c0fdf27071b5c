package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerate(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "  hello world\n"}},
			},
		})
	}))
	defer ts.Close()

	c := NewOpenAIClient("sk-test", ts.URL, "gpt-4o-mini")
	out, err := c.Generate(context.Background(), "be brief", "say hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello world" {
		t.Errorf("output = %q", out)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("messages = %v, want system + user", msgs)
	}
}

func TestGenerateSkipsEmptySystem(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		msgs, _ := body["messages"].([]any)
		if len(msgs) != 1 {
			t.Errorf("messages = %v, want user only", msgs)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer ts.Close()

	c := NewOpenAIClient("sk-test", ts.URL, "")
	if _, err := c.Generate(context.Background(), "", "hi"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestGenerateErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := NewOpenAIClient("sk-test", ts.URL, "")
	if _, err := c.Generate(context.Background(), "", "hi"); err == nil {
		t.Error("non-200 should error")
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer empty.Close()

	c = NewOpenAIClient("sk-test", empty.URL, "")
	if _, err := c.Generate(context.Background(), "", "hi"); err == nil {
		t.Error("empty choices should error")
	}
}

func TestDefaults(t *testing.T) {
	c := NewOpenAIClient("sk", "", "")
	if c.apiBase != "https://api.openai.com/v1" {
		t.Errorf("apiBase = %q", c.apiBase)
	}
	if c.Model() != "gpt-4o-mini" {
		t.Errorf("model = %q", c.Model())
	}
	c = NewOpenAIClient("sk", "https://api.example.com/v1/", "m")
	if c.apiBase != "https://api.example.com/v1" {
		t.Errorf("trailing slash not trimmed: %q", c.apiBase)
	}
}
