package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMockProviderIsDeterministic(t *testing.T) {
	client, err := NewClient(Config{Provider: ProviderMock})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	first, err := client.Analyze(context.Background(), "資料が見やすかったです", Context{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	second, err := client.Analyze(context.Background(), "資料が見やすかったです", Context{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if first.Sentiment != "neutral" || second.Sentiment != first.Sentiment {
		t.Errorf("expected stable neutral sentiment, got %q then %q", first.Sentiment, second.Sentiment)
	}
	if first.RiskLevel != "none" {
		t.Errorf("expected low-risk mock result, got risk %q", first.RiskLevel)
	}
	if len(first.Warnings) == 0 {
		t.Error("expected mock result to carry a warning flag")
	}
	if first.IsSafe == nil || !*first.IsSafe {
		t.Error("expected mock result to be safe")
	}
}

func TestAnalyzeRejectsEmptyComment(t *testing.T) {
	client, _ := NewClient(Config{Provider: ProviderMock})
	if _, err := client.Analyze(context.Background(), "   ", Context{}); err == nil {
		t.Error("expected error for blank comment text")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{Provider: ProviderOpenAI}); err == nil {
		t.Error("expected error when base_url missing for non-mock provider")
	}
}

func TestAnalyzeUnwrapsResultObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("expected X-API-Key header, got %q", r.Header.Get("X-API-Key"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": {"category": "運営", "sentiment": "negative", "priority": "high", "importance_score": "0.85", "is_safe": "true", "tags": "音声, 接続"}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Provider: ProviderGeneric, BaseURL: srv.URL, APIKey: "secret"})
	result, err := client.Analyze(context.Background(), "音声が聞き取りにくかった", Context{CourseName: "統計学"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if result.Category != "運営" {
		t.Errorf("expected category 運営, got %q", result.Category)
	}
	if result.ImportanceLevel != "high" {
		t.Errorf("expected priority alias to map to importance_level, got %q", result.ImportanceLevel)
	}
	if result.ImportanceScore == nil || *result.ImportanceScore != 0.85 {
		t.Errorf("expected stringified score 0.85 coerced to float, got %v", result.ImportanceScore)
	}
	if result.IsSafe == nil || !*result.IsSafe {
		t.Error("expected string boolean to coerce to true")
	}
	if len(result.Tags) != 2 || result.Tags[0] != "音声" {
		t.Errorf("expected comma-separated tags split into a list, got %v", result.Tags)
	}
}

func TestAnalyzeUnwrapsChatCompletionWithFences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [{"message": {"content": "` + "```json\\n{\\\"category\\\": \\\"講師\\\", \\\"sentiment\\\": \\\"positive\\\"}\\n```" + `"}}]}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Provider: ProviderOpenAI, BaseURL: srv.URL, APIKey: "k"})
	result, err := client.Analyze(context.Background(), "先生の説明が良かった", Context{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Category != "講師" || result.Sentiment != "positive" {
		t.Errorf("expected fenced JSON parsed, got category=%q sentiment=%q", result.Category, result.Sentiment)
	}
}

func TestAnalyzeReportsFormatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"just a string"`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Provider: ProviderGeneric, BaseURL: srv.URL})
	_, err := client.Analyze(context.Background(), "コメント", Context{})
	if !errors.Is(err, ErrResponseFormat) {
		t.Errorf("expected ErrResponseFormat, got %v", err)
	}
}

func TestAnalyzeReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Provider: ProviderGeneric, BaseURL: srv.URL})
	_, err := client.Analyze(context.Background(), "コメント", Context{})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrResponseFormat) {
		t.Errorf("expected a plain client error, got %v", err)
	}
}

func TestAnalyzeTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Provider: ProviderGeneric, BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := client.Analyze(context.Background(), "コメント", Context{})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestUnwrapResponseBodyShapes(t *testing.T) {
	tests := []struct {
		name string
		body any
		want string // expected category in the unwrapped object
	}{
		{"analysis key", map[string]any{"analysis": map[string]any{"category": "a"}}, "a"},
		{"data key", map[string]any{"data": map[string]any{"category": "b"}}, "b"},
		{"bare object", map[string]any{"category": "c"}, "c"},
		{"array of objects", []any{map[string]any{"category": "d"}}, "d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unwrapResponseBody(tt.body)
			if err != nil {
				t.Fatalf("unwrapResponseBody: %v", err)
			}
			if got["category"] != tt.want {
				t.Errorf("expected category %q, got %v", tt.want, got["category"])
			}
		})
	}
}

func TestDecodeResultAliasPrecedenceIsStable(t *testing.T) {
	payload := map[string]any{
		"importance": "high",
		"priority":   "low",
		"danger":     "critical",
		"risk":       "low",
	}

	// Repeat to catch any iteration-order dependence.
	for i := 0; i < 50; i++ {
		r := decodeResult(payload)
		if r.ImportanceLevel != "high" {
			t.Fatalf("run %d: importance_level = %q, want %q (importance listed before priority)", i, r.ImportanceLevel, "high")
		}
		if r.RiskLevel != "critical" {
			t.Fatalf("run %d: risk_level = %q, want %q (danger listed before risk)", i, r.RiskLevel, "critical")
		}
	}
}

func TestDecodeResultCanonicalKeyWinsOverAlias(t *testing.T) {
	r := decodeResult(map[string]any{
		"importance_level": "medium",
		"priority":         "high",
	})
	if r.ImportanceLevel != "medium" {
		t.Errorf("importance_level = %q, want canonical value %q", r.ImportanceLevel, "medium")
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{`{"a": 1}`, `{"a": 1}`},
	}
	for _, tt := range tests {
		if got := stripCodeFences(tt.in); got != tt.want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
