package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for the failure modes callers need to tell apart. All
// other transport and HTTP failures come back as plain wrapped errors.
// None of them are retried here; the caller decides.
var (
	// ErrTimeout marks an LLM call that exceeded the configured timeout.
	ErrTimeout = errors.New("llm request timed out")
	// ErrResponseFormat marks a response that could not be unwrapped into
	// the expected JSON object.
	ErrResponseFormat = errors.New("unexpected llm response format")
)

// Providers.
const (
	ProviderMock    = "mock"
	ProviderGeneric = "generic"
	ProviderOpenAI  = "openai"
)

const analysisPrompt = `あなたは大学の講義改善を支援するアシスタントです。
以下の学生からのフィードバックコメントを分析してください。

## 講義名
%s

## 質問項目
%s

## コメント
%s

## 指示
次のJSONオブジェクトのみを返してください:
{
    "category": "講義内容" | "講義資料" | "運営" | "講師" | "その他",
    "sentiment": "positive" | "negative" | "neutral",
    "importance_level": "minor" | "low" | "medium" | "high" | "critical",
    "importance_score": 0.0-1.0,
    "risk_level": "none" | "low" | "medium" | "high",
    "is_safe": true | false,
    "summary": "コメントの一文要約",
    "tags": ["タグ1", "タグ2"]
}`

// Context carries optional strings used only to enrich the prompt.
type Context struct {
	CourseName   string
	QuestionText string
}

// Result is the normalized analysis of one comment. Pointer fields are nil
// when the backend did not supply the value.
type Result struct {
	Category        string
	Sentiment       string
	ImportanceLevel string
	ImportanceScore *float64
	RiskLevel       string
	IsSafe          *bool
	Summary         string
	Tags            []string
	Warnings        []string
	Raw             map[string]any
}

// Config holds everything needed to talk to one LLM backend.
type Config struct {
	Provider     string
	BaseURL      string
	Model        string
	APIKey       string
	Timeout      time.Duration
	ExtraHeaders map[string]string
}

// Client calls a configurable LLM backend and normalizes its responses.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a client for the configured provider. Non-mock
// providers require a base URL.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Provider == "" {
		cfg.Provider = ProviderMock
	}
	if cfg.Provider != ProviderMock && cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm base_url is required for provider %q", cfg.Provider)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Provider returns the configured provider name.
func (c *Client) Provider() string {
	return c.cfg.Provider
}

// Analyze sends one comment to the backend and returns the normalized
// analysis. The mock provider answers deterministically without a network
// call so tests and LLM-less deployments behave repeatably.
func (c *Client) Analyze(ctx context.Context, commentText string, meta Context) (*Result, error) {
	if strings.TrimSpace(commentText) == "" {
		return nil, errors.New("comment text must not be empty")
	}

	if c.cfg.Provider == ProviderMock {
		return mockResult(commentText), nil
	}

	payload, err := c.buildPayload(commentText, meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("calling llm backend: %w", ErrTimeout)
		}
		return nil, fmt.Errorf("calling llm backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("llm backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("llm backend returned non-JSON body: %w", ErrResponseFormat)
	}

	payloadMap, err := unwrapResponseBody(body)
	if err != nil {
		return nil, err
	}

	return decodeResult(payloadMap), nil
}

// mockResult is the fixed low-risk/neutral answer with a warning flag set.
func mockResult(commentText string) *Result {
	summary := commentText
	if runes := []rune(summary); len(runes) > 50 {
		summary = string(runes[:50])
	}
	score := 0.1
	safe := true
	return &Result{
		Category:        "その他",
		Sentiment:       "neutral",
		ImportanceLevel: "low",
		ImportanceScore: &score,
		RiskLevel:       "none",
		IsSafe:          &safe,
		Summary:         summary,
		Warnings:        []string{"llm provider is mock; returning canned result"},
	}
}

func (c *Client) buildPayload(commentText string, meta Context) ([]byte, error) {
	course := meta.CourseName
	if course == "" {
		course = "（指定なし）"
	}
	question := meta.QuestionText
	if question == "" {
		question = "（指定なし）"
	}
	prompt := fmt.Sprintf(analysisPrompt, course, question, commentText)

	if c.cfg.Provider == ProviderOpenAI {
		return json.Marshal(map[string]any{
			"model": c.cfg.Model,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
			"response_format": map[string]string{"type": "json_object"},
			"temperature":     0.2,
		})
	}

	// Generic backend: simple comment + instructions body.
	body := map[string]any{
		"comment":      commentText,
		"instructions": prompt,
	}
	if c.cfg.Model != "" {
		body["model"] = c.cfg.Model
	}
	return json.Marshal(body)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}
	if c.cfg.APIKey == "" {
		return
	}
	if c.cfg.Provider == ProviderOpenAI {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if req.Header.Get("X-API-Key") == "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
}

func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
