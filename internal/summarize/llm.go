package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/neurorouter"

	"github.com/ppiankov/steward/internal/model"
)

// Config holds parameters for LLM-backed summarization.
type Config struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

const systemPrompt = `You compact the working history of an autonomous task orchestrator.
You receive conversation and tool history plus optional seed context.

Write a dense narrative summary that preserves:
- decisions made and their stated reasons
- files and resources modified
- errors encountered and approaches that failed
- unresolved questions

Plain prose only. No markdown, no headers, no bullet lists, no commentary
about the summarization itself. Maximum 40 lines.`

// LLM is an OpenAI-compatible chat summarizer.
type LLM struct {
	cfg Config
}

// NewLLM creates an LLM summarizer.
func NewLLM(cfg Config) *LLM {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &LLM{cfg: cfg}
}

// Summarize sends the history to the configured endpoint. A 429 maps to
// neurorouter.ErrRateLimited so callers can defer instead of burning retries.
func (l *LLM) Summarize(ctx context.Context, history []model.HistoryEntry, seed string) (string, error) {
	var b strings.Builder
	if seed != "" {
		b.WriteString("Earlier summary:\n")
		b.WriteString(seed)
		b.WriteString("\n\n")
	}
	for _, h := range history {
		fmt.Fprintf(&b, "[%s] %s\n", h.Role, h.Content)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"model": l.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": b.String()},
		},
		"max_tokens":  l.cfg.MaxTokens,
		"temperature": 0,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", l.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if l.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: l.cfg.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarize request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("summarize: %w", neurorouter.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summarize HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		return "", fmt.Errorf("empty summarize response")
	}

	summary := strings.TrimSpace(result.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("empty summarize response")
	}
	return summary, nil
}
