// Package openai is a minimal chat-completions client for the OpenAI API and
// compatible endpoints.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mos-fine/One-Web/internal/providers"
)

// DefaultModel is used when a request names none.
const DefaultModel = "gpt-3.5-turbo"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a non-streaming chat completion.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Adapter posts chat completions to a fixed URL.
type Adapter struct {
	apiKey string
	url    string
	client *http.Client
}

// New creates an adapter. url is the full chat-completions endpoint.
func New(apiKey, url string, timeout time.Duration, transport http.RoundTripper) *Adapter {
	return &Adapter{
		apiKey: apiKey,
		url:    url,
		client: &http.Client{Timeout: timeout, Transport: transport},
	}
}

// URL returns the endpoint the adapter posts to.
func (a *Adapter) URL() string { return a.url }

// Chat sends req and returns the first choice's content.
func (a *Adapter) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if req.Model == "" {
		req.Model = DefaultModel
	}
	body, err := providers.DoRequest(ctx, a.client, a.url, req, map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	})
	if err != nil {
		return "", err
	}
	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chat response has no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
