// Package gemini wraps the Gemini API behind a small JSON-in, JSON-out
// interface. Everything above this package depends on Invoker, so tests run
// against fakes and never touch the network.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

const maxOutputTokens = 65535

// TokenUsage carries per-call token counts for cost accounting.
type TokenUsage struct {
	Input  int64
	Output int64
}

// Add accumulates another call's usage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
}

// DocumentPart is an optional inline document attached to a prompt.
type DocumentPart struct {
	MIMEType string
	Data     []byte
}

// Invoker is the model call surface the extraction pipeline depends on.
// GenerateJSON sends one prompt (plus an optional inline document) and
// returns the model's text response, expected to be JSON.
type Invoker interface {
	GenerateJSON(ctx context.Context, prompt string, doc *DocumentPart) (string, TokenUsage, error)
}

// Client is the production Invoker backed by google.golang.org/genai.
type Client struct {
	client *genai.Client
	model  string
}

// NewClient builds a Gemini client. Credentials come from the environment
// (GOOGLE_API_KEY or application default credentials).
func NewClient(ctx context.Context, model string) (*Client, error) {
	if model == "" {
		model = DefaultModel
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: c, model: model}, nil
}

// GenerateJSON implements Invoker. Temperature is pinned to zero and the
// response MIME type to JSON so extraction runs are as deterministic as the
// model allows.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, doc *DocumentPart) (string, TokenUsage, error) {
	parts := []*genai.Part{{Text: prompt}}
	if doc != nil {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: doc.MIMEType,
				Data:     doc.Data,
			},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		MaxOutputTokens:  maxOutputTokens,
		ResponseMIMEType: "application/json",
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", TokenUsage{}, fmt.Errorf("generate content: %w", err)
	}

	var usage TokenUsage
	if resp.UsageMetadata != nil {
		usage.Input = int64(resp.UsageMetadata.PromptTokenCount)
		usage.Output = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	text := resp.Text()
	if text == "" {
		return "", usage, fmt.Errorf("empty response from model")
	}
	return text, usage, nil
}
