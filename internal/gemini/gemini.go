// Package gemini adapts the Gemini API to the governor's perform contract.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/perpquant/mind-persona/internal/governor"
)

// Generator is the subset of genai.Models the adapter needs.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Request is a structured prompt. Payload bodies may also be a plain string
// or a []*genai.Content.
type Request struct {
	Temperature       *float32 `json:"temperature,omitempty"`
	Prompt            string   `json:"prompt"`
	SystemInstruction string   `json:"systemInstruction,omitempty"`
}

// Response is the reply body handed back through the governor.
type Response struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finishReason,omitempty"`
}

func (r *Response) String() string {
	return r.Text
}

// Client performs Gemini calls.
type Client struct {
	models Generator
}

// New creates a client for the Gemini developer API.
func New(ctx context.Context, apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Client{models: client.Models}, nil
}

// NewWithGenerator wraps an existing generator.
func NewWithGenerator(g Generator) *Client {
	return &Client{models: g}
}

// Perform implements governor.PerformFunc. Backend errors are classified
// before they reach the governor.
func (c *Client) Perform(ctx context.Context, payload governor.Payload) (*governor.Reply, error) {
	contents, config, err := buildRequest(payload.Body)
	if err != nil {
		return nil, &governor.ClientError{Code: 400, Message: err.Error(), Err: err}
	}

	resp, err := c.models.GenerateContent(ctx, payload.Model, contents, config)
	if err != nil {
		return nil, ClassifyError(err, payload.Model)
	}

	out := &Response{Text: resp.Text(), Model: payload.Model}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}

	return &governor.Reply{Body: out, Usage: usageFrom(resp.UsageMetadata)}, nil
}

// ClassifyError converts a genai.APIError into the governor's taxonomy and
// defers anything else to governor.Classify.
func ClassifyError(err error, model string) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			return governor.Classify(err, model)
		}
		apiErr = *ptr
	}

	msg := apiErr.Message
	if msg == "" {
		msg = err.Error()
	}

	switch {
	case apiErr.Status == governor.StatusResourceExhausted:
		return &governor.QuotaExceededError{Model: model, Code: apiErr.Code, Message: msg, Err: err}
	case apiErr.Code >= 500 && apiErr.Code < 600:
		return &governor.ServerError{Code: apiErr.Code, Message: msg, Err: err}
	case apiErr.Code > 0:
		return &governor.ClientError{Code: apiErr.Code, Message: msg, Err: err}
	default:
		return governor.Classify(err, model)
	}
}

func buildRequest(body any) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	switch b := body.(type) {
	case string:
		if b == "" {
			return nil, nil, errors.New("empty prompt")
		}
		return genai.Text(b), nil, nil
	case Request:
		return buildRequest(&b)
	case *Request:
		if b == nil || b.Prompt == "" {
			return nil, nil, errors.New("empty prompt")
		}
		config := &genai.GenerateContentConfig{Temperature: b.Temperature}
		if b.SystemInstruction != "" {
			config.SystemInstruction = genai.NewContentFromText(b.SystemInstruction, genai.RoleUser)
		}
		return genai.Text(b.Prompt), config, nil
	case []*genai.Content:
		if len(b) == 0 {
			return nil, nil, errors.New("empty contents")
		}
		return b, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported payload type %T", body)
	}
}

func usageFrom(md *genai.GenerateContentResponseUsageMetadata) *governor.Usage {
	if md == nil {
		return nil
	}
	prompt := int(md.PromptTokenCount)
	candidate := int(md.CandidatesTokenCount)
	total := int(md.TotalTokenCount)
	if total == 0 {
		total = prompt + candidate
	}
	return &governor.Usage{
		PromptTokens:    &prompt,
		CandidateTokens: &candidate,
		TotalTokens:     &total,
	}
}
