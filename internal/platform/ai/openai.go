package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultPrompt        = "You are assisting a radiologist. Describe the clinically relevant findings visible in this medical image in two or three sentences."
	maxCompletionTokens  = 400
)

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithOpenAIBaseURL overrides the API base URL (used in tests).
func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(c *OpenAIClient) { c.baseURL = u }
}

// WithOpenAIHTTPClient overrides the HTTP client.
func WithOpenAIHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.client = hc }
}

// OpenAIClient analyzes images through the OpenAI chat completions API using
// a vision-capable model.
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIClient returns an Analyzer backed by OpenAI.
func NewOpenAIClient(apiKey, model string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultOpenAIBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *OpenAIClient) Name() string { return "openai" }

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIMessage struct {
	Role    string          `json:"role"`
	Content []openAIContent `json:"content"`
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the image inline as a data URL and returns the model's
// description as the result summary.
func (c *OpenAIClient) Analyze(ctx context.Context, req Request) (*Result, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", req.ContentType, base64.StdEncoding.EncodeToString(req.Data))

	body := openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{
				Role: "user",
				Content: []openAIContent{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL}},
				},
			},
		},
		MaxTokens: maxCompletionTokens,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &apiError{Provider: c.Name(), Status: resp.StatusCode, Body: string(errBody)}
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &Result{
		Source:  c.Name(),
		Model:   c.model,
		Summary: parsed.Choices[0].Message.Content,
	}, nil
}
