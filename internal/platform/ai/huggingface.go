package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHFBaseURL = "https://api-inference.huggingface.co/models"

// HFOption configures a HuggingFaceClient.
type HFOption func(*HuggingFaceClient)

// WithHFBaseURL overrides the inference API base URL (used in tests).
func WithHFBaseURL(u string) HFOption {
	return func(c *HuggingFaceClient) { c.baseURL = u }
}

// WithHFHTTPClient overrides the HTTP client.
func WithHFHTTPClient(hc *http.Client) HFOption {
	return func(c *HuggingFaceClient) { c.client = hc }
}

// HuggingFaceClient classifies images through the Hugging Face inference API.
type HuggingFaceClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewHuggingFaceClient returns an Analyzer backed by a Hugging Face
// image-classification model.
func NewHuggingFaceClient(apiKey, model string, opts ...HFOption) *HuggingFaceClient {
	c := &HuggingFaceClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultHFBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *HuggingFaceClient) Name() string { return "huggingface" }

type hfClassification struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Analyze posts the raw image bytes and maps the returned classifications to
// findings, using the top label for the summary.
func (c *HuggingFaceClient) Analyze(ctx context.Context, req Request) (*Result, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, c.model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Data))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", req.ContentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling huggingface: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &apiError{Provider: c.Name(), Status: resp.StatusCode, Body: string(errBody)}
	}

	var classifications []hfClassification
	if err := json.NewDecoder(resp.Body).Decode(&classifications); err != nil {
		return nil, fmt.Errorf("decoding huggingface response: %w", err)
	}
	if len(classifications) == 0 {
		return nil, fmt.Errorf("huggingface returned no classifications")
	}

	findings := make([]Finding, 0, len(classifications))
	for _, cl := range classifications {
		findings = append(findings, Finding{Label: cl.Label, Confidence: cl.Score})
	}

	top := classifications[0]
	return &Result{
		Source:   c.Name(),
		Model:    c.model,
		Summary:  fmt.Sprintf("Classified as %q with %.1f%% confidence.", top.Label, top.Score*100),
		Findings: findings,
	}, nil
}
