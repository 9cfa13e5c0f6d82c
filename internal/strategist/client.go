package strategist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sheriff/internal/logging"
)

// ClientConfig holds configuration for the HTTP strategist client.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(apiKey string) ClientConfig {
	return ClientConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.sheriff-strategist.dev/v1",
		Model:   "strategist-v1",
		Timeout: 120 * time.Second,
	}
}

// Client implements Generator and Reviewer against an HTTP strategist
// endpoint speaking JSON.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a client with the given config.
func NewClient(config ClientConfig) *Client {
	return &Client{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type generateRequest struct {
	Model     string            `json:"model"`
	Prompt    string            `json:"prompt"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

type generateResponse struct {
	Code  string `json:"code"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate requests code for the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, artifacts Artifacts) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	var resp generateResponse
	req := generateRequest{Model: c.model, Prompt: prompt, Artifacts: artifacts}
	if err := c.post(ctx, "/generate", req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("generation failed: %s", resp.Error.Message)
	}
	if resp.Code == "" {
		return "", fmt.Errorf("generation returned empty code")
	}

	logging.Strategist("generated %d bytes for prompt of %d bytes", len(resp.Code), len(prompt))
	return resp.Code, nil
}

type reviewResponse struct {
	ReviewVerdict
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Review requests a semantic verdict over the compressed project context.
func (c *Client) Review(ctx context.Context, req ReviewRequest) (ReviewVerdict, error) {
	if c.apiKey == "" {
		return ReviewVerdict{}, fmt.Errorf("API key not configured")
	}

	var resp reviewResponse
	if err := c.post(ctx, "/review", req, &resp); err != nil {
		return ReviewVerdict{}, err
	}
	if resp.Error != nil {
		return ReviewVerdict{}, fmt.Errorf("review failed: %s", resp.Error.Message)
	}

	logging.Strategist("review verdict: approved=%v logic_score=%.1f comments=%d",
		resp.Approved, resp.LogicScore, len(resp.Comments))
	return resp.ReviewVerdict, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("strategist request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("strategist returned status %d: %s", httpResp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
