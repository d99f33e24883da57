package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// DefaultRPS paces requests to the generation API when no rate is configured.
const DefaultRPS = 2

// Request is one image generation call. Resolution and AspectRatio are
// alternatives; Guidance is only sent for models that accept it.
type Request struct {
	Prompt          string   `json:"prompt"`
	Model           string   `json:"model"`
	Resolution      string   `json:"resolution,omitempty"`
	AspectRatio     string   `json:"aspectRatio,omitempty"`
	Steps           int      `json:"steps,omitempty"`
	Guidance        *float64 `json:"guidance,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
	ReferenceImages []string `json:"referenceImages,omitempty"`
}

type Response struct {
	Success     bool   `json:"success"`
	ImageURL    string `json:"imageUrl"`
	ExecutionID string `json:"executionId"`
	AssetRef    string `json:"assetRef,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Client is the generation provider boundary. Retry and backoff, if any,
// belong to implementations.
type Client interface {
	GenerateImage(ctx context.Context, req Request) (*Response, error)
}

// HTTPClient talks to an HTTP image generation API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPClient creates a client for the API at baseURL. Accepts an
// optional http.Client for custom timeouts or transport settings.
func NewHTTPClient(baseURL, apiKey string, rps float64, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if rps <= 0 {
		rps = DefaultRPS
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *HTTPClient) GenerateImage(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("provider rate limit wait: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := c.baseURL + "/v1/images/generate"
	slog.Debug("calling generation API", "url", url, "model", req.Model, "references", len(req.ReferenceImages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation API returned %d: %s", resp.StatusCode, string(body))
	}

	var result Response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse generation response: %w", err)
	}
	if !result.Success || result.ImageURL == "" {
		msg := result.Error
		if msg == "" {
			msg = "no image returned"
		}
		return nil, fmt.Errorf("image generation failed: %s", msg)
	}
	return &result, nil
}
