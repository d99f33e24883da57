package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// StubClient fabricates image URLs instead of calling a provider.
// Used for local development.
type StubClient struct {
	BaseURL string
}

func NewStubClient(baseURL string) *StubClient {
	if baseURL == "" {
		baseURL = "https://stub.local/images"
	}
	return &StubClient{BaseURL: baseURL}
}

func (c *StubClient) GenerateImage(_ context.Context, req Request) (*Response, error) {
	id := uuid.NewString()
	slog.Info("generating image (stub)", "model", req.Model, "executionId", id)
	return &Response{
		Success:     true,
		ImageURL:    fmt.Sprintf("%s/%s.png", c.BaseURL, id),
		ExecutionID: id,
		AssetRef:    "stub/" + id,
	}, nil
}
