package assets

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxAssetBytes caps how much of a stored asset is pulled into memory.
const maxAssetBytes = 20 << 20

// Asset is the raw content behind an AssetRef.
type Asset struct {
	Data        []byte
	ContentType string
}

// DataURL encodes the asset inline, suitable for a provider request payload.
func (a *Asset) DataURL() string {
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// Client resolves opaque asset references to their bytes.
type Client interface {
	Fetch(ctx context.Context, ref string) (*Asset, error)
}

// HTTPClient fetches assets over HTTP. Absolute URLs are fetched as-is;
// anything else is resolved against baseURL.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (c *HTTPClient) Fetch(ctx context.Context, ref string) (*Asset, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty asset reference")
	}
	url := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		if c.baseURL == "" {
			return nil, fmt.Errorf("relative asset reference %q without a base URL", ref)
		}
		url = c.baseURL + "/" + strings.TrimLeft(ref, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("asset request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asset fetch returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("asset %q exceeds %d bytes", ref, maxAssetBytes)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &Asset{Data: data, ContentType: ct}, nil
}
