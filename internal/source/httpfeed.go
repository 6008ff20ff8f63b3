package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kestrelhq/kestrel/internal/model"
)

const (
	defaultTimeout  = 30 * time.Second
	maxFeedBodySize = 8 * 1024 * 1024 // 8 MB
)

// HTTPFeed reads normalized JSON feeds over HTTP. The feed contract is a
// JSON array of snapshots (or an object with a single "items" key), which
// keeps provider-specific wire parsing out of this process: a thin exporter
// in front of the real provider emits the normalized form.
type HTTPFeed struct {
	runURL    string
	deployURL string
	token     string
	client    *http.Client
}

// NewHTTPFeed builds a feed adapter. Either URL may be empty, in which
// case the corresponding Fetch returns no items.
func NewHTTPFeed(runURL, deployURL, token string) *HTTPFeed {
	return &HTTPFeed{
		runURL:    runURL,
		deployURL: deployURL,
		token:     token,
		client:    &http.Client{Timeout: defaultTimeout},
	}
}

// FetchRuns implements RunSource.
func (f *HTTPFeed) FetchRuns(ctx context.Context) ([]model.RunSnapshot, error) {
	if f.runURL == "" {
		return nil, nil
	}
	var out []model.RunSnapshot
	if err := f.fetch(ctx, f.runURL, &out); err != nil {
		return nil, fmt.Errorf("source: fetch runs: %w", err)
	}
	return out, nil
}

// FetchDeployments implements DeploymentSource.
func (f *HTTPFeed) FetchDeployments(ctx context.Context) ([]model.DeploymentSnapshot, error) {
	if f.deployURL == "" {
		return nil, nil
	}
	var out []model.DeploymentSnapshot
	if err := f.fetch(ctx, f.deployURL, &out); err != nil {
		return nil, fmt.Errorf("source: fetch deployments: %w", err)
	}
	return out, nil
}

func (f *HTTPFeed) fetch(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodySize))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if err := json.Unmarshal(body, dst); err == nil {
		return nil
	}
	// Some exporters wrap the array in {"items": [...]}.
	var wrapped struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil || wrapped.Items == nil {
		return fmt.Errorf("decode feed body")
	}
	if err := json.Unmarshal(wrapped.Items, dst); err != nil {
		return fmt.Errorf("decode feed items: %w", err)
	}
	return nil
}
