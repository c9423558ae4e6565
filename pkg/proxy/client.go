package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trproxy/trproxy/pkg/models"
)

// AdminClient calls the admin endpoints of a running server.
type AdminClient struct {
	base   string
	header string
	token  string
	http   *http.Client
}

// NewAdminClient creates a client for the server at addr. An empty token
// sends no API key.
func NewAdminClient(addr, header, token string) *AdminClient {
	if header == "" {
		header = "X-API-KEY"
	}
	return &AdminClient{
		base:   strings.TrimSuffix(addr, "/"),
		header: header,
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Stats returns the per-tier cache statistics.
func (c *AdminClient) Stats(ctx context.Context) ([]models.TierStats, error) {
	var stats []models.TierStats
	if err := c.do(ctx, http.MethodGet, "/proxy/admin/cache", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Evict clears a single tier.
func (c *AdminClient) Evict(ctx context.Context, tierName string) error {
	var out map[string]string
	return c.do(ctx, http.MethodPost, "/proxy/admin/cache/"+url.PathEscape(tierName)+"/evict", &out)
}

// Sweep runs the scheduled sweep immediately and returns the entries removed.
func (c *AdminClient) Sweep(ctx context.Context) (int, error) {
	var out struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodPost, "/proxy/admin/cache/sweep", &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

func (c *AdminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set(c.header, c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, msg.Message)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
