// Package media resolves media ids to downloadable URLs through the media service.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Media is the subset of the media service record the chat core uses.
type Media struct {
	ID          json.Number `json:"id"`
	URL         string      `json:"url"`
	ContentType string      `json:"content_type,omitempty"`
}

// Resolver looks up a media record. A missing record is (nil, nil).
type Resolver interface {
	GetMedia(ctx context.Context, mediaID string) (*Media, error)
}

// HTTPResolver calls GET {base}/api/media/{id}/.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPResolver) GetMedia(ctx context.Context, mediaID string) (*Media, error) {
	endpoint := fmt.Sprintf("%s/api/media/%s/", r.baseURL, url.PathEscape(mediaID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("media service returned %d for %s", resp.StatusCode, mediaID)
	}

	var m Media
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode media %s: %w", mediaID, err)
	}
	return &m, nil
}

// NopResolver is used when no media service is configured.
type NopResolver struct{}

func (NopResolver) GetMedia(context.Context, string) (*Media, error) { return nil, nil }
