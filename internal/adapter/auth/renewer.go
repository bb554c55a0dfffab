package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rl1809/order-tracking/internal/port"
)

var defaultClient = &http.Client{Timeout: 10 * time.Second}

// HTTPRenewer refreshes the device session by POSTing to a refresh endpoint.
type HTTPRenewer struct {
	url    string
	token  string
	client *http.Client
}

// NewRenewer returns an HTTPRenewer, or a NopRenewer when url is empty.
func NewRenewer(url, token string) port.SessionRenewer {
	if url == "" {
		return NopRenewer{}
	}
	return NewHTTPRenewer(url, token, nil)
}

func NewHTTPRenewer(url, token string, client *http.Client) *HTTPRenewer {
	if client == nil {
		client = defaultClient
	}
	return &HTTPRenewer{url: url, token: token, client: client}
}

func (r *HTTPRenewer) Renew(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("refresh session: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// NopRenewer is used when the device has no refresh endpoint.
type NopRenewer struct{}

func (NopRenewer) Renew(context.Context) error { return nil }
