// Package geo provides the position sources a courier agent reads from.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rl1809/order-tracking/internal/core/domain"
)

// HTTPSource reads the device position from a local JSON endpoint.
type HTTPSource struct {
	url    string
	client *http.Client
	now    func() time.Time
}

type positionResponse struct {
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

func NewHTTPSource(endpoint string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSource{url: endpoint, client: client, now: time.Now}
}

func (s *HTTPSource) CurrentPosition(ctx context.Context, req domain.PositionRequest) (domain.Position, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return domain.Position{}, fmt.Errorf("parse position url: %w", err)
	}
	q := u.Query()
	q.Set("high_accuracy", strconv.FormatBool(req.HighAccuracy))
	q.Set("maximum_age_ms", strconv.FormatInt(req.MaximumAge.Milliseconds(), 10))
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Position{}, fmt.Errorf("build position request: %w", err)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return domain.Position{}, fmt.Errorf("read position: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return domain.Position{}, domain.ErrPermissionDenied
	case resp.StatusCode != http.StatusOK:
		return domain.Position{}, fmt.Errorf("read position: unexpected status %d", resp.StatusCode)
	}

	var body positionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Position{}, fmt.Errorf("decode position: %w", err)
	}
	if body.Latitude == nil || body.Longitude == nil {
		return domain.Position{}, fmt.Errorf("decode position: missing coordinates")
	}

	pos := domain.Position{
		Latitude:  *body.Latitude,
		Longitude: *body.Longitude,
		Accuracy:  body.Accuracy,
		Timestamp: body.Timestamp,
	}
	if pos.Timestamp.IsZero() {
		pos.Timestamp = s.now().UTC()
	}
	return pos, nil
}
