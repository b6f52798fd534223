package elevation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const DefaultLookupURL = "https://api.open-elevation.com/api/v1/lookup"

// Sample is one resolved altitude.
type Sample struct {
	Lat        float64 `json:"latitude"`
	Lon        float64 `json:"longitude"`
	ElevationM float64 `json:"elevation"`
}

// Lookup resolves altitudes for a batch of coordinates. Implementations are
// rate-sensitive; the cache guarantees at most one call per neighborhood.
type Lookup interface {
	Lookup(ctx context.Context, locations []LatLng) ([]Sample, error)
}

// OpenElevation talks to the open-elevation POST API (or any service with
// the same request/response shape).
type OpenElevation struct {
	url    string
	client *http.Client
}

func NewOpenElevation(url string, timeout time.Duration) *OpenElevation {
	if url == "" {
		url = DefaultLookupURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenElevation{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type lookupRequest struct {
	Locations []LatLng `json:"locations"`
}

type lookupResponse struct {
	Results []Sample `json:"results"`
}

func (o *OpenElevation) Lookup(ctx context.Context, locations []LatLng) ([]Sample, error) {
	if len(locations) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(lookupRequest{Locations: locations})
	if err != nil {
		return nil, fmt.Errorf("elevation request marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevation lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevation lookup: status %d", resp.StatusCode)
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("elevation response decode: %w", err)
	}
	return out.Results, nil
}
