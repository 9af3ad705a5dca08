package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type MapboxProvider struct {
	accessToken string
	httpClient  *http.Client
	baseURL     string
}

func NewMapboxProvider(accessToken string) *MapboxProvider {
	return &MapboxProvider{
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     "https://api.mapbox.com",
	}
}

// Mapbox takes coordinates as lng,lat.
func (m *MapboxProvider) GetDirections(ctx context.Context, request *DirectionsRequest) (*DirectionsResponse, error) {
	coordinates := fmt.Sprintf("%f,%f;%f,%f",
		request.Origin.Longitude, request.Origin.Latitude,
		request.Destination.Longitude, request.Destination.Latitude)

	profile := "driving"
	switch request.Mode {
	case "walking":
		profile = "walking"
	case "bicycling":
		profile = "cycling"
	}

	query := url.Values{}
	query.Set("access_token", m.accessToken)
	query.Set("overview", "simplified")
	query.Set("geometries", "polyline")
	apiURL := fmt.Sprintf("%s/directions/v5/mapbox/%s/%s?%s", m.baseURL, profile, coordinates, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, string(body))
	}

	var mapboxResp struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
			Geometry string  `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(body, &mapboxResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if mapboxResp.Code != "" && mapboxResp.Code != "Ok" {
		return nil, fmt.Errorf("mapbox API error: %s", mapboxResp.Code)
	}

	routes := make([]Route, len(mapboxResp.Routes))
	for i, route := range mapboxResp.Routes {
		routes[i] = Route{
			Distance: Distance{
				Value: route.Distance,
				Text:  fmt.Sprintf("%.1f km", route.Distance/1000),
			},
			Duration: Duration{
				Value: int(route.Duration),
				Text:  fmt.Sprintf("%.0f min", route.Duration/60),
			},
			Polyline: route.Geometry,
		}
	}

	return &DirectionsResponse{Routes: routes}, nil
}
