package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"
)

type GoogleMapsProvider struct {
	client *maps.Client
}

func NewGoogleMapsProvider(apiKey string, opts ...maps.ClientOption) (*GoogleMapsProvider, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	return &GoogleMapsProvider{
		client: client,
	}, nil
}

func (g *GoogleMapsProvider) GetDirections(ctx context.Context, request *DirectionsRequest) (*DirectionsResponse, error) {
	mode := maps.TravelModeDriving
	if request.Mode != "" {
		mode = maps.Mode(request.Mode)
	}

	req := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", request.Origin.Latitude, request.Origin.Longitude),
		Destination: fmt.Sprintf("%f,%f", request.Destination.Latitude, request.Destination.Longitude),
		Mode:        mode,
	}

	resp, _, err := g.client.Directions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("directions request failed: %w", err)
	}

	routes := make([]Route, 0, len(resp))
	for _, route := range resp {
		if len(route.Legs) == 0 {
			continue
		}
		leg := route.Legs[0]
		routes = append(routes, Route{
			Summary: route.Summary,
			Distance: Distance{
				Text:  leg.Distance.HumanReadable,
				Value: float64(leg.Distance.Meters),
			},
			Duration: Duration{
				Text:  leg.Duration.String(),
				Value: int(leg.Duration.Seconds()),
			},
			Polyline: route.OverviewPolyline.Points,
		})
	}

	return &DirectionsResponse{Routes: routes}, nil
}
