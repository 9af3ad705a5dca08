package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"bloodsos/internal/models"
	"bloodsos/pkg/logger"
	"bloodsos/pkg/maps"

	"github.com/stretchr/testify/assert"
)

type fakeMaps struct {
	resp  *maps.DirectionsResponse
	err   error
	block bool
	last  *maps.DirectionsRequest
}

func (f *fakeMaps) GetDirections(ctx context.Context, request *maps.DirectionsRequest) (*maps.DirectionsResponse, error) {
	f.last = request
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func routeOf(seconds int) *maps.DirectionsResponse {
	return &maps.DirectionsResponse{Routes: []maps.Route{{Duration: maps.Duration{Value: seconds}}}}
}

func TestEstimateMinutes(t *testing.T) {
	donor := models.GeoPoint{Lat: 13.05, Lng: 80.25}

	tests := []struct {
		name     string
		provider maps.MapsProvider
		want     int
	}{
		{"no provider", nil, 15},
		{"route rounds to minutes", &fakeMaps{resp: routeOf(631)}, 11},
		{"provider error", &fakeMaps{err: errors.New("quota exceeded")}, 15},
		{"empty route list", &fakeMaps{resp: &maps.DirectionsResponse{}}, 15},
		{"provider timeout", &fakeMaps{block: true}, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewETAService(tt.provider, 20*time.Millisecond, 15, logger.NewNop())
			assert.Equal(t, tt.want, svc.EstimateMinutes(context.Background(), donor, chennai))
		})
	}
}

func TestEstimateMinutesPassesCoordinates(t *testing.T) {
	provider := &fakeMaps{resp: routeOf(60)}
	svc := NewETAService(provider, time.Second, 15, logger.NewNop())

	svc.EstimateMinutes(context.Background(), models.GeoPoint{Lat: 1, Lng: 2}, models.GeoPoint{Lat: 3, Lng: 4})

	assert.Equal(t, maps.Location{Latitude: 1, Longitude: 2}, provider.last.Origin)
	assert.Equal(t, maps.Location{Latitude: 3, Longitude: 4}, provider.last.Destination)
	assert.Equal(t, "driving", provider.last.Mode)
}
