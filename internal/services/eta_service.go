package services

import (
	"context"
	"time"

	"bloodsos/internal/models"
	"bloodsos/internal/utils"
	"bloodsos/pkg/logger"
	"bloodsos/pkg/maps"
)

// ETAService never fails: any routing problem degrades to the fallback.
type ETAService interface {
	EstimateMinutes(ctx context.Context, origin, destination models.GeoPoint) int
}

type etaService struct {
	provider        maps.MapsProvider
	timeout         time.Duration
	fallbackMinutes int
	log             *logger.Logger
}

// NewETAService accepts a nil provider, in which case every estimate is the
// fallback.
func NewETAService(provider maps.MapsProvider, timeout time.Duration, fallbackMinutes int, log *logger.Logger) ETAService {
	if fallbackMinutes <= 0 {
		fallbackMinutes = utils.DefaultFallbackETAMinutes
	}
	return &etaService{
		provider:        provider,
		timeout:         timeout,
		fallbackMinutes: fallbackMinutes,
		log:             log,
	}
}

func (s *etaService) EstimateMinutes(ctx context.Context, origin, destination models.GeoPoint) int {
	if s.provider == nil {
		return s.fallbackMinutes
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.provider.GetDirections(ctx, &maps.DirectionsRequest{
		Origin:      maps.Location{Latitude: origin.Lat, Longitude: origin.Lng},
		Destination: maps.Location{Latitude: destination.Lat, Longitude: destination.Lng},
		Mode:        "driving",
	})
	if err != nil {
		s.log.WithError(err).Warn("Routing provider failed, using fallback ETA")
		return s.fallbackMinutes
	}
	if resp == nil || len(resp.Routes) == 0 {
		s.log.Warn("Routing provider returned no route, using fallback ETA")
		return s.fallbackMinutes
	}

	return utils.MinutesFromSeconds(float64(resp.Routes[0].Duration.Value))
}
