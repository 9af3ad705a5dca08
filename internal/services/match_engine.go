package services

import (
	"context"
	"fmt"
	"time"

	"bloodsos/internal/models"
	"bloodsos/internal/repositories/interfaces"
	"bloodsos/pkg/logger"
)

// MatchEngine turns a fresh alert into the ordered list of donors to notify.
type MatchEngine interface {
	Dispatch(ctx context.Context, request *models.SOSRequest) ([]models.Candidate, error)
}

type matchEngine struct {
	index    interfaces.GeoIndex
	radiusKM float64
	log      *logger.Logger
	now      func() time.Time
}

func NewMatchEngine(index interfaces.GeoIndex, radiusKM float64, log *logger.Logger) MatchEngine {
	return &matchEngine{
		index:    index,
		radiusKM: radiusKM,
		log:      log,
		now:      time.Now,
	}
}

// Dispatch returns every eligible donor in range, nearest first. No cap is
// applied and an empty list is a valid outcome.
func (m *matchEngine) Dispatch(ctx context.Context, request *models.SOSRequest) ([]models.Candidate, error) {
	candidates, err := m.index.QueryNearby(ctx, models.NearbyQuery{
		Origin:       request.HospitalCoords,
		RadiusKM:     m.radiusKM,
		BloodType:    request.BloodType,
		RequiredTags: request.RequiredTags,
		Now:          m.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby donors: %w", err)
	}

	m.log.WithSOSRequestID(request.ID.Hex()).WithFields(map[string]interface{}{
		"radius_km":  m.radiusKM,
		"blood_type": request.BloodType,
		"candidates": len(candidates),
	}).Info("Donor match completed")
	return candidates, nil
}
