package interfaces

import (
	"context"
	"time"

	"bloodsos/internal/models"
)

// GeoIndex holds the current position of every donor. Implementations must
// return QueryNearby results ordered by distance, then donor id, which in
// practice means finishing with models.RankCandidates.
type GeoIndex interface {
	// UpsertDonor writes the full availability profile.
	UpsertDonor(ctx context.Context, location *models.DonorLocation) error
	// UpsertLocation moves a donor and refreshes eligibility, keeping the profile.
	UpsertLocation(ctx context.Context, donorID string, coords models.GeoPoint, eligibleUntil time.Time) error
	QueryNearby(ctx context.Context, query models.NearbyQuery) ([]models.Candidate, error)
	GetDonor(ctx context.Context, donorID string) (*models.DonorLocation, error)
	// RemoveExpired deletes donors whose eligibility ended at or before the cutoff.
	RemoveExpired(ctx context.Context, before time.Time) (int64, error)
}
