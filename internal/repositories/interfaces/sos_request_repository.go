package interfaces

import (
	"context"
	"time"

	"bloodsos/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SOSRequestRepository interface {
	// Create assigns the id and the initial version.
	Create(ctx context.Context, request *models.SOSRequest) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.SOSRequest, error)
	// Save replaces the stored document if its version still matches request.Version,
	// then bumps request.Version. A mismatch returns utils.ErrConcurrentUpdate.
	Save(ctx context.Context, request *models.SOSRequest) error
	// ListActiveByHospital returns ACTIVE requests, most recent first.
	ListActiveByHospital(ctx context.Context, hospitalID string) ([]*models.SOSRequest, error)
	ListActiveCreatedBefore(ctx context.Context, before time.Time) ([]*models.SOSRequest, error)
}
