package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bloodsos/internal/models"
	"bloodsos/internal/repositories/interfaces"
	"bloodsos/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// sosRequestRepository keeps deep copies so callers can never mutate stored state.
type sosRequestRepository struct {
	mu       sync.RWMutex
	requests map[primitive.ObjectID]*models.SOSRequest
}

func NewSOSRequestRepository() interfaces.SOSRequestRepository {
	return &sosRequestRepository{
		requests: make(map[primitive.ObjectID]*models.SOSRequest),
	}
}

func (r *sosRequestRepository) Create(ctx context.Context, request *models.SOSRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if request.ID.IsZero() {
		request.ID = primitive.NewObjectID()
	}
	request.Version = 1
	r.requests[request.ID] = request.Clone()
	return nil
}

func (r *sosRequestRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.SOSRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.requests[id]
	if !ok {
		return nil, utils.ErrRequestNotFound
	}
	return stored.Clone(), nil
}

func (r *sosRequestRepository) Save(ctx context.Context, request *models.SOSRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.requests[request.ID]
	if !ok {
		return utils.ErrRequestNotFound
	}
	if stored.Version != request.Version {
		return utils.ErrConcurrentUpdate
	}

	request.Version++
	r.requests[request.ID] = request.Clone()
	return nil
}

func (r *sosRequestRepository) ListActiveByHospital(ctx context.Context, hospitalID string) ([]*models.SOSRequest, error) {
	return r.list(func(req *models.SOSRequest) bool {
		return req.HospitalID == hospitalID
	}), nil
}

func (r *sosRequestRepository) ListActiveCreatedBefore(ctx context.Context, before time.Time) ([]*models.SOSRequest, error) {
	return r.list(func(req *models.SOSRequest) bool {
		return req.CreatedAt.Before(before)
	}), nil
}

func (r *sosRequestRepository) list(match func(*models.SOSRequest) bool) []*models.SOSRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.SOSRequest, 0)
	for _, req := range r.requests {
		if req.IsActive() && match(req) {
			out = append(out, req.Clone())
		}
	}

	// Most recent first. ObjectIDs embed creation order within a second.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.Hex() > out[j].ID.Hex()
	})
	return out
}
