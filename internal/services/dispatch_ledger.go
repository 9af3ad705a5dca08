package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bloodsos/internal/models"
	"bloodsos/internal/repositories/interfaces"
	"bloodsos/internal/utils"
	"bloodsos/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DispatchLedger is the only writer of SOS requests and their responses.
type DispatchLedger interface {
	CreateRequest(ctx context.Context, params models.NewSOSRequestParams) (*models.SOSRequest, error)
	AddResponse(ctx context.Context, requestID, donorID string, distanceKM float64, etaMinutes int) (*models.SOSRequest, *models.Response, error)
	UpdateLiveLocation(ctx context.Context, requestID, donorID string, coords models.GeoPoint) (*models.SOSRequest, error)
	MarkArrived(ctx context.Context, requestID, donorID string) (*ArrivalResult, error)
	CancelResponse(ctx context.Context, requestID, donorID string) (*models.SOSRequest, *models.Response, error)
	// CloseRequest reports whether this call performed the transition.
	CloseRequest(ctx context.Context, requestID string) (*models.SOSRequest, bool, error)
	RecordMatches(ctx context.Context, requestID string, donorIDs []string) error
	GetRequest(ctx context.Context, requestID string) (*models.SOSRequest, error)
	ListActive(ctx context.Context, hospitalID string) ([]*models.SOSRequest, error)
	ListStale(ctx context.Context, before time.Time) ([]*models.SOSRequest, error)
}

type ArrivalResult struct {
	Request  *models.SOSRequest
	Response *models.Response
	// Fulfilled is set only on the arrival that moved the request to FULFILLED.
	Fulfilled bool
}

type dispatchLedger struct {
	repo  interfaces.SOSRequestRepository
	locks *keyedMutex
	log   *logger.Logger
	now   func() time.Time
}

func NewDispatchLedger(repo interfaces.SOSRequestRepository, log *logger.Logger) DispatchLedger {
	return &dispatchLedger{
		repo:  repo,
		locks: newKeyedMutex(),
		log:   log,
		now:   time.Now,
	}
}

func parseRequestID(requestID string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(requestID)
	if err != nil {
		return primitive.NilObjectID, utils.ErrInvalidRequestID.Wrap(err)
	}
	return id, nil
}

func validateNewRequest(params models.NewSOSRequestParams) error {
	if params.HospitalID == "" {
		return utils.ErrValidation.Wrap(errors.New("hospital_id is required"))
	}
	if err := utils.ValidateCoordinates(params.HospitalCoords.Lat, params.HospitalCoords.Lng); err != nil {
		return err
	}
	if !utils.IsValidBloodType(params.BloodType) {
		return utils.ErrValidation.Wrap(fmt.Errorf("unknown blood type %q", params.BloodType))
	}
	if params.UnitsNeeded < 1 {
		return utils.ErrValidation.Wrap(fmt.Errorf("units_needed must be at least 1, got %d", params.UnitsNeeded))
	}
	if params.Urgency != "" && !params.Urgency.IsValid() {
		return utils.ErrValidation.Wrap(fmt.Errorf("unknown urgency %q", params.Urgency))
	}
	return nil
}

func (l *dispatchLedger) CreateRequest(ctx context.Context, params models.NewSOSRequestParams) (*models.SOSRequest, error) {
	if err := validateNewRequest(params); err != nil {
		return nil, err
	}

	request := models.NewSOSRequest(params, l.now())
	if err := l.repo.Create(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to create sos request: %w", err)
	}

	l.log.LogDispatchEvent(request.ID.Hex(), "request_created", map[string]interface{}{
		"hospital_id":  request.HospitalID,
		"blood_type":   request.BloodType,
		"units_needed": request.UnitsNeeded,
		"urgency":      request.Urgency,
	})
	return request, nil
}

// mutate runs fn against the latest stored copy under the request's lock and
// saves the result when fn reports a change.
func (l *dispatchLedger) mutate(ctx context.Context, requestID string, fn func(request *models.SOSRequest, now time.Time) (bool, error)) (*models.SOSRequest, error) {
	id, err := parseRequestID(requestID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(id.Hex())
	defer unlock()

	request, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load sos request: %w", err)
	}

	changed, err := fn(request, l.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return request, nil
	}

	if err := l.repo.Save(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to save sos request: %w", err)
	}
	return request, nil
}

func (l *dispatchLedger) AddResponse(ctx context.Context, requestID, donorID string, distanceKM float64, etaMinutes int) (*models.SOSRequest, *models.Response, error) {
	if donorID == "" {
		return nil, nil, utils.ErrValidation.Wrap(errors.New("donor_id is required"))
	}

	var response *models.Response
	request, err := l.mutate(ctx, requestID, func(r *models.SOSRequest, now time.Time) (bool, error) {
		resp, err := r.AddResponse(donorID, distanceKM, etaMinutes, now)
		if err != nil {
			return false, err
		}
		response = resp
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}

	l.log.WithDonorID(donorID).LogDispatchEvent(requestID, "donor_accepted", map[string]interface{}{
		"distance_km": distanceKM,
		"eta_minutes": etaMinutes,
	})
	return request, response, nil
}

func (l *dispatchLedger) UpdateLiveLocation(ctx context.Context, requestID, donorID string, coords models.GeoPoint) (*models.SOSRequest, error) {
	if err := utils.ValidateCoordinates(coords.Lat, coords.Lng); err != nil {
		return nil, err
	}
	return l.mutate(ctx, requestID, func(r *models.SOSRequest, now time.Time) (bool, error) {
		if err := r.UpdateLiveLocation(donorID, coords, now); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (l *dispatchLedger) MarkArrived(ctx context.Context, requestID, donorID string) (*ArrivalResult, error) {
	result := &ArrivalResult{}
	request, err := l.mutate(ctx, requestID, func(r *models.SOSRequest, now time.Time) (bool, error) {
		wasActive := r.IsActive()
		resp, err := r.MarkArrived(donorID, now)
		if err != nil {
			return false, err
		}
		result.Response = resp
		result.Fulfilled = wasActive && r.Status == models.SOSStatusFulfilled
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	result.Request = request

	l.log.WithDonorID(donorID).LogDispatchEvent(requestID, "donor_arrived", map[string]interface{}{
		"arrived":   request.ArrivedCount(),
		"needed":    request.UnitsNeeded,
		"fulfilled": result.Fulfilled,
	})
	return result, nil
}

func (l *dispatchLedger) CancelResponse(ctx context.Context, requestID, donorID string) (*models.SOSRequest, *models.Response, error) {
	var response *models.Response
	request, err := l.mutate(ctx, requestID, func(r *models.SOSRequest, now time.Time) (bool, error) {
		resp, err := r.CancelResponse(donorID, now)
		if err != nil {
			return false, err
		}
		response = resp
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}

	l.log.WithDonorID(donorID).LogDispatchEvent(requestID, "response_cancelled", nil)
	return request, response, nil
}

func (l *dispatchLedger) CloseRequest(ctx context.Context, requestID string) (*models.SOSRequest, bool, error) {
	closed := false
	request, err := l.mutate(ctx, requestID, func(r *models.SOSRequest, now time.Time) (bool, error) {
		closed = r.Close(now)
		return closed, nil
	})
	if err != nil {
		return nil, false, err
	}

	if closed {
		l.log.LogDispatchEvent(requestID, "request_closed", map[string]interface{}{
			"arrived": request.ArrivedCount(),
		})
	}
	return request, closed, nil
}

func (l *dispatchLedger) RecordMatches(ctx context.Context, requestID string, donorIDs []string) error {
	_, err := l.mutate(ctx, requestID, func(r *models.SOSRequest, now time.Time) (bool, error) {
		r.MatchedDonors = append([]string{}, donorIDs...)
		r.UpdatedAt = now
		return true, nil
	})
	return err
}

func (l *dispatchLedger) GetRequest(ctx context.Context, requestID string) (*models.SOSRequest, error) {
	id, err := parseRequestID(requestID)
	if err != nil {
		return nil, err
	}
	request, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get sos request: %w", err)
	}
	return request, nil
}

func (l *dispatchLedger) ListActive(ctx context.Context, hospitalID string) ([]*models.SOSRequest, error) {
	requests, err := l.repo.ListActiveByHospital(ctx, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sos requests: %w", err)
	}
	return requests, nil
}

func (l *dispatchLedger) ListStale(ctx context.Context, before time.Time) ([]*models.SOSRequest, error) {
	requests, err := l.repo.ListActiveCreatedBefore(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sos requests: %w", err)
	}
	return requests, nil
}
