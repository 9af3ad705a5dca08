package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bloodsos/internal/config"
	"bloodsos/internal/models"
	"bloodsos/internal/repositories/interfaces"
	"bloodsos/internal/utils"
	"bloodsos/pkg/logger"
)

type SOSService interface {
	// Alerts
	CreateAlert(ctx context.Context, req *models.CreateAlertRequest) (*models.CreateAlertResult, error)
	GetAlert(ctx context.Context, requestID string) (*models.SOSRequest, error)
	ListActiveAlerts(ctx context.Context, hospitalID string) ([]*models.SOSRequest, error)
	CloseAlert(ctx context.Context, requestID string) (*models.SOSRequest, error)

	// Donor responses
	Respond(ctx context.Context, requestID string, req *models.RespondRequest) (*models.RespondResult, error)
	UpdateLocation(ctx context.Context, update *models.LocationUpdate) error
	MarkArrived(ctx context.Context, requestID, donorID string) (*models.SOSRequest, error)
	CancelResponse(ctx context.Context, requestID, donorID string) (*models.SOSRequest, error)

	// Donor availability
	RegisterDonor(ctx context.Context, donorID string, req *models.DonorAvailabilityRequest) (*models.DonorLocation, error)
}

type sosService struct {
	ledger   DispatchLedger
	matcher  MatchEngine
	fanout   NotificationFanout
	eta      ETAService
	index    interfaces.GeoIndex
	tracking TrackingPublisher
	config   *config.DispatchConfig
	log      *logger.Logger
	now      func() time.Time
}

func NewSOSService(
	cfg *config.DispatchConfig,
	ledger DispatchLedger,
	matcher MatchEngine,
	fanout NotificationFanout,
	eta ETAService,
	index interfaces.GeoIndex,
	tracking TrackingPublisher,
	log *logger.Logger,
) SOSService {
	if tracking == nil {
		tracking = noopTracking{}
	}
	return &sosService{
		ledger:   ledger,
		matcher:  matcher,
		fanout:   fanout,
		eta:      eta,
		index:    index,
		tracking: tracking,
		config:   cfg,
		log:      log,
		now:      time.Now,
	}
}

func (s *sosService) CreateAlert(ctx context.Context, req *models.CreateAlertRequest) (*models.CreateAlertResult, error) {
	if req.HospitalLat == nil || req.HospitalLng == nil {
		return nil, utils.ErrValidation.Wrap(errors.New("hospital_lat and hospital_lng are required"))
	}

	hospitalName := strings.TrimSpace(req.HospitalName)
	if hospitalName == "" {
		hospitalName = s.config.DefaultHospitalName
	}

	request, err := s.ledger.CreateRequest(ctx, models.NewSOSRequestParams{
		HospitalID:     req.HospitalID,
		HospitalName:   hospitalName,
		HospitalCoords: req.Coords(),
		BloodType:      utils.NormalizeBloodType(req.BloodType),
		UnitsNeeded:    req.UnitsNeeded,
		Urgency:        req.Urgency,
		RequiredTags:   req.RequiredTags,
	})
	if err != nil {
		return nil, err
	}
	requestID := request.ID.Hex()

	candidates, err := s.matcher.Dispatch(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to match donors for %s: %w", requestID, err)
	}

	if err := s.ledger.RecordMatches(ctx, requestID, models.CandidateIDs(candidates)); err != nil {
		return nil, fmt.Errorf("failed to record matched donors: %w", err)
	}

	report := s.fanout.Broadcast(ctx, request, candidates)

	s.tracking.PublishStatus(request.HospitalID, requestID, "", utils.EventAlertCreated, string(request.Status))

	return &models.CreateAlertResult{
		RequestID:      requestID,
		CandidateCount: len(candidates),
		Notifications:  report,
	}, nil
}

func (s *sosService) GetAlert(ctx context.Context, requestID string) (*models.SOSRequest, error) {
	return s.ledger.GetRequest(ctx, requestID)
}

func (s *sosService) ListActiveAlerts(ctx context.Context, hospitalID string) ([]*models.SOSRequest, error) {
	return s.ledger.ListActive(ctx, hospitalID)
}

func (s *sosService) CloseAlert(ctx context.Context, requestID string) (*models.SOSRequest, error) {
	request, closed, err := s.ledger.CloseRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if closed {
		s.tracking.PublishStatus(request.HospitalID, requestID, "", utils.EventRequestClosed, string(request.Status))
	}
	return request, nil
}

// Respond records a donor's acceptance. The distance is measured from the
// donor's current position to the hospital; the ETA comes from the routing
// provider or the fallback.
func (s *sosService) Respond(ctx context.Context, requestID string, req *models.RespondRequest) (*models.RespondResult, error) {
	if req.DonorLat == nil || req.DonorLng == nil {
		return nil, utils.ErrValidation.Wrap(errors.New("donor_lat and donor_lng are required"))
	}
	donorCoords := req.Coords()
	if err := utils.ValidateCoordinates(donorCoords.Lat, donorCoords.Lng); err != nil {
		return nil, err
	}

	// Reject closed requests before spending a routing call on them.
	current, err := s.ledger.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !current.IsActive() {
		return nil, utils.ErrRequestClosed
	}

	hospital := current.HospitalCoords
	distanceKM := utils.RoundTo(utils.CalculateDistance(donorCoords.Lat, donorCoords.Lng, hospital.Lat, hospital.Lng), 2)
	eta := s.eta.EstimateMinutes(ctx, donorCoords, hospital)

	request, response, err := s.ledger.AddResponse(ctx, requestID, req.DonorID, distanceKM, eta)
	if err != nil {
		return nil, err
	}

	s.tracking.PublishAcceptance(request.HospitalID, requestID, req.DonorID, response.ETAMinutes, donorCoords.Lat, donorCoords.Lng)

	return &models.RespondResult{
		Status:     utils.StatusSuccess,
		ETA:        response.ETAMinutes,
		DistanceKM: response.DistanceKM,
	}, nil
}

// UpdateLocation refreshes a donor's position. With a request id the en-route
// response is updated and the hospital's room is told; the geo index is
// refreshed either way when the donor is registered.
func (s *sosService) UpdateLocation(ctx context.Context, update *models.LocationUpdate) error {
	if update.Lat == nil || update.Lng == nil {
		return utils.ErrValidation.Wrap(errors.New("lat and lng are required"))
	}
	if update.DonorID == "" {
		return utils.ErrValidation.Wrap(errors.New("donor_id is required"))
	}
	coords := update.Coords()
	if err := utils.ValidateCoordinates(coords.Lat, coords.Lng); err != nil {
		return err
	}

	if update.RequestID != "" {
		request, err := s.ledger.UpdateLiveLocation(ctx, update.RequestID, update.DonorID, coords)
		if err != nil {
			return err
		}
		s.tracking.PublishTracking(request.HospitalID, update.DonorID, coords.Lat, coords.Lng)
	}

	donor, err := s.index.GetDonor(ctx, update.DonorID)
	switch {
	case errors.Is(err, utils.ErrDonorNotFound):
		if update.RequestID == "" {
			return err
		}
		return nil
	case err != nil:
		if update.RequestID == "" {
			return fmt.Errorf("failed to load donor location: %w", err)
		}
		s.log.WithDonorID(update.DonorID).WithError(err).Warn("Geo index refresh skipped")
		return nil
	}

	if err := s.index.UpsertLocation(ctx, update.DonorID, coords, donor.EligibleUntil); err != nil {
		if update.RequestID == "" {
			return fmt.Errorf("failed to update donor location: %w", err)
		}
		s.log.WithDonorID(update.DonorID).WithError(err).Warn("Geo index refresh failed")
	}
	return nil
}

func (s *sosService) MarkArrived(ctx context.Context, requestID, donorID string) (*models.SOSRequest, error) {
	result, err := s.ledger.MarkArrived(ctx, requestID, donorID)
	if err != nil {
		return nil, err
	}

	hospitalID := result.Request.HospitalID
	s.tracking.PublishStatus(hospitalID, requestID, donorID, utils.EventDonorArrived, string(result.Response.Status))
	if result.Fulfilled {
		s.tracking.PublishStatus(hospitalID, requestID, "", utils.EventRequestFulfilled, string(result.Request.Status))
	}
	return result.Request, nil
}

func (s *sosService) CancelResponse(ctx context.Context, requestID, donorID string) (*models.SOSRequest, error) {
	request, response, err := s.ledger.CancelResponse(ctx, requestID, donorID)
	if err != nil {
		return nil, err
	}
	s.tracking.PublishStatus(request.HospitalID, requestID, donorID, utils.EventResponseCancelled, string(response.Status))
	return request, nil
}

// RegisterDonor stores a donor's availability profile. A donor who gave blood
// within the donation gap is stored but already ineligible.
func (s *sosService) RegisterDonor(ctx context.Context, donorID string, req *models.DonorAvailabilityRequest) (*models.DonorLocation, error) {
	if donorID == "" {
		return nil, utils.ErrValidation.Wrap(errors.New("donor_id is required"))
	}
	if req.Lat == nil || req.Lng == nil {
		return nil, utils.ErrValidation.Wrap(errors.New("lat and lng are required"))
	}
	coords := req.Coords()
	if err := utils.ValidateCoordinates(coords.Lat, coords.Lng); err != nil {
		return nil, err
	}
	bloodType := utils.NormalizeBloodType(req.BloodType)
	if !utils.IsValidBloodType(bloodType) {
		return nil, utils.ErrValidation.Wrap(fmt.Errorf("unknown blood type %q", req.BloodType))
	}

	now := s.now()
	location := &models.DonorLocation{
		DonorID:       donorID,
		Coords:        coords,
		BloodType:     bloodType,
		Tags:          req.Tags,
		PushToken:     req.PushToken,
		PushPlatform:  req.PushPlatform,
		Phone:         req.Phone,
		LastSeen:      now,
		EligibleUntil: s.eligibleUntil(now, req.LastDonationDate),
	}

	if err := s.index.UpsertDonor(ctx, location); err != nil {
		return nil, fmt.Errorf("failed to register donor: %w", err)
	}

	s.log.WithDonorID(donorID).WithFields(map[string]interface{}{
		"blood_type":     bloodType,
		"eligible_until": location.EligibleUntil,
	}).Info("Donor availability updated")
	return location, nil
}

func (s *sosService) eligibleUntil(now time.Time, lastDonation *time.Time) time.Time {
	if lastDonation != nil && s.config.DonationGapDays > 0 {
		nextAllowed := lastDonation.AddDate(0, 0, s.config.DonationGapDays)
		if now.Before(nextAllowed) {
			return now
		}
	}
	return now.Add(s.config.LocationTTL)
}
