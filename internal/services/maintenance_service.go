package services

import (
	"context"
	"fmt"
	"time"

	"bloodsos/internal/repositories/interfaces"
	"bloodsos/internal/utils"
	"bloodsos/pkg/logger"
)

// MaintenanceService holds the housekeeping jobs run by the scheduler.
type MaintenanceService interface {
	CloseStaleRequests(ctx context.Context) (int, error)
	PurgeExpiredDonors(ctx context.Context) (int64, error)
	SweepRooms() int
}

type maintenanceService struct {
	ledger            DispatchLedger
	index             interfaces.GeoIndex
	tracking          TrackingPublisher
	sweeper           RoomSweeper
	requestTTL        time.Duration
	locationRetention time.Duration
	log               *logger.Logger
	now               func() time.Time
}

func NewMaintenanceService(
	ledger DispatchLedger,
	index interfaces.GeoIndex,
	tracking TrackingPublisher,
	sweeper RoomSweeper,
	requestTTL, locationRetention time.Duration,
	log *logger.Logger,
) MaintenanceService {
	if tracking == nil {
		tracking = noopTracking{}
	}
	return &maintenanceService{
		ledger:            ledger,
		index:             index,
		tracking:          tracking,
		sweeper:           sweeper,
		requestTTL:        requestTTL,
		locationRetention: locationRetention,
		log:               log,
		now:               time.Now,
	}
}

// CloseStaleRequests closes ACTIVE requests older than the request TTL. One
// failing request does not stop the rest; the first error is returned.
func (m *maintenanceService) CloseStaleRequests(ctx context.Context) (int, error) {
	stale, err := m.ledger.ListStale(ctx, m.now().Add(-m.requestTTL))
	if err != nil {
		return 0, err
	}

	closedCount := 0
	var firstErr error
	for _, request := range stale {
		requestID := request.ID.Hex()
		closedRequest, closed, err := m.ledger.CloseRequest(ctx, requestID)
		if err != nil {
			m.log.WithSOSRequestID(requestID).WithError(err).Warn("Failed to close stale request")
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to close stale request %s: %w", requestID, err)
			}
			continue
		}
		if closed {
			closedCount++
			m.tracking.PublishStatus(closedRequest.HospitalID, requestID, "", utils.EventRequestClosed, string(closedRequest.Status))
		}
	}

	if closedCount > 0 {
		m.log.Infof("Closed %d stale sos requests", closedCount)
	}
	return closedCount, firstErr
}

func (m *maintenanceService) PurgeExpiredDonors(ctx context.Context) (int64, error) {
	removed, err := m.index.RemoveExpired(ctx, m.now().Add(-m.locationRetention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired donor locations: %w", err)
	}
	if removed > 0 {
		m.log.Infof("Purged %d expired donor locations", removed)
	}
	return removed, nil
}

func (m *maintenanceService) SweepRooms() int {
	if m.sweeper == nil {
		return 0
	}
	removed := m.sweeper.Sweep(m.now())
	if removed > 0 {
		m.log.Debugf("Swept %d empty tracking rooms", removed)
	}
	return removed
}
