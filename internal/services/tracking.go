package services

import "time"

// TrackingPublisher pushes dispatch events to the hospital's live room.
// Publishing never blocks and never fails the calling operation.
type TrackingPublisher interface {
	PublishAcceptance(hospitalID, requestID, donorID string, eta int, lat, lng float64)
	PublishTracking(hospitalID, donorID string, lat, lng float64)
	PublishStatus(hospitalID, requestID, donorID, eventType, status string)
}

type RoomSweeper interface {
	Sweep(now time.Time) int
}

type noopTracking struct{}

func (noopTracking) PublishAcceptance(string, string, string, int, float64, float64) {}
func (noopTracking) PublishTracking(string, string, float64, float64)                {}
func (noopTracking) PublishStatus(string, string, string, string, string)            {}
