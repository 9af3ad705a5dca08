package models

import (
	"errors"
	"time"
)

var errNegativeRadius = errors.New("radius must not be negative")

// Request DTOs use pointer coordinates so a missing field is distinguishable
// from a legitimate 0.

type CreateAlertRequest struct {
	HospitalID   string   `json:"hospital_id" binding:"required"`
	HospitalName string   `json:"hospital_name"`
	HospitalLat  *float64 `json:"hospital_lat" binding:"required" validate:"omitempty,latitude"`
	HospitalLng  *float64 `json:"hospital_lng" binding:"required" validate:"omitempty,longitude"`
	BloodType    string   `json:"blood_type" binding:"required" validate:"blood_type"`
	UnitsNeeded  int      `json:"units_needed" binding:"required,min=1"`
	Urgency      Urgency  `json:"urgency" validate:"omitempty,oneof=CRITICAL URGENT STANDARD"`
	RequiredTags []string `json:"required_tags"`
}

func (r CreateAlertRequest) Coords() GeoPoint {
	return GeoPoint{Lat: *r.HospitalLat, Lng: *r.HospitalLng}
}

type RespondRequest struct {
	DonorID  string   `json:"donor_id" binding:"required"`
	DonorLat *float64 `json:"donor_lat" binding:"required" validate:"omitempty,latitude"`
	DonorLng *float64 `json:"donor_lng" binding:"required" validate:"omitempty,longitude"`
}

func (r RespondRequest) Coords() GeoPoint {
	return GeoPoint{Lat: *r.DonorLat, Lng: *r.DonorLng}
}

// LocationUpdate arrives over HTTP or as a donor_location_update websocket message.
type LocationUpdate struct {
	DonorID   string   `json:"donor_id" binding:"required"`
	RequestID string   `json:"request_id"`
	Lat       *float64 `json:"lat" binding:"required" validate:"omitempty,latitude"`
	Lng       *float64 `json:"lng" binding:"required" validate:"omitempty,longitude"`
}

func (u LocationUpdate) Coords() GeoPoint {
	return GeoPoint{Lat: *u.Lat, Lng: *u.Lng}
}

type DonorAvailabilityRequest struct {
	Lat              *float64   `json:"lat" binding:"required" validate:"omitempty,latitude"`
	Lng              *float64   `json:"lng" binding:"required" validate:"omitempty,longitude"`
	BloodType        string     `json:"blood_type" binding:"required" validate:"blood_type"`
	Tags             []string   `json:"tags"`
	PushToken        string     `json:"push_token"`
	PushPlatform     string     `json:"push_platform" validate:"omitempty,oneof=android ios"`
	Phone            string     `json:"phone" validate:"omitempty,phone_number"`
	LastDonationDate *time.Time `json:"last_donation_date"`
}

func (r DonorAvailabilityRequest) Coords() GeoPoint {
	return GeoPoint{Lat: *r.Lat, Lng: *r.Lng}
}

type ChannelReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
}

type DeliveryReport struct {
	Push ChannelReport `json:"push"`
	SMS  ChannelReport `json:"sms"`
}

type CreateAlertResult struct {
	RequestID      string         `json:"request_id"`
	CandidateCount int            `json:"candidate_count"`
	Notifications  DeliveryReport `json:"notifications"`
}

type RespondResult struct {
	Status     string  `json:"status"`
	ETA        int     `json:"eta"`
	DistanceKM float64 `json:"distance_km"`
}
