package models

import (
	"time"

	"bloodsos/internal/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SOSStatus string
type Urgency string
type ResponseStatus string

const (
	SOSStatusActive    SOSStatus = "ACTIVE"
	SOSStatusFulfilled SOSStatus = "FULFILLED"
	SOSStatusClosed    SOSStatus = "CLOSED"

	UrgencyCritical Urgency = "CRITICAL"
	UrgencyUrgent   Urgency = "URGENT"
	UrgencyStandard Urgency = "STANDARD"

	ResponseStatusEnroute   ResponseStatus = "ENROUTE"
	ResponseStatusArrived   ResponseStatus = "ARRIVED"
	ResponseStatusCancelled ResponseStatus = "CANCELLED"
)

func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyCritical, UrgencyUrgent, UrgencyStandard:
		return true
	}
	return false
}

type SOSRequest struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	HospitalID     string             `json:"hospital_id" bson:"hospital_id"`
	HospitalName   string             `json:"hospital_name,omitempty" bson:"hospital_name,omitempty"`
	HospitalCoords GeoPoint           `json:"hospital_coords" bson:"hospital_coords"`
	BloodType      string             `json:"blood_type" bson:"blood_type"`
	UnitsNeeded    int                `json:"units_needed" bson:"units_needed"`
	Urgency        Urgency            `json:"urgency" bson:"urgency"`
	Status         SOSStatus          `json:"status" bson:"status"`
	RequiredTags   []string           `json:"required_tags,omitempty" bson:"required_tags,omitempty"`
	MatchedDonors  []string           `json:"matched_donors" bson:"matched_donors"`
	Responses      []Response         `json:"responses" bson:"responses"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" bson:"updated_at"`
	FulfilledAt    *time.Time         `json:"fulfilled_at,omitempty" bson:"fulfilled_at,omitempty"`
	ClosedAt       *time.Time         `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
	Version        int64              `json:"-" bson:"version"`
}

// Response is embedded in its SOSRequest and has no identity of its own.
type Response struct {
	DonorID      string         `json:"donor_id" bson:"donor_id"`
	DistanceKM   float64        `json:"distance_km" bson:"distance_km"`
	ETAMinutes   int            `json:"eta_minutes" bson:"eta_minutes"`
	Status       ResponseStatus `json:"status" bson:"status"`
	LiveLocation *GeoPoint      `json:"live_location" bson:"live_location"`
	RespondedAt  time.Time      `json:"responded_at" bson:"responded_at"`
	UpdatedAt    time.Time      `json:"updated_at" bson:"updated_at"`
	ArrivedAt    *time.Time     `json:"arrived_at,omitempty" bson:"arrived_at,omitempty"`
}

type NewSOSRequestParams struct {
	HospitalID     string
	HospitalName   string
	HospitalCoords GeoPoint
	BloodType      string
	UnitsNeeded    int
	Urgency        Urgency
	RequiredTags   []string
}

func NewSOSRequest(params NewSOSRequestParams, now time.Time) *SOSRequest {
	urgency := params.Urgency
	if urgency == "" {
		urgency = UrgencyCritical
	}
	return &SOSRequest{
		HospitalID:     params.HospitalID,
		HospitalName:   params.HospitalName,
		HospitalCoords: params.HospitalCoords,
		BloodType:      params.BloodType,
		UnitsNeeded:    params.UnitsNeeded,
		Urgency:        urgency,
		Status:         SOSStatusActive,
		RequiredTags:   params.RequiredTags,
		MatchedDonors:  []string{},
		Responses:      []Response{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *SOSRequest) IsActive() bool {
	return r.Status == SOSStatusActive
}

// openResponseIndex returns the index of the donor's non-cancelled response.
func (r *SOSRequest) openResponseIndex(donorID string) int {
	for i := range r.Responses {
		if r.Responses[i].DonorID == donorID && r.Responses[i].Status != ResponseStatusCancelled {
			return i
		}
	}
	return -1
}

func (r *SOSRequest) enrouteResponseIndex(donorID string) int {
	for i := range r.Responses {
		if r.Responses[i].DonorID == donorID && r.Responses[i].Status == ResponseStatusEnroute {
			return i
		}
	}
	return -1
}

// AddResponse appends an ENROUTE response. Only ACTIVE requests accept donors and a
// donor may hold one non-cancelled response at a time.
func (r *SOSRequest) AddResponse(donorID string, distanceKM float64, etaMinutes int, now time.Time) (*Response, error) {
	if !r.IsActive() {
		return nil, utils.ErrRequestClosed
	}
	if r.openResponseIndex(donorID) >= 0 {
		return nil, utils.ErrDuplicateDonor
	}

	r.Responses = append(r.Responses, Response{
		DonorID:     donorID,
		DistanceKM:  distanceKM,
		ETAMinutes:  etaMinutes,
		Status:      ResponseStatusEnroute,
		RespondedAt: now,
		UpdatedAt:   now,
	})
	r.UpdatedAt = now

	resp := r.Responses[len(r.Responses)-1]
	return &resp, nil
}

func (r *SOSRequest) UpdateLiveLocation(donorID string, coords GeoPoint, now time.Time) error {
	i := r.enrouteResponseIndex(donorID)
	if i < 0 {
		return utils.ErrResponseNotFound
	}
	loc := coords
	r.Responses[i].LiveLocation = &loc
	r.Responses[i].UpdatedAt = now
	r.UpdatedAt = now
	return nil
}

// MarkArrived moves the donor's response to ARRIVED. The request becomes FULFILLED
// once the number of arrived donors reaches UnitsNeeded.
func (r *SOSRequest) MarkArrived(donorID string, now time.Time) (*Response, error) {
	if r.Status == SOSStatusClosed {
		return nil, utils.ErrRequestClosed
	}
	i := r.enrouteResponseIndex(donorID)
	if i < 0 {
		return nil, utils.ErrResponseNotFound
	}

	arrivedAt := now
	r.Responses[i].Status = ResponseStatusArrived
	r.Responses[i].ArrivedAt = &arrivedAt
	r.Responses[i].UpdatedAt = now
	r.UpdatedAt = now

	if r.IsActive() && r.ArrivedCount() >= r.UnitsNeeded {
		r.Status = SOSStatusFulfilled
		fulfilledAt := now
		r.FulfilledAt = &fulfilledAt
	}

	resp := r.Responses[i]
	return &resp, nil
}

func (r *SOSRequest) CancelResponse(donorID string, now time.Time) (*Response, error) {
	i := r.enrouteResponseIndex(donorID)
	if i < 0 {
		return nil, utils.ErrResponseNotFound
	}
	r.Responses[i].Status = ResponseStatusCancelled
	r.Responses[i].UpdatedAt = now
	r.UpdatedAt = now

	resp := r.Responses[i]
	return &resp, nil
}

// Close is terminal and idempotent. It reports whether the status changed.
func (r *SOSRequest) Close(now time.Time) bool {
	if r.Status == SOSStatusClosed {
		return false
	}
	r.Status = SOSStatusClosed
	closedAt := now
	r.ClosedAt = &closedAt
	r.UpdatedAt = now
	return true
}

func (r *SOSRequest) ArrivedCount() int {
	n := 0
	for _, resp := range r.Responses {
		if resp.Status == ResponseStatusArrived {
			n++
		}
	}
	return n
}

// FindResponse returns a copy of the donor's latest response.
func (r *SOSRequest) FindResponse(donorID string) (*Response, bool) {
	for i := len(r.Responses) - 1; i >= 0; i-- {
		if r.Responses[i].DonorID == donorID {
			resp := r.Responses[i]
			return &resp, true
		}
	}
	return nil, false
}

// Clone returns a deep copy so in-memory stores never share slices with callers.
func (r *SOSRequest) Clone() *SOSRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.RequiredTags = append([]string(nil), r.RequiredTags...)
	c.MatchedDonors = append([]string{}, r.MatchedDonors...)
	c.Responses = make([]Response, len(r.Responses))
	for i, resp := range r.Responses {
		if resp.LiveLocation != nil {
			loc := *resp.LiveLocation
			resp.LiveLocation = &loc
		}
		if resp.ArrivedAt != nil {
			t := *resp.ArrivedAt
			resp.ArrivedAt = &t
		}
		c.Responses[i] = resp
	}
	if r.FulfilledAt != nil {
		t := *r.FulfilledAt
		c.FulfilledAt = &t
	}
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
