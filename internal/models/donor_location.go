package models

import (
	"sort"
	"time"

	"bloodsos/internal/utils"
)

const (
	PushPlatformAndroid = "android"
	PushPlatformIOS     = "ios"
)

// DonorLocation is the last known position and availability of one donor.
type DonorLocation struct {
	DonorID       string    `json:"donor_id" bson:"donor_id"`
	Coords        GeoPoint  `json:"coords" bson:"coords"`
	BloodType     string    `json:"blood_type" bson:"blood_type"`
	Tags          []string  `json:"tags,omitempty" bson:"tags,omitempty"`
	PushToken     string    `json:"push_token,omitempty" bson:"push_token,omitempty"`
	PushPlatform  string    `json:"push_platform,omitempty" bson:"push_platform,omitempty"`
	Phone         string    `json:"phone,omitempty" bson:"phone,omitempty"`
	LastSeen      time.Time `json:"last_seen" bson:"last_seen"`
	EligibleUntil time.Time `json:"eligible_until" bson:"eligible_until"`
}

func (d DonorLocation) IsEligible(now time.Time) bool {
	return d.EligibleUntil.After(now)
}

// HasTags reports whether the donor carries every tag in required.
func (d DonorLocation) HasTags(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range d.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (d DonorLocation) Clone() DonorLocation {
	d.Tags = append([]string(nil), d.Tags...)
	return d
}

type Candidate struct {
	DonorLocation
	DistanceKM float64 `json:"distance_km"`
}

type NearbyQuery struct {
	Origin       GeoPoint
	RadiusKM     float64
	BloodType    string
	RequiredTags []string
	Now          time.Time
}

func (q NearbyQuery) Validate() error {
	if err := q.Origin.Validate(); err != nil {
		return err
	}
	if q.RadiusKM < 0 {
		return utils.ErrValidation.Wrap(errNegativeRadius)
	}
	return nil
}

// Matches applies every query filter except distance.
func (q NearbyQuery) Matches(d DonorLocation) bool {
	return d.BloodType == q.BloodType && d.IsEligible(q.Now) && d.HasTags(q.RequiredTags)
}

// RankCandidates runs the exact filter over a pre-filtered donor set and orders
// the survivors by distance, then donor id. Every GeoIndex backend ends here so
// all of them agree on ordering.
func RankCandidates(q NearbyQuery, donors []DonorLocation) []Candidate {
	candidates := make([]Candidate, 0, len(donors))
	for _, d := range donors {
		if !q.Matches(d) {
			continue
		}
		dist := q.Origin.DistanceKM(d.Coords)
		if dist > q.RadiusKM {
			continue
		}
		candidates = append(candidates, Candidate{DonorLocation: d.Clone(), DistanceKM: dist})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceKM != candidates[j].DistanceKM {
			return candidates[i].DistanceKM < candidates[j].DistanceKM
		}
		return candidates[i].DonorID < candidates[j].DonorID
	})
	return candidates
}

func CandidateIDs(candidates []Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.DonorID
	}
	return ids
}
