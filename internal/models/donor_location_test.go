package models

import (
	"errors"
	"testing"
	"time"

	"bloodsos/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankCandidatesFiltersAndOrders(t *testing.T) {
	now := time.Now()
	origin := GeoPoint{Lat: 13.0827, Lng: 80.2707}
	future := now.Add(time.Hour)

	donors := []DonorLocation{
		{DonorID: "far", Coords: GeoPoint{Lat: 13.9, Lng: 80.2707}, BloodType: "O-", EligibleUntil: future},
		{DonorID: "b", Coords: GeoPoint{Lat: 13.0900, Lng: 80.2707}, BloodType: "O-", EligibleUntil: future},
		{DonorID: "a", Coords: GeoPoint{Lat: 13.0900, Lng: 80.2707}, BloodType: "O-", EligibleUntil: future},
		{DonorID: "wrong-type", Coords: origin, BloodType: "A+", EligibleUntil: future},
		{DonorID: "expired", Coords: origin, BloodType: "O-", EligibleUntil: now},
		{DonorID: "near", Coords: GeoPoint{Lat: 13.0830, Lng: 80.2707}, BloodType: "O-", EligibleUntil: future},
	}

	got := RankCandidates(NearbyQuery{Origin: origin, RadiusKM: 10, BloodType: "O-", Now: now}, donors)

	assert.Equal(t, []string{"near", "a", "b"}, CandidateIDs(got))
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].DistanceKM, got[i].DistanceKM)
	}
}

func TestRankCandidatesRequiredTags(t *testing.T) {
	now := time.Now()
	donors := []DonorLocation{
		{DonorID: "plain", BloodType: "B+", EligibleUntil: now.Add(time.Minute)},
		{DonorID: "tagged", BloodType: "B+", Tags: []string{"platelets", "apheresis"}, EligibleUntil: now.Add(time.Minute)},
	}

	got := RankCandidates(NearbyQuery{RadiusKM: 1, BloodType: "B+", RequiredTags: []string{"platelets"}, Now: now}, donors)

	require.Len(t, got, 1)
	assert.Equal(t, "tagged", got[0].DonorID)
}

func TestRankCandidatesEmpty(t *testing.T) {
	got := RankCandidates(NearbyQuery{RadiusKM: 10, BloodType: "O+", Now: time.Now()}, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestNearbyQueryValidate(t *testing.T) {
	err := NearbyQuery{Origin: GeoPoint{Lat: 91, Lng: 0}, RadiusKM: 5}.Validate()
	assert.True(t, errors.Is(err, utils.ErrInvalidCoordinates))

	err = NearbyQuery{Origin: GeoPoint{Lat: 0, Lng: 181}, RadiusKM: 5}.Validate()
	assert.True(t, errors.Is(err, utils.ErrInvalidCoordinates))

	assert.NoError(t, NearbyQuery{Origin: GeoPoint{Lat: 0, Lng: 0}, RadiusKM: 5}.Validate())
}

func TestGeoJSONRoundTripKeepsAxisOrder(t *testing.T) {
	p := GeoPoint{Lat: 13.0827, Lng: 80.2707}
	g := NewGeoJSONPoint(p)

	assert.Equal(t, []float64{80.2707, 13.0827}, g.Coordinates)
	assert.Equal(t, p, g.GeoPoint())
}
