package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"bloodsos/internal/models"
	"bloodsos/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func donorDoc(id string, lat, lng float64, until time.Time) bson.D {
	return bson.D{
		{Key: "donor_id", Value: id},
		{Key: "coords", Value: bson.D{
			{Key: "type", Value: "Point"},
			{Key: "coordinates", Value: bson.A{lng, lat}},
		}},
		{Key: "blood_type", Value: "O-"},
		{Key: "eligible_until", Value: until},
	}
}

func TestGeoIndexQueryNearbyReranks(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)

	mt.Run("exact filter and order", func(mt *mtest.T) {
		index := NewGeoIndex(mt.DB, func() time.Time { return now })
		// $nearSphere ordering ties are not stable, and the 1% radius slack may
		// let a donor just past the edge through.
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "bloodsos.donor_locations", mtest.FirstBatch,
			donorDoc("b", 13.09, 80.2707, until),
			donorDoc("a", 13.09, 80.2707, until),
			donorDoc("edge", 13.0827+0.0905, 80.2707, until),
			donorDoc("near", 13.0830, 80.2707, until),
		))

		got, err := index.QueryNearby(context.Background(), models.NearbyQuery{
			Origin: models.GeoPoint{Lat: 13.0827, Lng: 80.2707}, RadiusKM: 10, BloodType: "O-", Now: now,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"near", "a", "b"}, models.CandidateIDs(got))
		assert.Equal(t, models.GeoPoint{Lat: 13.0830, Lng: 80.2707}, got[0].Coords)
	})

	mt.Run("invalid origin never reaches the store", func(mt *mtest.T) {
		index := NewGeoIndex(mt.DB, nil)
		_, err := index.QueryNearby(context.Background(), models.NearbyQuery{
			Origin: models.GeoPoint{Lat: -91, Lng: 0}, RadiusKM: 10, BloodType: "O-", Now: now,
		})
		assert.True(t, errors.Is(err, utils.ErrInvalidCoordinates))
	})
}

func TestGeoIndexGetDonorNotFound(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("not found", func(mt *mtest.T) {
		index := NewGeoIndex(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "bloodsos.donor_locations", mtest.FirstBatch))

		_, err := index.GetDonor(context.Background(), "ghost")
		assert.True(t, errors.Is(err, utils.ErrDonorNotFound))
	})
}

func TestGeoIndexRemoveExpired(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("reports deleted count", func(mt *mtest.T) {
		index := NewGeoIndex(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 4}))

		removed, err := index.RemoveExpired(context.Background(), time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(4), removed)
	})
}

func TestGeoIndexStoresPointUnderCoords(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("upsert location", func(mt *mtest.T) {
		index := NewGeoIndex(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		err := index.UpsertLocation(context.Background(), "D1", models.GeoPoint{Lat: 13.05, Lng: 80.25}, time.Now().Add(time.Hour))
		require.NoError(t, err)

		set := mt.GetStartedEvent().Command.Lookup("updates").Array().Index(0).Value().Document().Lookup("u", "$set").Document()
		coords, err := set.LookupErr("coords", "coordinates")
		require.NoError(t, err)
		values, err := coords.Array().Values()
		require.NoError(t, err)
		assert.Equal(t, 80.25, values[0].Double())
		assert.Equal(t, 13.05, values[1].Double())
		_, err = set.LookupErr("location")
		assert.Error(t, err)
	})
}
