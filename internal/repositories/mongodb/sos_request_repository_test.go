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
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestSOSRequestRepositorySave(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	newReq := func() *models.SOSRequest {
		req := models.NewSOSRequest(models.NewSOSRequestParams{
			HospitalID: "H1", BloodType: "O-", UnitsNeeded: 2,
			HospitalCoords: models.GeoPoint{Lat: 13.0827, Lng: 80.2707},
		}, time.Now())
		req.ID = primitive.NewObjectID()
		req.Version = 3
		return req
	}

	mt.Run("bumps version on match", func(mt *mtest.T) {
		repo := NewSOSRequestRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		req := newReq()
		require.NoError(t, repo.Save(context.Background(), req))
		assert.Equal(t, int64(4), req.Version)
	})

	mt.Run("stale version is a conflict", func(mt *mtest.T) {
		repo := NewSOSRequestRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, "bloodsos.sos_requests", mtest.FirstBatch, bson.D{{Key: "n", Value: 1}}),
		)

		req := newReq()
		err := repo.Save(context.Background(), req)
		assert.True(t, errors.Is(err, utils.ErrConcurrentUpdate))
		assert.Equal(t, int64(3), req.Version)
	})

	mt.Run("missing document is not found", func(mt *mtest.T) {
		repo := NewSOSRequestRepository(mt.DB)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
			mtest.CreateCursorResponse(0, "bloodsos.sos_requests", mtest.FirstBatch),
		)

		err := repo.Save(context.Background(), newReq())
		assert.True(t, errors.Is(err, utils.ErrRequestNotFound))
	})
}

func TestSOSRequestRepositoryGetByID(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("not found", func(mt *mtest.T) {
		repo := NewSOSRequestRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "bloodsos.sos_requests", mtest.FirstBatch))

		_, err := repo.GetByID(context.Background(), primitive.NewObjectID())
		assert.True(t, errors.Is(err, utils.ErrRequestNotFound))
	})

	mt.Run("store failure is dependency unavailable", func(mt *mtest.T) {
		repo := NewSOSRequestRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 11600, Message: "interrupted"}))

		_, err := repo.GetByID(context.Background(), primitive.NewObjectID())
		assert.True(t, errors.Is(err, utils.ErrStoreUnavailable))
	})

	mt.Run("decodes coordinates as lat lng", func(mt *mtest.T) {
		repo := NewSOSRequestRepository(mt.DB)
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "bloodsos.sos_requests", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id},
			{Key: "hospital_id", Value: "H1"},
			{Key: "hospital_coords", Value: bson.D{{Key: "lat", Value: 13.0827}, {Key: "lng", Value: 80.2707}}},
			{Key: "blood_type", Value: "O-"},
			{Key: "units_needed", Value: 2},
			{Key: "status", Value: "ACTIVE"},
			{Key: "version", Value: int64(1)},
		}))

		got, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.GeoPoint{Lat: 13.0827, Lng: 80.2707}, got.HospitalCoords)
		assert.Equal(t, 2, got.UnitsNeeded)
		assert.Equal(t, models.SOSStatusActive, got.Status)
	})
}
