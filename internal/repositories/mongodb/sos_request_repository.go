package mongodb

import (
	"context"
	"fmt"
	"time"

	"bloodsos/internal/models"
	"bloodsos/internal/repositories/interfaces"
	"bloodsos/internal/utils"
	"bloodsos/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type sosRequestRepository struct {
	collection *mongo.Collection
}

func NewSOSRequestRepository(db *mongo.Database) interfaces.SOSRequestRepository {
	return &sosRequestRepository{
		collection: db.Collection(database.CollectionSOSRequests),
	}
}

func (r *sosRequestRepository) Create(ctx context.Context, request *models.SOSRequest) error {
	if request.ID.IsZero() {
		request.ID = primitive.NewObjectID()
	}
	request.Version = 1

	if _, err := r.collection.InsertOne(ctx, request); err != nil {
		return fmt.Errorf("failed to create sos request: %w", utils.ErrStoreUnavailable.Wrap(err))
	}
	return nil
}

func (r *sosRequestRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.SOSRequest, error) {
	var request models.SOSRequest
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&request)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get sos request: %w", utils.ErrStoreUnavailable.Wrap(err))
	}
	return &request, nil
}

// Save replaces the document only while the stored version equals the one the
// caller loaded. Zero matches means another writer got there first.
func (r *sosRequestRepository) Save(ctx context.Context, request *models.SOSRequest) error {
	expected := request.Version
	next := request.Clone()
	next.Version = expected + 1

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": request.ID, "version": expected}, next)
	if err != nil {
		return fmt.Errorf("failed to save sos request: %w", utils.ErrStoreUnavailable.Wrap(err))
	}
	if result.MatchedCount == 0 {
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": request.ID})
		if err != nil {
			return fmt.Errorf("failed to check sos request: %w", utils.ErrStoreUnavailable.Wrap(err))
		}
		if count == 0 {
			return utils.ErrRequestNotFound
		}
		return utils.ErrConcurrentUpdate
	}

	request.Version = next.Version
	return nil
}

func (r *sosRequestRepository) ListActiveByHospital(ctx context.Context, hospitalID string) ([]*models.SOSRequest, error) {
	return r.findActive(ctx, bson.M{"hospital_id": hospitalID})
}

func (r *sosRequestRepository) ListActiveCreatedBefore(ctx context.Context, before time.Time) ([]*models.SOSRequest, error) {
	return r.findActive(ctx, bson.M{"created_at": bson.M{"$lt": before}})
}

func (r *sosRequestRepository) findActive(ctx context.Context, filter bson.M) ([]*models.SOSRequest, error) {
	filter["status"] = models.SOSStatusActive
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sos requests: %w", utils.ErrStoreUnavailable.Wrap(err))
	}
	defer cursor.Close(ctx)

	requests := make([]*models.SOSRequest, 0)
	if err := cursor.All(ctx, &requests); err != nil {
		return nil, fmt.Errorf("failed to decode sos requests: %w", utils.ErrStoreUnavailable.Wrap(err))
	}
	return requests, nil
}
