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
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// donorLocationDocument is the stored shape. Only this collection keeps
// coordinates as GeoJSON [lng, lat], for the 2dsphere index.
type donorLocationDocument struct {
	DonorID       string              `bson:"donor_id"`
	Coords        models.GeoJSONPoint `bson:"coords"`
	BloodType     string              `bson:"blood_type"`
	Tags          []string            `bson:"tags,omitempty"`
	PushToken     string              `bson:"push_token,omitempty"`
	PushPlatform  string              `bson:"push_platform,omitempty"`
	Phone         string              `bson:"phone,omitempty"`
	LastSeen      time.Time           `bson:"last_seen"`
	EligibleUntil time.Time           `bson:"eligible_until"`
}

func (d donorLocationDocument) toModel() models.DonorLocation {
	return models.DonorLocation{
		DonorID:       d.DonorID,
		Coords:        d.Coords.GeoPoint(),
		BloodType:     d.BloodType,
		Tags:          d.Tags,
		PushToken:     d.PushToken,
		PushPlatform:  d.PushPlatform,
		Phone:         d.Phone,
		LastSeen:      d.LastSeen,
		EligibleUntil: d.EligibleUntil,
	}
}

type geoIndex struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewGeoIndex(db *mongo.Database, clock func() time.Time) interfaces.GeoIndex {
	if clock == nil {
		clock = time.Now
	}
	return &geoIndex{
		collection: db.Collection(database.CollectionDonorLocations),
		now:        clock,
	}
}

func (g *geoIndex) UpsertDonor(ctx context.Context, location *models.DonorLocation) error {
	if err := location.Coords.Validate(); err != nil {
		return err
	}

	doc := donorLocationDocument{
		DonorID:       location.DonorID,
		Coords:        models.NewGeoJSONPoint(location.Coords),
		BloodType:     location.BloodType,
		Tags:          location.Tags,
		PushToken:     location.PushToken,
		PushPlatform:  location.PushPlatform,
		Phone:         location.Phone,
		LastSeen:      g.now(),
		EligibleUntil: location.EligibleUntil,
	}

	_, err := g.collection.ReplaceOne(ctx,
		bson.M{"donor_id": location.DonorID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert donor: %w", utils.ErrIndexUnavailable.Wrap(err))
	}
	return nil
}

func (g *geoIndex) UpsertLocation(ctx context.Context, donorID string, coords models.GeoPoint, eligibleUntil time.Time) error {
	if err := coords.Validate(); err != nil {
		return err
	}

	update := bson.M{
		"$set": bson.M{
			"coords":         models.NewGeoJSONPoint(coords),
			"last_seen":      g.now(),
			"eligible_until": eligibleUntil,
		},
		"$setOnInsert": bson.M{"donor_id": donorID},
	}

	_, err := g.collection.UpdateOne(ctx, bson.M{"donor_id": donorID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert donor location: %w", utils.ErrIndexUnavailable.Wrap(err))
	}
	return nil
}

// QueryNearby lets $nearSphere prune by distance and the indexed filters, then
// re-ranks with the exact haversine so ordering matches the other backends.
func (g *geoIndex) QueryNearby(ctx context.Context, query models.NearbyQuery) ([]models.Candidate, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	filter := bson.M{
		"coords": bson.M{
			"$nearSphere": bson.M{
				"$geometry":    models.NewGeoJSONPoint(query.Origin),
				"$maxDistance": query.RadiusKM * 1000 * 1.01,
			},
		},
		"blood_type":     query.BloodType,
		"eligible_until": bson.M{"$gt": query.Now},
	}
	if len(query.RequiredTags) > 0 {
		filter["tags"] = bson.M{"$all": query.RequiredTags}
	}

	cursor, err := g.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby donors: %w", utils.ErrIndexUnavailable.Wrap(err))
	}
	defer cursor.Close(ctx)

	var docs []donorLocationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode nearby donors: %w", utils.ErrIndexUnavailable.Wrap(err))
	}

	pool := make([]models.DonorLocation, len(docs))
	for i, doc := range docs {
		pool[i] = doc.toModel()
	}
	return models.RankCandidates(query, pool), nil
}

func (g *geoIndex) GetDonor(ctx context.Context, donorID string) (*models.DonorLocation, error) {
	var doc donorLocationDocument
	err := g.collection.FindOne(ctx, bson.M{"donor_id": donorID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.ErrDonorNotFound
		}
		return nil, fmt.Errorf("failed to get donor: %w", utils.ErrIndexUnavailable.Wrap(err))
	}

	location := doc.toModel()
	return &location, nil
}

func (g *geoIndex) RemoveExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := g.collection.DeleteMany(ctx, bson.M{"eligible_until": bson.M{"$lte": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to remove expired donors: %w", utils.ErrIndexUnavailable.Wrap(err))
	}
	return result.DeletedCount, nil
}
