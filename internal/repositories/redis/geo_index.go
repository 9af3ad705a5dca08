package redis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"bloodsos/internal/models"
	"bloodsos/internal/repositories/interfaces"
	"bloodsos/internal/utils"
	"bloodsos/pkg/cache"

	goredis "github.com/redis/go-redis/v9"
)

// Redis GEO cannot store latitudes beyond this bound.
const maxGeoLat = 85.05112878

// Each donor lives in three places written together in one MULTI:
//
//	donors:geo       GEO member for radius pruning
//	donors:polar     set of donors beyond maxGeoLat, scanned on every query
//	donors:eligible  sorted by eligible_until (unix ms) for expiry
//	donor:<id>       hash with the exact profile
//
// A donor is in exactly one of donors:geo and donors:polar.
type geoIndex struct {
	cache *cache.RedisCache
	now   func() time.Time
}

func NewGeoIndex(c *cache.RedisCache, clock func() time.Time) interfaces.GeoIndex {
	if clock == nil {
		clock = time.Now
	}
	return &geoIndex{cache: c, now: clock}
}

func donorKey(donorID string) string {
	return utils.CacheDonorPrefix + donorID
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (g *geoIndex) UpsertDonor(ctx context.Context, location *models.DonorLocation) error {
	if err := location.Coords.Validate(); err != nil {
		return err
	}

	fields := map[string]interface{}{
		"donor_id":       location.DonorID,
		"lat":            formatFloat(location.Coords.Lat),
		"lng":            formatFloat(location.Coords.Lng),
		"blood_type":     location.BloodType,
		"tags":           strings.Join(location.Tags, ","),
		"push_token":     location.PushToken,
		"push_platform":  location.PushPlatform,
		"phone":          location.Phone,
		"last_seen":      g.now().Format(time.RFC3339Nano),
		"eligible_until": location.EligibleUntil.Format(time.RFC3339Nano),
	}

	err := g.cache.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, donorKey(location.DonorID))
		pipe.HSet(ctx, donorKey(location.DonorID), fields)
		g.index(ctx, pipe, location.DonorID, location.Coords, location.EligibleUntil)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert donor: %w", utils.ErrIndexUnavailable.Wrap(err))
	}
	return nil
}

func (g *geoIndex) UpsertLocation(ctx context.Context, donorID string, coords models.GeoPoint, eligibleUntil time.Time) error {
	if err := coords.Validate(); err != nil {
		return err
	}

	fields := map[string]interface{}{
		"donor_id":       donorID,
		"lat":            formatFloat(coords.Lat),
		"lng":            formatFloat(coords.Lng),
		"last_seen":      g.now().Format(time.RFC3339Nano),
		"eligible_until": eligibleUntil.Format(time.RFC3339Nano),
	}

	err := g.cache.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, donorKey(donorID), fields)
		g.index(ctx, pipe, donorID, coords, eligibleUntil)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert donor location: %w", utils.ErrIndexUnavailable.Wrap(err))
	}
	return nil
}

func isPolar(coords models.GeoPoint) bool {
	return math.Abs(coords.Lat) > maxGeoLat
}

func (g *geoIndex) index(ctx context.Context, pipe goredis.Pipeliner, donorID string, coords models.GeoPoint, eligibleUntil time.Time) {
	if isPolar(coords) {
		pipe.ZRem(ctx, utils.CacheDonorGeoKey, donorID)
		pipe.SAdd(ctx, utils.CacheDonorPolarKey, donorID)
	} else {
		pipe.SRem(ctx, utils.CacheDonorPolarKey, donorID)
		pipe.GeoAdd(ctx, utils.CacheDonorGeoKey, &goredis.GeoLocation{
			Name:      donorID,
			Longitude: coords.Lng,
			Latitude:  coords.Lat,
		})
	}
	pipe.ZAdd(ctx, utils.CacheDonorEligibleKey, goredis.Z{
		Score:  float64(eligibleUntil.UnixMilli()),
		Member: donorID,
	})
}

func (g *geoIndex) QueryNearby(ctx context.Context, query models.NearbyQuery) ([]models.Candidate, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	// GEORADIUS rejects polar origins, so search from the nearest storable
	// point with the radius widened by the shift.
	origin := query.Origin
	radius := query.RadiusKM
	if isPolar(origin) {
		shifted := models.GeoPoint{Lat: math.Copysign(maxGeoLat, origin.Lat), Lng: origin.Lng}
		radius += origin.DistanceKM(shifted)
		origin = shifted
	}

	// GEO hashes are 52-bit approximations; the slack keeps edge donors in the
	// pool and RankCandidates applies the exact cut.
	members, err := g.cache.GeoRadius(ctx, utils.CacheDonorGeoKey, origin.Lng, origin.Lat, &goredis.GeoRadiusQuery{
		Radius: radius*1.01 + 0.01,
		Unit:   "km",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby donors: %w", utils.ErrIndexUnavailable.Wrap(err))
	}
	polar, err := g.cache.SMembers(ctx, utils.CacheDonorPolarKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query polar donors: %w", utils.ErrIndexUnavailable.Wrap(err))
	}
	if len(members)+len(polar) == 0 {
		return []models.Candidate{}, nil
	}

	keys := make([]string, 0, len(members)+len(polar))
	for _, m := range members {
		keys = append(keys, donorKey(m.Name))
	}
	for _, id := range polar {
		keys = append(keys, donorKey(id))
	}
	hashes, err := g.cache.HGetAllMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load donor profiles: %w", utils.ErrIndexUnavailable.Wrap(err))
	}

	pool := make([]models.DonorLocation, 0, len(hashes))
	for _, h := range hashes {
		if d, ok := parseDonor(h); ok {
			pool = append(pool, d)
		}
	}
	return models.RankCandidates(query, pool), nil
}

func (g *geoIndex) GetDonor(ctx context.Context, donorID string) (*models.DonorLocation, error) {
	h, err := g.cache.HGetAll(ctx, donorKey(donorID))
	if err != nil {
		return nil, fmt.Errorf("failed to get donor: %w", utils.ErrIndexUnavailable.Wrap(err))
	}
	d, ok := parseDonor(h)
	if !ok {
		return nil, utils.ErrDonorNotFound
	}
	return &d, nil
}

var removeExpiredScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZREM', KEYS[2], id)
	redis.call('SREM', KEYS[3], id)
	redis.call('DEL', ARGV[2] .. id)
end
return #ids
`)

// RemoveExpired runs as one script so a donor refreshed mid-sweep is never lost.
func (g *geoIndex) RemoveExpired(ctx context.Context, before time.Time) (int64, error) {
	removed, err := g.cache.RunScript(ctx, removeExpiredScript,
		[]string{utils.CacheDonorGeoKey, utils.CacheDonorEligibleKey, utils.CacheDonorPolarKey},
		strconv.FormatInt(before.UnixMilli(), 10), utils.CacheDonorPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to remove expired donors: %w", utils.ErrIndexUnavailable.Wrap(err))
	}
	return removed, nil
}

// parseDonor reports false for a missing or half-written hash.
func parseDonor(h map[string]string) (models.DonorLocation, bool) {
	if h["donor_id"] == "" {
		return models.DonorLocation{}, false
	}
	lat, errLat := strconv.ParseFloat(h["lat"], 64)
	lng, errLng := strconv.ParseFloat(h["lng"], 64)
	if errLat != nil || errLng != nil {
		return models.DonorLocation{}, false
	}

	d := models.DonorLocation{
		DonorID:      h["donor_id"],
		Coords:       models.GeoPoint{Lat: lat, Lng: lng},
		BloodType:    h["blood_type"],
		PushToken:    h["push_token"],
		PushPlatform: h["push_platform"],
		Phone:        h["phone"],
	}
	if tags := h["tags"]; tags != "" {
		d.Tags = strings.Split(tags, ",")
	}
	d.LastSeen, _ = time.Parse(time.RFC3339Nano, h["last_seen"])
	d.EligibleUntil, _ = time.Parse(time.RFC3339Nano, h["eligible_until"])
	return d, true
}
