package main

import (
	"context"
	"fmt"
	"time"

	"bloodsos/internal/config"
	"bloodsos/internal/repositories/interfaces"
	"bloodsos/internal/repositories/memory"
	"bloodsos/internal/repositories/mongodb"
	redisrepo "bloodsos/internal/repositories/redis"
	"bloodsos/internal/services"
	"bloodsos/internal/utils"
	"bloodsos/pkg/cache"
	"bloodsos/pkg/database"
	"bloodsos/pkg/logger"
	"bloodsos/pkg/maps"
	"bloodsos/pkg/metrics"
	"bloodsos/pkg/push"
	"bloodsos/pkg/sms"

	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// backends holds the connections opened for the configured stores. Either
// may be nil when nothing needs it.
type backends struct {
	mongo *database.MongoDB
	redis *cache.RedisCache
}

func (b *backends) Close(log *logger.Logger) {
	if b.mongo != nil {
		if err := b.mongo.Close(); err != nil {
			log.WithError(err).Warn("Failed to close MongoDB")
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			log.WithError(err).Warn("Failed to close Redis")
		}
	}
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Dispatch.GeoIndex == config.BackendRedis ||
		cfg.WebSocket.Relay == "redis" ||
		cfg.Security.RateLimitStore == "redis"
}

func needsMongo(cfg *config.Config) bool {
	return cfg.Dispatch.GeoIndex == config.BackendMongo || cfg.Dispatch.Store == config.BackendMongo
}

func openBackends(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backends, error) {
	b := &backends{}

	if needsMongo(cfg) {
		db, err := database.NewMongoDB(&database.DatabaseConfig{
			URI:            cfg.Database.URI,
			Database:       cfg.Database.Database,
			MaxPoolSize:    cfg.Database.MaxPoolSize,
			MinPoolSize:    cfg.Database.MinPoolSize,
			ConnectTimeout: cfg.Database.ConnectTimeout,
			SocketTimeout:  cfg.Database.SocketTimeout,
		})
		if err != nil {
			return nil, err
		}
		b.mongo = db

		if err := db.EnsureIndexes(ctx, log.Infof); err != nil {
			b.Close(log)
			return nil, fmt.Errorf("failed to ensure indexes: %w", err)
		}
		log.WithField("database", cfg.Database.Database).Info("Connected to MongoDB")
	}

	if needsRedis(cfg) {
		rc, err := cache.NewRedisCache(&cache.RedisConfig{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			IdleTimeout:  cfg.Redis.IdleTimeout,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			SSL:          cfg.Redis.SSL,
		})
		if err != nil {
			b.Close(log)
			return nil, err
		}
		b.redis = rc
		log.WithField("host", cfg.Redis.Host).Info("Connected to Redis")
	}

	return b, nil
}

func newRequestRepository(cfg *config.DispatchConfig, b *backends) interfaces.SOSRequestRepository {
	if cfg.Store == config.BackendMongo {
		return mongodb.NewSOSRequestRepository(b.mongo.Database)
	}
	return memory.NewSOSRequestRepository()
}

func newGeoIndex(cfg *config.DispatchConfig, b *backends) interfaces.GeoIndex {
	switch cfg.GeoIndex {
	case config.BackendRedis:
		return redisrepo.NewGeoIndex(b.redis, time.Now)
	case config.BackendMongo:
		return mongodb.NewGeoIndex(b.mongo.Database, time.Now)
	default:
		return memory.NewGeoIndex(time.Now)
	}
}

// newPushRouter builds whichever push providers have credentials. A provider
// that fails to initialize is logged and skipped so alerts still go out by SMS.
func newPushRouter(ctx context.Context, cfg *config.PushConfig, log *logger.Logger) *push.Router {
	var fcm, apns push.PushProvider

	if cfg.FCM.Credentials != "" {
		provider, err := push.NewFCMProvider(ctx, cfg.FCM.Credentials, cfg.FCM.ProjectID)
		if err != nil {
			log.WithError(err).Warn("FCM disabled")
		} else {
			fcm = provider
		}
	}

	if cfg.APNS.KeyFile != "" {
		provider, err := push.NewAPNSProvider(cfg.APNS.KeyFile, cfg.APNS.KeyID, cfg.APNS.TeamID, cfg.APNS.BundleID, cfg.APNS.Production)
		if err != nil {
			log.WithError(err).Warn("APNS disabled")
		} else {
			apns = provider
		}
	}

	return push.NewRouter(fcm, apns)
}

func newSMSProvider(ctx context.Context, cfg *config.SMSConfig, log *logger.Logger) sms.SMSProvider {
	switch cfg.Provider {
	case "twilio":
		if cfg.Twilio.AccountSID == "" {
			log.Warn("Twilio credentials missing, SMS disabled")
			return nil
		}
		return sms.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber)
	case "aws", "sns":
		provider, err := sms.NewAWSSNSProvider(ctx, cfg.AWS.Region, cfg.SenderID)
		if err != nil {
			log.WithError(err).Warn("SNS disabled")
			return nil
		}
		return provider
	default:
		log.WithField("provider", cfg.Provider).Warn("Unknown SMS provider, SMS disabled")
		return nil
	}
}

// newMapsProvider returns nil when no routing credentials exist; ETAs then use
// the fallback.
func newMapsProvider(cfg *config.MapsConfig, log *logger.Logger) maps.MapsProvider {
	switch cfg.Provider {
	case "google":
		if cfg.GoogleMaps.APIKey == "" {
			return nil
		}
		provider, err := maps.NewGoogleMapsProvider(cfg.GoogleMaps.APIKey)
		if err != nil {
			log.WithError(err).Warn("Google Maps disabled")
			return nil
		}
		return provider
	case "mapbox":
		if cfg.Mapbox.AccessToken == "" {
			return nil
		}
		return maps.NewMapboxProvider(cfg.Mapbox.AccessToken)
	default:
		return nil
	}
}

func newRateLimitStore(cfg *config.SecurityConfig, b *backends) (limiter.Store, error) {
	if cfg.RateLimitStore != "redis" {
		return nil, nil
	}
	store, err := sredis.NewStoreWithOptions(b.redis.Client(), limiter.StoreOptions{
		Prefix: utils.CacheRateLimitPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit store: %w", err)
	}
	return store, nil
}

// meteredTracking counts every dispatch event on its way to the hub.
type meteredTracking struct {
	next    services.TrackingPublisher
	metrics *metrics.Metrics
}

func (m meteredTracking) PublishAcceptance(hospitalID, requestID, donorID string, eta int, lat, lng float64) {
	m.metrics.IncDispatchEvent(utils.EventDonorAccepted)
	m.next.PublishAcceptance(hospitalID, requestID, donorID, eta, lat, lng)
}

func (m meteredTracking) PublishTracking(hospitalID, donorID string, lat, lng float64) {
	m.metrics.IncDispatchEvent(utils.EventLiveTracking)
	m.next.PublishTracking(hospitalID, donorID, lat, lng)
}

func (m meteredTracking) PublishStatus(hospitalID, requestID, donorID, eventType, status string) {
	m.metrics.IncDispatchEvent(eventType)
	m.next.PublishStatus(hospitalID, requestID, donorID, eventType, status)
}
