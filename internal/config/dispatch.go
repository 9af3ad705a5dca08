package config

import (
	"fmt"
	"time"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

type DispatchConfig struct {
	SearchRadiusKM      float64       `yaml:"search_radius_km"`
	FallbackETAMinutes  int           `yaml:"fallback_eta_minutes"`
	ETATimeout          time.Duration `yaml:"eta_timeout"`
	NotifyTimeout       time.Duration `yaml:"notify_timeout"`
	NotifyConcurrency   int           `yaml:"notify_concurrency"`
	LocationTTL         time.Duration `yaml:"location_ttl"`
	LocationRetention   time.Duration `yaml:"location_retention"`
	RequestTTL          time.Duration `yaml:"request_ttl"`
	DonationGapDays     int           `yaml:"donation_gap_days"`
	DefaultHospitalName string        `yaml:"default_hospital_name"`
	GeoIndex            string        `yaml:"geo_index"`
	Store               string        `yaml:"store"`
}

func loadDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		SearchRadiusKM:      getEnvAsFloat64("DISPATCH_SEARCH_RADIUS_KM", 10),
		FallbackETAMinutes:  getEnvAsInt("DISPATCH_FALLBACK_ETA_MINUTES", 15),
		ETATimeout:          getEnvAsDuration("DISPATCH_ETA_TIMEOUT", 5*time.Second),
		NotifyTimeout:       getEnvAsDuration("DISPATCH_NOTIFY_TIMEOUT", 5*time.Second),
		NotifyConcurrency:   getEnvAsInt("DISPATCH_NOTIFY_CONCURRENCY", 16),
		LocationTTL:         getEnvAsDuration("DISPATCH_LOCATION_TTL", 30*time.Minute),
		LocationRetention:   getEnvAsDuration("DISPATCH_LOCATION_RETENTION", 24*time.Hour),
		RequestTTL:          getEnvAsDuration("DISPATCH_REQUEST_TTL", 6*time.Hour),
		DonationGapDays:     getEnvAsInt("DISPATCH_DONATION_GAP_DAYS", 90),
		DefaultHospitalName: getEnv("DISPATCH_DEFAULT_HOSPITAL_NAME", "City Hospital"),
		GeoIndex:            getEnv("DISPATCH_GEO_INDEX", BackendMemory),
		Store:               getEnv("DISPATCH_STORE", BackendMemory),
	}
}

func (d *DispatchConfig) Validate() error {
	if d.SearchRadiusKM <= 0 {
		return fmt.Errorf("DISPATCH_SEARCH_RADIUS_KM must be positive, got %v", d.SearchRadiusKM)
	}
	if d.NotifyConcurrency <= 0 {
		return fmt.Errorf("DISPATCH_NOTIFY_CONCURRENCY must be positive, got %d", d.NotifyConcurrency)
	}
	switch d.GeoIndex {
	case BackendMemory, BackendRedis, BackendMongo:
	default:
		return fmt.Errorf("unknown DISPATCH_GEO_INDEX %q", d.GeoIndex)
	}
	switch d.Store {
	case BackendMemory, BackendMongo:
	default:
		return fmt.Errorf("unknown DISPATCH_STORE %q", d.Store)
	}
	return nil
}
