package utils

import "time"

// Application Constants
const (
	AppName    = "BloodSOS"
	AppVersion = "1.0.0"

	// Dispatch defaults
	DefaultSearchRadiusKM     = 10.0
	MaxSearchRadiusKM         = 100.0
	DefaultFallbackETAMinutes = 15
	DefaultHospitalName       = "City Hospital"
	DonationGapDays           = 90
	DefaultLocationTTL        = 30 * time.Minute
	DefaultRequestTTL         = 6 * time.Hour
	DefaultRoomGracePeriod    = 2 * time.Minute

	// Notification
	NotificationTimeout     = 5 * time.Second
	NotificationConcurrency = 16
	SOSPushTitle            = "SOS BLOOD EMERGENCY"
	SOSMessageTemplate      = "URGENT: %s blood needed at %s. Respond NOW!"

	// Authentication
	JWTAccessTokenTTL = 24 * time.Hour
)

// HTTP Status Messages
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusFailed  = "failed"
)

// Error Messages
const (
	ErrInvalidToken     = "invalid token"
	ErrInvalidInput     = "invalid input"
	ErrInternalServer   = "internal server error"
	ErrUnauthorized     = "unauthorized"
	ErrForbidden        = "forbidden"
	ErrNotFound         = "not found"
	ErrValidationFailed = "validation failed"
)

// User types carried in JWT claims
const (
	UserTypeHospital = "hospital"
	UserTypeDonor    = "donor"
	UserTypeAdmin    = "admin"
)

// Cache Keys
const (
	CacheDonorGeoKey      = "donors:geo"
	CacheDonorEligibleKey = "donors:eligible"
	CacheDonorPolarKey    = "donors:polar"
	CacheDonorPrefix      = "donor:"
	CacheRateLimitPrefix  = "rate_limit:"
)

// Event Types
const (
	EventAlertCreated      = "alert_created"
	EventDonorAccepted     = "donor_accepted"
	EventLiveTracking      = "live_tracking"
	EventDonorArrived      = "donor_arrived"
	EventResponseCancelled = "response_cancelled"
	EventRequestFulfilled  = "request_fulfilled"
	EventRequestClosed     = "request_closed"
)

// Notification Types
const (
	NotificationPush = "push"
	NotificationSMS  = "sms"
)

// Blood types accepted for matching
var BloodTypes = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// Geographic Constants
const (
	EarthRadiusKM = 6371.0
)
