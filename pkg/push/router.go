package push

import (
	"context"
	"errors"
)

const PlatformIOS = "ios"

var ErrNoProvider = errors.New("no push provider configured")

// Router picks a provider per device platform. iOS tokens go to APNS when it is
// configured; everything else, iOS included otherwise, goes through FCM.
type Router struct {
	fcm  PushProvider
	apns PushProvider
}

// NewRouter accepts nil for either provider.
func NewRouter(fcm, apns PushProvider) *Router {
	return &Router{fcm: fcm, apns: apns}
}

func (r *Router) Enabled() bool {
	return r != nil && (r.fcm != nil || r.apns != nil)
}

func (r *Router) providerFor(platform string) PushProvider {
	if platform == PlatformIOS && r.apns != nil {
		return r.apns
	}
	return r.fcm
}

func (r *Router) Send(ctx context.Context, platform string, request *NotificationRequest) (*NotificationResponse, error) {
	provider := r.providerFor(platform)
	if provider == nil {
		return nil, ErrNoProvider
	}
	return provider.SendNotification(ctx, request)
}
