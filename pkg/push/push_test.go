package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	name  string
	calls []string
}

func (p *recordingProvider) SendNotification(ctx context.Context, request *NotificationRequest) (*NotificationResponse, error) {
	p.calls = append(p.calls, request.Token)
	return &NotificationResponse{Success: true, MessageID: p.name, Token: request.Token}, nil
}

func TestRouterPicksProviderByPlatform(t *testing.T) {
	fcm := &recordingProvider{name: "fcm"}
	apns := &recordingProvider{name: "apns"}
	router := NewRouter(fcm, apns)

	resp, err := router.Send(context.Background(), PlatformIOS, &NotificationRequest{Token: "ios-token"})
	require.NoError(t, err)
	assert.Equal(t, "apns", resp.MessageID)

	resp, err = router.Send(context.Background(), "android", &NotificationRequest{Token: "android-token"})
	require.NoError(t, err)
	assert.Equal(t, "fcm", resp.MessageID)

	assert.Equal(t, []string{"ios-token"}, apns.calls)
	assert.Equal(t, []string{"android-token"}, fcm.calls)
}

func TestRouterFallsBackToFCMForIOS(t *testing.T) {
	fcm := &recordingProvider{name: "fcm"}
	router := NewRouter(fcm, nil)

	resp, err := router.Send(context.Background(), PlatformIOS, &NotificationRequest{Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, "fcm", resp.MessageID)
}

func TestRouterWithoutProviders(t *testing.T) {
	router := NewRouter(nil, nil)
	assert.False(t, router.Enabled())

	_, err := router.Send(context.Background(), "android", &NotificationRequest{Token: "t"})
	assert.True(t, errors.Is(err, ErrNoProvider))
}

func TestBuildFCMMessage(t *testing.T) {
	msg := buildFCMMessage(&NotificationRequest{
		Token:    "tok",
		Title:    "SOS BLOOD EMERGENCY",
		Body:     "URGENT: O- blood needed at City Hospital. Respond NOW!",
		Data:     map[string]string{"request_id": "abc"},
		Priority: "high",
		TTL:      300,
		Android:  &AndroidConfig{ChannelID: "sos"},
	})

	assert.Equal(t, "tok", msg.Token)
	assert.Equal(t, "SOS BLOOD EMERGENCY", msg.Notification.Title)
	assert.Equal(t, "abc", msg.Data["request_id"])
	require.NotNil(t, msg.Android)
	assert.Equal(t, "high", msg.Android.Priority)
	assert.Equal(t, 300*time.Second, *msg.Android.TTL)
	assert.Equal(t, "sos", msg.Android.Notification.ChannelID)
}

func TestBuildAPNSNotification(t *testing.T) {
	provider := &APNSProvider{topic: "org.bloodsos.app"}
	now := time.Unix(1700000000, 0)

	n := provider.buildNotification(&NotificationRequest{
		Token:    "device",
		Title:    "SOS BLOOD EMERGENCY",
		Body:     "body",
		Data:     map[string]string{"request_id": "abc"},
		Priority: "high",
		TTL:      60,
		IOS:      &IOSConfig{Sound: "alarm.caf", InterruptLevel: "critical"},
	}, now)

	assert.Equal(t, "device", n.DeviceToken)
	assert.Equal(t, "org.bloodsos.app", n.Topic)
	assert.Equal(t, apns2.PriorityHigh, n.Priority)
	assert.Equal(t, now.Add(time.Minute), n.Expiration)

	payload := n.Payload.(map[string]interface{})
	aps := payload["aps"].(map[string]interface{})
	assert.Equal(t, "alarm.caf", aps["sound"])
	assert.Equal(t, "critical", aps["interruption-level"])
	assert.Equal(t, "abc", payload["request_id"])
}
