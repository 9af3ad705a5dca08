package push

import "context"

type PushProvider interface {
	SendNotification(ctx context.Context, request *NotificationRequest) (*NotificationResponse, error)
}

type NotificationRequest struct {
	Token       string            `json:"token"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Sound       string            `json:"sound,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	TTL         int               `json:"ttl,omitempty"`
	CollapseKey string            `json:"collapse_key,omitempty"`
	IOS         *IOSConfig        `json:"ios,omitempty"`
	Android     *AndroidConfig    `json:"android,omitempty"`
}

type NotificationResponse struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Token     string `json:"token,omitempty"`
}

type IOSConfig struct {
	Sound          string `json:"sound,omitempty"`
	Category       string `json:"category,omitempty"`
	InterruptLevel string `json:"interruption_level,omitempty"`
}

type AndroidConfig struct {
	Priority  string `json:"priority,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Color     string `json:"color,omitempty"`
	Tag       string `json:"tag,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}
