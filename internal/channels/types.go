package channels

import (
	"context"

	"notifyd/internal/notify"
)

// Providers are supplied by the host application, one per channel family.
// A provider call is expected to enforce its own timeout; the engine never
// cancels an in-flight delivery.

// EmailProvider sends one email and returns the provider's message id.
type EmailProvider interface {
	SendEmail(ctx context.Context, to, subject, body string, opts map[string]string) (string, error)
}

// SMSProvider sends one text message and returns the provider's message id.
type SMSProvider interface {
	SendSMS(ctx context.Context, to, message string, opts map[string]string) (string, error)
}

// ChatProvider posts to a Slack/Teams-style incoming webhook. Room is the
// optional sub-channel when the integration supports one.
type ChatProvider interface {
	SendChatMessage(ctx context.Context, webhookURL, room, message string, opts map[string]string) (string, error)
}

// WebhookProvider POSTs a JSON envelope to a caller-configured URL.
type WebhookProvider interface {
	SendWebhook(ctx context.Context, url string, payload []byte) error
}

// WebsocketSink hands a notification to the in-process live transport.
// It has no external call and cannot fail at this layer.
type WebsocketSink interface {
	Deliver(userID string, n notify.Notification)
}

// Registry holds the configured providers. Nil fields mean "no provider
// registered"; deliveries on those channels are recorded as failed attempts.
type Registry struct {
	Email     EmailProvider
	SMS       SMSProvider
	Chat      ChatProvider
	Webhook   WebhookProvider
	Websocket WebsocketSink
}

// Has reports whether a provider is registered for the channel.
func (r *Registry) Has(c notify.Channel) bool {
	switch c {
	case notify.ChannelEmail:
		return r.Email != nil
	case notify.ChannelSMS:
		return r.SMS != nil
	case notify.ChannelSlack, notify.ChannelTeams:
		return r.Chat != nil
	case notify.ChannelWebhook:
		return r.Webhook != nil
	case notify.ChannelWebsocket:
		return r.Websocket != nil
	}
	return false
}
