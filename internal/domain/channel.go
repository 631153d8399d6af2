package domain

import "time"

// ChannelType identifies the wire protocol / auth model behind a channel.
type ChannelType string

const (
	ChannelTypeWhatsAppCloud   ChannelType = "whatsapp_cloud"   // Meta Cloud API, token auth
	ChannelTypeWhatsAppBaileys ChannelType = "whatsapp_baileys" // local multi-device gateway, QR pairing
)

// ChannelStatus is the durable projection of the provider connection state.
type ChannelStatus string

const (
	ChannelStatusDisconnected ChannelStatus = "DISCONNECTED"
	ChannelStatusConnecting   ChannelStatus = "CONNECTING"
	ChannelStatusConnected    ChannelStatus = "CONNECTED"
	ChannelStatusError        ChannelStatus = "ERROR"
	ChannelStatusDisabled     ChannelStatus = "DISABLED"
)

// ChannelConfig holds the per-channel credential blob. The pipeline treats it as
// opaque; only the provider for the channel's type reads the fields it needs.
type ChannelConfig struct {
	// Cloud API
	AccessToken   string `json:"accessToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	// Local multi-device gateway
	SessionID  string `json:"sessionId,omitempty"`
	GatewayURL string `json:"gatewayUrl,omitempty"`
	// Webhook authenticity
	WebhookSecret string `json:"webhookSecret,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
}

// Channel is one tenant-scoped messaging endpoint.
type Channel struct {
	ID             int64
	TenantID       int64
	Name           string
	Type           ChannelType
	Status         ChannelStatus
	StatusReason   string
	QRCode         string
	Config         ChannelConfig
	Enabled        bool
	LastActivityAt time.Time
}

// ConnState is the transient provider-side connection state.
type ConnState string

const (
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateConnecting   ConnState = "connecting"
	ConnStateConnected    ConnState = "connected"
	ConnStateError        ConnState = "error"
)

// ProviderStatus is a point-in-time view of a provider connection. It is never
// persisted as source of truth; Channel.Status is the durable projection.
type ProviderStatus struct {
	State          ConnState
	LastActivityAt time.Time
	QRCode         string
	Detail         string
}

func (s ProviderStatus) IsConnected() bool {
	return s.State == ConnStateConnected
}

// ChannelStatusOf maps the transient connection state onto the durable enum.
func ChannelStatusOf(state ConnState) ChannelStatus {
	switch state {
	case ConnStateConnecting:
		return ChannelStatusConnecting
	case ConnStateConnected:
		return ChannelStatusConnected
	case ConnStateError:
		return ChannelStatusError
	default:
		return ChannelStatusDisconnected
	}
}
