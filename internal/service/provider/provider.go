package provider

import (
	"context"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
)

// Provider hides the auth model and wire payloads of one channel type behind a
// uniform capability set. Instances are owned by the connection supervisor;
// workers look them up per job, they never construct their own.
type Provider interface {
	Type() domain.ChannelType

	// Connect establishes or resumes the channel session. Token-based
	// providers are connected once credentials validate; pairing-based
	// providers stay connecting until the external pairing event lands.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Status is read-only and safe without the channel lock.
	Status(ctx context.Context) domain.ProviderStatus

	// SendMessage must fail with errs.ErrProviderNotConnected (or
	// errs.ErrChannelNotPaired) when the session is not usable, never queue
	// silently.
	SendMessage(ctx context.Context, msg domain.OutboundMessage) (domain.MessageResult, error)

	// UploadMedia pushes an attachment to the vendor and returns the
	// provider-side media handle for a later send.
	UploadMedia(ctx context.Context, m Media) (string, error)

	// HandleWebhook turns one provider-native payload into canonical values,
	// skipping unparsable entries instead of failing the batch.
	HandleWebhook(ctx context.Context, payload []byte) (WebhookResult, error)
}

// QRCodePairer is implemented only by pairing-based providers.
type QRCodePairer interface {
	GenerateQRCode(ctx context.Context) (string, error)
}

// NumberChecker is implemented by providers that can verify an address exists
// on the network before sending.
type NumberChecker interface {
	IsNumberConnected(ctx context.Context, address string) (bool, error)
}

// Media is an attachment ready for upload.
type Media struct {
	MimeType string
	Filename string
	Data     []byte
}

// WebhookResult is everything extracted from one webhook payload.
type WebhookResult struct {
	Messages []domain.InboundMessage
	Statuses []domain.StatusUpdate
	// Skipped counts entries dropped as malformed.
	Skipped int
}
