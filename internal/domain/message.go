package domain

import "time"

// ContentType is the canonical content taxonomy shared by all channel types.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeVideo    ContentType = "video"
	ContentTypeDocument ContentType = "document"
	ContentTypeLocation ContentType = "location"
	ContentTypeContact  ContentType = "contact"
	ContentTypeTemplate ContentType = "template"
)

// DeliveryStatus tracks a message as reported by the vendor.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRead      DeliveryStatus = "read"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// OutboundMessage is one logical send request. Retries reuse the same message,
// never a copy, so DedupKey stays stable across attempts.
type OutboundMessage struct {
	ID          int64       `json:"id"`
	TenantID    int64       `json:"tenantId"`
	ChannelID   int64       `json:"channelId"`
	To          string      `json:"to"`
	Body        string      `json:"body"`
	ContentType ContentType `json:"contentType"`
	MediaURL    string      `json:"mediaUrl,omitempty"`
	// MediaID is the provider-side handle set by the media upload pipeline.
	MediaID  string `json:"mediaId,omitempty"`
	Caption  string `json:"caption,omitempty"`
	DedupKey string `json:"dedupKey"`
}

// MessageResult is what a provider reports back for one send attempt.
type MessageResult struct {
	Success           bool
	ProviderMessageID string
	Status            DeliveryStatus
}

// InboundMessage is the canonical form of anything received from a channel.
// Immutable once built by the normalizer.
type InboundMessage struct {
	ChannelID         int64       `json:"channelId"`
	ProviderMessageID string      `json:"providerMessageId"`
	From              string      `json:"from"`
	Body              string      `json:"body"`
	ContentType       ContentType `json:"contentType"`
	MediaURL          string      `json:"mediaUrl,omitempty"`
	MediaID           string      `json:"mediaId,omitempty"`
	ReceivedAt        time.Time   `json:"receivedAt"`
	// DedupKey is derived from the provider message id so webhook re-delivery
	// collapses to one canonical message.
	DedupKey string `json:"dedupKey"`
}

// StatusUpdate is a delivery receipt reported by a channel for an earlier send.
type StatusUpdate struct {
	ChannelID         int64          `json:"channelId"`
	ProviderMessageID string         `json:"providerMessageId"`
	Status            DeliveryStatus `json:"status"`
	Timestamp         time.Time      `json:"timestamp"`
}
