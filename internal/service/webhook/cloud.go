package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/hashicorp/go-multierror"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider"
)

// CloudNormalizer turns Meta Cloud API webhook bodies into canonical inbound
// messages and delivery receipts. Meta delivers at-least-once, so every
// message carries a dedup key derived from the wamid.
type CloudNormalizer struct {
	channelID int64
	logger    *elog.Component
}

func NewCloudNormalizer(channelID int64) *CloudNormalizer {
	return &CloudNormalizer{
		channelID: channelID,
		logger:    elog.DefaultLogger.With(elog.Int64("channelID", channelID)),
	}
}

type cloudWebhookBody struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string           `json:"field"`
			Value cloudChangeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type cloudChangeValue struct {
	MessagingProduct string         `json:"messaging_product"`
	Messages         []cloudMessage `json:"messages"`
	Statuses         []cloudStatus  `json:"statuses"`
}

type cloudMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *cloudMedia `json:"image"`
	Audio    *cloudMedia `json:"audio"`
	Video    *cloudMedia `json:"video"`
	Document *cloudMedia `json:"document"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Contacts json.RawMessage `json:"contacts"`
}

type cloudMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

type cloudStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Normalize never fails on individual bad entries; it only errors when the
// whole body is not a webhook payload at all.
func (n *CloudNormalizer) Normalize(payload []byte) (provider.WebhookResult, error) {
	var body cloudWebhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return provider.WebhookResult{}, fmt.Errorf("%w: %w", errs.ErrMalformedPayload, err)
	}

	var res provider.WebhookResult
	var skipped *multierror.Error
	for _, entry := range body.Entry {
		for _, change := range entry.Changes {
			for i := range change.Value.Messages {
				msg, err := n.normalizeMessage(change.Value.Messages[i])
				if err != nil {
					res.Skipped++
					skipped = multierror.Append(skipped, err)
					continue
				}
				res.Messages = append(res.Messages, msg)
			}
			for _, st := range change.Value.Statuses {
				update, err := n.normalizeStatus(st)
				if err != nil {
					res.Skipped++
					skipped = multierror.Append(skipped, err)
					continue
				}
				res.Statuses = append(res.Statuses, update)
			}
		}
	}
	if skipped.ErrorOrNil() != nil {
		n.logger.Warn("skipped malformed webhook entries",
			elog.Int("skipped", res.Skipped),
			elog.FieldErr(skipped))
	}
	return res, nil
}

func (n *CloudNormalizer) normalizeMessage(m cloudMessage) (domain.InboundMessage, error) {
	if m.ID == "" || m.From == "" {
		return domain.InboundMessage{}, fmt.Errorf("%w: message without id or sender", errs.ErrMalformedPayload)
	}
	msg := domain.InboundMessage{
		ChannelID:         n.channelID,
		ProviderMessageID: m.ID,
		From:              m.From,
		ContentType:       cloudContentType(m.Type),
		ReceivedAt:        cloudTimestamp(m.Timestamp),
		DedupKey:          DedupKey(n.channelID, m.ID),
	}
	switch {
	case m.Text != nil:
		msg.Body = m.Text.Body
	case m.Image != nil:
		msg.MediaID = m.Image.ID
		msg.Body = m.Image.Caption
	case m.Audio != nil:
		msg.MediaID = m.Audio.ID
	case m.Video != nil:
		msg.MediaID = m.Video.ID
		msg.Body = m.Video.Caption
	case m.Document != nil:
		msg.MediaID = m.Document.ID
		msg.Body = m.Document.Caption
	case m.Location != nil:
		msg.Body = fmt.Sprintf("%f,%f", m.Location.Latitude, m.Location.Longitude)
	case len(m.Contacts) > 0:
		msg.Body = string(m.Contacts)
	}
	return msg, nil
}

func (n *CloudNormalizer) normalizeStatus(st cloudStatus) (domain.StatusUpdate, error) {
	if st.ID == "" || st.Status == "" {
		return domain.StatusUpdate{}, fmt.Errorf("%w: status without id or state", errs.ErrMalformedPayload)
	}
	return domain.StatusUpdate{
		ChannelID:         n.channelID,
		ProviderMessageID: st.ID,
		Status:            cloudDeliveryStatus(st.Status),
		Timestamp:         cloudTimestamp(st.Timestamp),
	}, nil
}

// cloudContentType maps Meta's taxonomy onto the canonical enum. Unknown types
// degrade to text instead of failing.
func cloudContentType(t string) domain.ContentType {
	switch t {
	case "text":
		return domain.ContentTypeText
	case "image", "sticker":
		return domain.ContentTypeImage
	case "audio", "voice":
		return domain.ContentTypeAudio
	case "video":
		return domain.ContentTypeVideo
	case "document":
		return domain.ContentTypeDocument
	case "location":
		return domain.ContentTypeLocation
	case "contacts":
		return domain.ContentTypeContact
	default:
		return domain.ContentTypeText
	}
}

func cloudDeliveryStatus(s string) domain.DeliveryStatus {
	switch s {
	case "sent":
		return domain.DeliveryStatusSent
	case "delivered":
		return domain.DeliveryStatusDelivered
	case "read":
		return domain.DeliveryStatusRead
	case "failed":
		return domain.DeliveryStatusFailed
	default:
		return domain.DeliveryStatusPending
	}
}

func cloudTimestamp(ts string) time.Time {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}
