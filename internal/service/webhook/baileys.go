package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/hashicorp/go-multierror"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider"
)

// BaileysNormalizer turns local multi-device session events into canonical
// inbound messages. The gateway posts one event envelope per callback.
type BaileysNormalizer struct {
	channelID int64
	logger    *elog.Component
}

func NewBaileysNormalizer(channelID int64) *BaileysNormalizer {
	return &BaileysNormalizer{
		channelID: channelID,
		logger:    elog.DefaultLogger.With(elog.Int64("channelID", channelID)),
	}
}

type baileysEvent struct {
	Event   string `json:"event"`
	Session string `json:"session"`
	Payload struct {
		Messages []baileysMessage `json:"messages"`
		Updates  []baileysAck     `json:"updates"`
	} `json:"payload"`
}

type baileysMessage struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
	} `json:"key"`
	MessageTimestamp int64 `json:"messageTimestamp"`
	Message          struct {
		Conversation    string        `json:"conversation"`
		ImageMessage    *baileysMedia `json:"imageMessage"`
		AudioMessage    *baileysMedia `json:"audioMessage"`
		VideoMessage    *baileysMedia `json:"videoMessage"`
		DocumentMessage *baileysMedia `json:"documentMessage"`
		LocationMessage *struct {
			DegreesLatitude  float64 `json:"degreesLatitude"`
			DegreesLongitude float64 `json:"degreesLongitude"`
		} `json:"locationMessage"`
		ContactMessage *struct {
			DisplayName string `json:"displayName"`
			Vcard       string `json:"vcard"`
		} `json:"contactMessage"`
	} `json:"message"`
}

type baileysMedia struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
	Caption  string `json:"caption"`
}

type baileysAck struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	// epoch seconds
	Timestamp int64 `json:"timestamp"`
}

func (n *BaileysNormalizer) Normalize(payload []byte) (provider.WebhookResult, error) {
	var evt baileysEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return provider.WebhookResult{}, fmt.Errorf("%w: %w", errs.ErrMalformedPayload, err)
	}

	var res provider.WebhookResult
	var skipped *multierror.Error
	for i := range evt.Payload.Messages {
		m := evt.Payload.Messages[i]
		if m.Key.FromMe {
			// echoes of our own sends are not inbound traffic
			continue
		}
		msg, err := n.normalizeMessage(m)
		if err != nil {
			res.Skipped++
			skipped = multierror.Append(skipped, err)
			continue
		}
		res.Messages = append(res.Messages, msg)
	}
	for _, ack := range evt.Payload.Updates {
		if ack.ID == "" {
			res.Skipped++
			skipped = multierror.Append(skipped, fmt.Errorf("%w: ack without id", errs.ErrMalformedPayload))
			continue
		}
		res.Statuses = append(res.Statuses, domain.StatusUpdate{
			ChannelID:         n.channelID,
			ProviderMessageID: ack.ID,
			Status:            baileysAckStatus(ack.Status),
			Timestamp:         time.Unix(ack.Timestamp, 0),
		})
	}
	if skipped.ErrorOrNil() != nil {
		n.logger.Warn("skipped malformed session event entries",
			elog.Int("skipped", res.Skipped),
			elog.FieldErr(skipped))
	}
	return res, nil
}

func (n *BaileysNormalizer) normalizeMessage(m baileysMessage) (domain.InboundMessage, error) {
	if m.Key.ID == "" || m.Key.RemoteJid == "" {
		return domain.InboundMessage{}, fmt.Errorf("%w: message without key", errs.ErrMalformedPayload)
	}
	msg := domain.InboundMessage{
		ChannelID:         n.channelID,
		ProviderMessageID: m.Key.ID,
		From:              strings.TrimSuffix(m.Key.RemoteJid, "@s.whatsapp.net"),
		ContentType:       domain.ContentTypeText,
		ReceivedAt:        time.Unix(m.MessageTimestamp, 0),
		DedupKey:          DedupKey(n.channelID, m.Key.ID),
	}
	if m.MessageTimestamp <= 0 {
		msg.ReceivedAt = time.Now()
	}
	content := m.Message
	switch {
	case content.ImageMessage != nil:
		msg.ContentType = domain.ContentTypeImage
		msg.MediaURL = content.ImageMessage.URL
		msg.Body = content.ImageMessage.Caption
	case content.AudioMessage != nil:
		msg.ContentType = domain.ContentTypeAudio
		msg.MediaURL = content.AudioMessage.URL
	case content.VideoMessage != nil:
		msg.ContentType = domain.ContentTypeVideo
		msg.MediaURL = content.VideoMessage.URL
		msg.Body = content.VideoMessage.Caption
	case content.DocumentMessage != nil:
		msg.ContentType = domain.ContentTypeDocument
		msg.MediaURL = content.DocumentMessage.URL
		msg.Body = content.DocumentMessage.Caption
	case content.LocationMessage != nil:
		msg.ContentType = domain.ContentTypeLocation
		msg.Body = fmt.Sprintf("%f,%f", content.LocationMessage.DegreesLatitude, content.LocationMessage.DegreesLongitude)
	case content.ContactMessage != nil:
		msg.ContentType = domain.ContentTypeContact
		msg.Body = content.ContactMessage.Vcard
	default:
		msg.Body = content.Conversation
	}
	return msg, nil
}

// baileysAckStatus maps the gateway's numeric ack levels. Unknown levels stay pending.
func baileysAckStatus(ack int) domain.DeliveryStatus {
	const (
		ackServer = 1
		ackDevice = 2
		ackRead   = 3
	)
	switch ack {
	case ackServer:
		return domain.DeliveryStatusSent
	case ackDevice:
		return domain.DeliveryStatusDelivered
	case ackRead:
		return domain.DeliveryStatusRead
	default:
		return domain.DeliveryStatusPending
	}
}
