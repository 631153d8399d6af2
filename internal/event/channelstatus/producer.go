package channelstatus

import (
	"context"

	"github.com/ecodeclub/mq-api"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/pkg/mqx"
)

const (
	// StatusTopic carries channel status transitions so the settings UI can
	// show "needs pairing" / "needs reconnect" live.
	StatusTopic = "channel_status_events"
)

type StatusEvent struct {
	ChannelID int64                `json:"channelId"`
	TenantID  int64                `json:"tenantId"`
	Status    domain.ChannelStatus `json:"status"`
	Reason    string               `json:"reason,omitempty"`
	HasQRCode bool                 `json:"hasQrCode"`
	ChangedAt int64                `json:"changedAt"`
}

type StatusEventProducer interface {
	Produce(ctx context.Context, evt StatusEvent) error
}

func NewStatusEventProducer(q mq.MQ) (StatusEventProducer, error) {
	return mqx.NewGeneralProducer[StatusEvent](q, StatusTopic)
}
