package dispatch

import (
	"context"

	"github.com/gotomicro/ego/core/elog"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/event/inbound"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/repository"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/supervisor"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/webhook"
)

// InboundProcessor drives one webhook payload through the provider's
// normalizer, drops re-deliveries, hands canonical messages to the
// persistence collaborator and applies delivery receipts.
type InboundProcessor struct {
	sup          *supervisor.Supervisor
	deduper      *webhook.InboundDeduper
	producer     inbound.MessagesEventProducer
	deliveryRepo repository.DeliveryRepository
	logger       *elog.Component
}

func NewInboundProcessor(
	sup *supervisor.Supervisor,
	deduper *webhook.InboundDeduper,
	producer inbound.MessagesEventProducer,
	deliveryRepo repository.DeliveryRepository,
) *InboundProcessor {
	return &InboundProcessor{
		sup:          sup,
		deduper:      deduper,
		producer:     producer,
		deliveryRepo: deliveryRepo,
		logger:       elog.DefaultLogger,
	}
}

func (p *InboundProcessor) Process(ctx context.Context, channelID int64, payload []byte) error {
	prov, err := p.sup.Provider(ctx, channelID)
	if err != nil {
		return err
	}
	res, err := prov.HandleWebhook(ctx, payload)
	if err != nil {
		return err
	}

	msgs := p.deduper.Filter(ctx, res.Messages)
	if len(msgs) > 0 {
		if err := p.producer.Produce(ctx, inbound.MessagesEvent{Messages: msgs}); err != nil {
			// the messages never landed downstream; free their dedup keys so
			// the vendor's redelivery gets through
			p.deduper.Release(ctx, msgs)
			return err
		}
	}
	for _, update := range res.Statuses {
		if err := p.deliveryRepo.ApplyStatusUpdate(ctx, update); err != nil {
			// receipts are best effort, the message itself already landed
			p.logger.Warn("failed to apply delivery receipt",
				elog.Int64("channelID", channelID),
				elog.String("providerMessageID", update.ProviderMessageID),
				elog.FieldErr(err))
		}
	}
	return nil
}
