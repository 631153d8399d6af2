package inbound

import (
	"context"

	"github.com/ecodeclub/mq-api"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/pkg/mqx"
)

const (
	// MessagesTopic hands canonical inbound messages to the persistence
	// collaborator (ticket/chat features downstream).
	MessagesTopic = "inbound_message_events"
)

type MessagesEvent struct {
	Messages []domain.InboundMessage `json:"messages"`
}

type MessagesEventProducer interface {
	Produce(ctx context.Context, evt MessagesEvent) error
}

func NewMessagesEventProducer(q mq.MQ) (MessagesEventProducer, error) {
	return mqx.NewGeneralProducer[MessagesEvent](q, MessagesTopic)
}
