package job

import (
	"context"

	"github.com/ecodeclub/mq-api"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/pkg/mqx"
)

const (
	// FailedTopic carries jobs that exhausted their attempt budget. Operators
	// alert off this topic; nothing is ever silently dropped.
	FailedTopic = "job_failed_events"
)

type FailedEvent struct {
	JobID     string `json:"jobId"`
	Queue     string `json:"queue"`
	Kind      string `json:"kind"`
	ChannelID int64  `json:"channelId"`
	Attempts  int32  `json:"attempts"`
	Error     string `json:"error"`
	FailedAt  int64  `json:"failedAt"`
}

type FailedEventProducer interface {
	Produce(ctx context.Context, evt FailedEvent) error
}

func NewFailedEventProducer(q mq.MQ) (FailedEventProducer, error) {
	return mqx.NewGeneralProducer[FailedEvent](q, FailedTopic)
}
