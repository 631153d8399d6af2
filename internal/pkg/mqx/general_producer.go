package mqx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ecodeclub/mq-api"
)

// GeneralProducer serializes events of one type onto one topic.
type GeneralProducer[T any] struct {
	producer mq.Producer
	topic    string
}

func NewGeneralProducer[T any](q mq.MQ, topic string) (*GeneralProducer[T], error) {
	p, err := q.Producer(topic)
	if err != nil {
		return nil, err
	}
	return &GeneralProducer[T]{producer: p, topic: topic}, nil
}

func (p *GeneralProducer[T]) Produce(ctx context.Context, evt T) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to serialize event for topic %s: %w", p.topic, err)
	}
	_, err = p.producer.Produce(ctx, &mq.Message{
		Topic: p.topic,
		Value: data,
	})
	return err
}

func (p *GeneralProducer[T]) Close() {
	p.producer.Close()
}
