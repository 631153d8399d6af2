package ioc

import (
	"context"
	"sync"
	"time"

	"github.com/ecodeclub/ekit/retry"
	mq "github.com/ecodeclub/mq-api"
	"github.com/ecodeclub/mq-api/memory"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/event/channelstatus"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/event/inbound"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/event/job"
)

var (
	q          mq.MQ
	mqInitOnce sync.Once
)

func InitMQ() mq.MQ {
	mqInitOnce.Do(func() {
		const maxInterval = 10 * time.Second
		const maxRetries = 10
		strategy, err := retry.NewExponentialBackoffRetryStrategy(time.Second, maxInterval, maxRetries)
		if err != nil {
			panic(err)
		}
		for {
			q, err = initMQ()
			if err == nil {
				break
			}
			next, ok := strategy.Next()
			if !ok {
				panic("message queue did not come up in time")
			}
			time.Sleep(next)
		}
	})
	return q
}

func initMQ() (mq.MQ, error) {
	type Topic struct {
		Name       string
		Partitions int
	}
	topics := []Topic{
		{Name: job.FailedTopic, Partitions: 1},
		{Name: channelstatus.StatusTopic, Partitions: 1},
		{Name: inbound.MessagesTopic, Partitions: 1},
	}
	qq := memory.NewMQ()
	for _, t := range topics {
		err := qq.CreateTopic(context.Background(), t.Name, t.Partitions)
		if err != nil {
			return nil, err
		}
	}
	return qq, nil
}
