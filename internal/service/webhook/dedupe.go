package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/pkg/idempotent"
	"github.com/patrickmn/go-cache"
)

// DedupKey derives the stable inbound idempotency key. The provider message id
// is unique per vendor, the channel id keeps tenants apart.
func DedupKey(channelID int64, providerMessageID string) string {
	return fmt.Sprintf("inbound:%d:%s", channelID, providerMessageID)
}

// InboundDeduper drops webhook re-deliveries. A local TTL cache absorbs the
// common fast retries; the idempotency service is the cross-replica check.
type InboundDeduper struct {
	local *cache.Cache
	svc   idempotent.IdempotencyService

	logger *elog.Component
}

func NewInboundDeduper(svc idempotent.IdempotencyService) *InboundDeduper {
	const localTTL = 10 * time.Minute
	return &InboundDeduper{
		local:  cache.New(localTTL, localTTL),
		svc:    svc,
		logger: elog.DefaultLogger,
	}
}

// Filter returns only messages not seen before. On idempotency backend errors
// the message is kept; downstream persistence still holds a unique key.
func (d *InboundDeduper) Filter(ctx context.Context, msgs []domain.InboundMessage) []domain.InboundMessage {
	out := make([]domain.InboundMessage, 0, len(msgs))
	for i := range msgs {
		msg := msgs[i]
		if _, found := d.local.Get(msg.DedupKey); found {
			continue
		}
		seen, err := d.svc.Exists(ctx, msg.DedupKey)
		if err != nil {
			d.logger.Warn("inbound dedup check failed, keeping message",
				elog.String("dedupKey", msg.DedupKey),
				elog.FieldErr(err))
		} else if seen {
			continue
		}
		d.local.SetDefault(msg.DedupKey, struct{}{})
		out = append(out, msg)
	}
	return out
}

// Release rolls back the marks Filter placed for msgs. Call it when the
// messages never reached the downstream, so the vendor's redelivery is not
// dropped against a burned key.
func (d *InboundDeduper) Release(ctx context.Context, msgs []domain.InboundMessage) {
	for i := range msgs {
		key := msgs[i].DedupKey
		d.local.Delete(key)
		if err := d.svc.Remove(ctx, key); err != nil {
			d.logger.Warn("failed to release inbound dedup key",
				elog.String("dedupKey", key),
				elog.FieldErr(err))
		}
	}
}
