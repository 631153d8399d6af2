package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gotomicro/ego/core/elog"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/queue"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/repository"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/supervisor"
)

// DeliveryHandler executes message-delivery jobs. It honors the at-most-one
// external send invariant: the dedup key is checked against the persistence
// collaborator before every attempt, and only marked after a confirmed send.
type DeliveryHandler struct {
	sup      *supervisor.Supervisor
	repo     repository.DeliveryRepository
	enqueuer *Enqueuer
	logger   *elog.Component
}

func NewDeliveryHandler(sup *supervisor.Supervisor, repo repository.DeliveryRepository, enqueuer *Enqueuer) *DeliveryHandler {
	return &DeliveryHandler{
		sup:      sup,
		repo:     repo,
		enqueuer: enqueuer,
		logger:   elog.DefaultLogger,
	}
}

func (h *DeliveryHandler) Handle(ctx context.Context, job domain.Job) queue.Outcome {
	var msg domain.OutboundMessage
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		return queue.Fatal(fmt.Errorf("%w: corrupt delivery payload: %w", errs.ErrInvalidParameter, err))
	}

	delivered, err := h.repo.WasDelivered(ctx, msg.ChannelID, msg.DedupKey)
	if err != nil {
		return queue.Retry(fmt.Errorf("dedup lookup failed: %w", err))
	}
	if delivered {
		// a previous attempt already produced the external send
		return queue.Success()
	}

	var result domain.MessageResult
	sendErr := h.sup.WithLock(ctx, msg.ChannelID, func(p provider.Provider) error {
		if !p.Status(ctx).IsConnected() {
			return fmt.Errorf("%w: channel %d", errs.ErrProviderNotConnected, msg.ChannelID)
		}
		if checker, ok := asNumberChecker(p); ok {
			onNetwork, checkErr := checker.IsNumberConnected(ctx, msg.To)
			if checkErr != nil {
				// lookup is best effort, the send itself decides
				h.logger.Warn("recipient lookup failed before send",
					elog.String("to", msg.To), elog.FieldErr(checkErr))
			} else if !onNetwork {
				return fmt.Errorf("%w: recipient %s is not on the network", errs.ErrInvalidParameter, msg.To)
			}
		}
		var err error
		result, err = p.SendMessage(ctx, msg)
		return err
	})

	switch {
	case sendErr == nil:
		if err := h.repo.MarkDelivered(ctx, msg.ChannelID, msg.DedupKey, result.ProviderMessageID); err != nil {
			// the send happened; failing the job now would risk a duplicate
			h.logger.Error("send succeeded but outcome not recorded",
				elog.String("dedupKey", msg.DedupKey), elog.FieldErr(err))
		}
		return queue.Success()
	case errs.IsSessionInvalidating(sendErr):
		// reconnect first, retry the delivery afterwards
		h.triggerSync(ctx, msg.ChannelID)
		return queue.Retry(sendErr)
	case errors.Is(sendErr, errs.ErrProviderNotConnected), errors.Is(sendErr, errs.ErrChannelNotPaired):
		h.triggerSync(ctx, msg.ChannelID)
		return queue.Retry(sendErr)
	case errs.IsConfiguration(sendErr):
		if err := h.repo.MarkFailed(ctx, msg.ChannelID, msg.DedupKey, sendErr.Error()); err != nil {
			h.logger.Error("failed to record fatal delivery failure",
				elog.String("dedupKey", msg.DedupKey), elog.FieldErr(err))
		}
		return queue.Fatal(sendErr)
	default:
		return queue.Retry(sendErr)
	}
}

// asNumberChecker unwraps decorators until it finds a recipient lookup
// capability.
func asNumberChecker(p provider.Provider) (provider.NumberChecker, bool) {
	for {
		if checker, ok := p.(provider.NumberChecker); ok {
			return checker, true
		}
		unwrapper, ok := p.(interface{ Unwrap() provider.Provider })
		if !ok {
			return nil, false
		}
		p = unwrapper.Unwrap()
	}
}

func (h *DeliveryHandler) triggerSync(ctx context.Context, channelID int64) {
	if _, err := h.enqueuer.EnqueueSync(ctx, channelID, true); err != nil {
		h.logger.Error("failed to enqueue channel sync",
			elog.Int64("channelID", channelID), elog.FieldErr(err))
	}
}
