package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/queue"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/supervisor"
)

// SyncHandler executes channel-sync jobs. Reconnection is expected to be
// slow, so almost everything is retryable; only a broken configuration stops
// the attempts.
type SyncHandler struct {
	sup *supervisor.Supervisor
}

func NewSyncHandler(sup *supervisor.Supervisor) *SyncHandler {
	return &SyncHandler{sup: sup}
}

func (h *SyncHandler) Handle(ctx context.Context, job domain.Job) queue.Outcome {
	var payload domain.ChannelSyncPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Fatal(fmt.Errorf("%w: corrupt sync payload: %w", errs.ErrInvalidParameter, err))
	}
	err := h.sup.SyncChannel(ctx, payload.ChannelID)
	switch {
	case err == nil:
		return queue.Success()
	case errors.Is(err, errs.ErrChannelDisabled), errors.Is(err, errs.ErrChannelNotFound):
		// the channel went away; nothing left to reconnect
		return queue.Success()
	case errs.IsConfiguration(err):
		return queue.Fatal(err)
	default:
		// session-invalidating errors included: keep trying, the supervisor
		// regenerates the pairing artifact on each attempt
		return queue.Retry(err)
	}
}
