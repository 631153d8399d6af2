package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	id "github.com/hidekivinicius2050/chatbot-sub002/internal/pkg/id_generator"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/queue"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/repository"
)

// Enqueuer is the fire-and-forget entry into the pipeline: it validates a send
// request, makes the delivery record, and drops the job on the right queue.
type Enqueuer struct {
	delivery queue.Backend
	media    queue.Backend
	sync     queue.Backend

	deliveryRepo repository.DeliveryRepository
	channelRepo  repository.ChannelRepository
	idGen        *id.Generator
}

func NewEnqueuer(
	delivery, media, syncQueue queue.Backend,
	deliveryRepo repository.DeliveryRepository,
	channelRepo repository.ChannelRepository,
	idGen *id.Generator,
) *Enqueuer {
	return &Enqueuer{
		delivery:     delivery,
		media:        media,
		sync:         syncQueue,
		deliveryRepo: deliveryRepo,
		channelRepo:  channelRepo,
		idGen:        idGen,
	}
}

// EnqueueMessage accepts an outbound message and returns the job id
// immediately. Messages with media not yet uploaded go through the media
// queue first; everything else goes straight to delivery.
func (e *Enqueuer) EnqueueMessage(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	if msg.ChannelID == 0 || msg.To == "" {
		return "", fmt.Errorf("%w: channelId and destination are required", errs.ErrInvalidParameter)
	}
	if msg.ContentType == "" {
		msg.ContentType = domain.ContentTypeText
	}
	ch, err := e.channelRepo.GetByID(ctx, msg.ChannelID)
	if err != nil {
		return "", err
	}
	if !ch.Enabled {
		return "", fmt.Errorf("%w: id=%d", errs.ErrChannelDisabled, ch.ID)
	}
	msg.TenantID = ch.TenantID

	if msg.ID == 0 {
		msg.ID, err = e.idGen.NextID()
		if err != nil {
			return "", fmt.Errorf("failed to generate message id: %w", err)
		}
	}
	// every delivery job carries a dedup key; generated when the caller
	// does not supply one so idempotency is always on
	if msg.DedupKey == "" {
		key, err := e.idGen.NextStringID()
		if err != nil {
			return "", fmt.Errorf("failed to generate dedup key: %w", err)
		}
		msg.DedupKey = key
	}
	if err := e.deliveryRepo.Ensure(ctx, msg); err != nil {
		return "", err
	}

	if msg.MediaURL != "" && msg.MediaID == "" {
		return e.enqueueMedia(ctx, msg)
	}
	return e.EnqueueDelivery(ctx, msg)
}

// EnqueueDelivery puts a ready-to-send message on the delivery queue. Also
// used by the media handler once the upload is done.
func (e *Enqueuer) EnqueueDelivery(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to serialize outbound message: %w", err)
	}
	return e.enqueue(ctx, e.delivery, domain.JobKindMessageDelivery, msg.ChannelID, payload)
}

func (e *Enqueuer) enqueueMedia(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	payload, err := json.Marshal(domain.MediaUploadPayload{Message: msg})
	if err != nil {
		return "", fmt.Errorf("failed to serialize media payload: %w", err)
	}
	return e.enqueue(ctx, e.media, domain.JobKindMediaUpload, msg.ChannelID, payload)
}

// EnqueueSync schedules a connection revalidation for one channel.
func (e *Enqueuer) EnqueueSync(ctx context.Context, channelID int64, forced bool) (string, error) {
	payload, err := json.Marshal(domain.ChannelSyncPayload{ChannelID: channelID, Forced: forced})
	if err != nil {
		return "", fmt.Errorf("failed to serialize sync payload: %w", err)
	}
	return e.enqueue(ctx, e.sync, domain.JobKindChannelSync, channelID, payload)
}

// CancelJob drops a not-yet-started job, e.g. when a tenant disables the channel.
func (e *Enqueuer) CancelJob(ctx context.Context, queueName, jobID string) error {
	for _, b := range []queue.Backend{e.delivery, e.media, e.sync} {
		if b.Name() == queueName {
			return b.Cancel(ctx, jobID)
		}
	}
	return fmt.Errorf("%w: unknown queue %s", errs.ErrInvalidParameter, queueName)
}

func (e *Enqueuer) enqueue(ctx context.Context, b queue.Backend, kind domain.JobKind, channelID int64, payload []byte) (string, error) {
	jobID, err := e.idGen.NextStringID()
	if err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}
	job := domain.Job{
		ID:        jobID,
		Kind:      kind,
		ChannelID: channelID,
		Payload:   payload,
		NextRunAt: time.Now(),
	}
	if err := b.Enqueue(ctx, job); err != nil {
		return "", err
	}
	return jobID, nil
}
