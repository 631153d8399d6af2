package repository

import (
	"context"
	"errors"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/repository/dao"
)

// DeliveryRepository is the persistence collaborator of the delivery pipeline:
// it answers "was this dedup key already delivered" and records outcomes.
type DeliveryRepository interface {
	// Ensure creates the record for a logical send if it does not exist yet.
	Ensure(ctx context.Context, msg domain.OutboundMessage) error
	// WasDelivered reports whether the dedup key already produced an external send.
	WasDelivered(ctx context.Context, channelID int64, dedupKey string) (bool, error)
	MarkDelivered(ctx context.Context, channelID int64, dedupKey, providerMessageID string) error
	MarkFailed(ctx context.Context, channelID int64, dedupKey, lastError string) error
	ApplyStatusUpdate(ctx context.Context, update domain.StatusUpdate) error
}

type deliveryRepository struct {
	dao dao.DeliveryRecordDAO
}

func NewDeliveryRepository(d dao.DeliveryRecordDAO) DeliveryRepository {
	return &deliveryRepository{dao: d}
}

func (r *deliveryRepository) Ensure(ctx context.Context, msg domain.OutboundMessage) error {
	_, err := r.dao.Create(ctx, dao.DeliveryRecord{
		ChannelID: msg.ChannelID,
		DedupKey:  msg.DedupKey,
		MessageID: msg.ID,
		Status:    string(domain.DeliveryStatusPending),
	})
	return err
}

func (r *deliveryRepository) WasDelivered(ctx context.Context, channelID int64, dedupKey string) (bool, error) {
	rec, err := r.dao.GetByDedupKey(ctx, channelID, dedupKey)
	if errors.Is(err, errs.ErrDeliveryRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch domain.DeliveryStatus(rec.Status) {
	case domain.DeliveryStatusSent, domain.DeliveryStatusDelivered, domain.DeliveryStatusRead:
		return true, nil
	default:
		return false, nil
	}
}

func (r *deliveryRepository) MarkDelivered(ctx context.Context, channelID int64, dedupKey, providerMessageID string) error {
	return r.dao.MarkDelivered(ctx, channelID, dedupKey, providerMessageID)
}

func (r *deliveryRepository) MarkFailed(ctx context.Context, channelID int64, dedupKey, lastError string) error {
	return r.dao.MarkFailed(ctx, channelID, dedupKey, lastError)
}

func (r *deliveryRepository) ApplyStatusUpdate(ctx context.Context, update domain.StatusUpdate) error {
	return r.dao.UpdateStatusByProviderMessageID(ctx, update.ChannelID, update.ProviderMessageID, string(update.Status))
}
