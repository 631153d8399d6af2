package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ego-component/egorm"
	"github.com/go-sql-driver/mysql"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"gorm.io/gorm"
)

type DeliveryRecordDAO interface {
	// Create inserts the record for a logical send. Inserting an existing
	// (channel_id, dedup_key) pair returns the stored row instead of a new one.
	Create(ctx context.Context, data DeliveryRecord) (DeliveryRecord, error)
	GetByDedupKey(ctx context.Context, channelID int64, dedupKey string) (DeliveryRecord, error)
	// MarkDelivered records a successful external send for the dedup key.
	MarkDelivered(ctx context.Context, channelID int64, dedupKey, providerMessageID string) error
	MarkFailed(ctx context.Context, channelID int64, dedupKey, lastError string) error
	// UpdateStatusByProviderMessageID applies a vendor delivery receipt.
	UpdateStatusByProviderMessageID(ctx context.Context, channelID int64, providerMessageID, status string) error
}

// DeliveryRecord is the delivery_records table: one row per logical send,
// keyed by dedup key to enforce at-most-one external send per key.
type DeliveryRecord struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	ChannelID         int64  `gorm:"type:BIGINT;NOT NULL;uniqueIndex:idx_channel_dedup,priority:1"`
	DedupKey          string `gorm:"type:VARCHAR(256);NOT NULL;uniqueIndex:idx_channel_dedup,priority:2"`
	MessageID         int64  `gorm:"type:BIGINT;NOT NULL"`
	ProviderMessageID string `gorm:"type:VARCHAR(256);index:idx_provider_message_id"`
	Status            string `gorm:"type:ENUM('pending','sent','delivered','read','failed');NOT NULL;DEFAULT:'pending'"`
	LastError         string `gorm:"type:VARCHAR(1024)"`
	Ctime             int64
	Utime             int64
}

func (DeliveryRecord) TableName() string {
	return "delivery_records"
}

type deliveryRecordDAO struct {
	db *egorm.Component
}

func NewDeliveryRecordDAO(db *egorm.Component) DeliveryRecordDAO {
	return &deliveryRecordDAO{db: db}
}

func (d *deliveryRecordDAO) Create(ctx context.Context, data DeliveryRecord) (DeliveryRecord, error) {
	now := time.Now().UnixMilli()
	data.Ctime, data.Utime = now, now
	err := d.db.WithContext(ctx).Create(&data).Error
	if err != nil {
		var me *mysql.MySQLError
		const uniqueIndexConflictErrNo = 1062
		if errors.As(err, &me) && me.Number == uniqueIndexConflictErrNo {
			// retry of an already-enqueued send, hand back the stored row
			return d.GetByDedupKey(ctx, data.ChannelID, data.DedupKey)
		}
		return DeliveryRecord{}, fmt.Errorf("failed to create delivery record: %w", err)
	}
	return data, nil
}

func (d *deliveryRecordDAO) GetByDedupKey(ctx context.Context, channelID int64, dedupKey string) (DeliveryRecord, error) {
	var rec DeliveryRecord
	err := d.db.WithContext(ctx).
		Where("channel_id = ? AND dedup_key = ?", channelID, dedupKey).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DeliveryRecord{}, fmt.Errorf("%w: dedupKey=%s", errs.ErrDeliveryRecordNotFound, dedupKey)
	}
	if err != nil {
		return DeliveryRecord{}, err
	}
	return rec, nil
}

func (d *deliveryRecordDAO) MarkDelivered(ctx context.Context, channelID int64, dedupKey, providerMessageID string) error {
	return d.db.WithContext(ctx).Model(&DeliveryRecord{}).
		Where("channel_id = ? AND dedup_key = ?", channelID, dedupKey).
		Updates(map[string]any{
			"status":              "sent",
			"provider_message_id": providerMessageID,
			"last_error":          "",
			"utime":               time.Now().UnixMilli(),
		}).Error
}

func (d *deliveryRecordDAO) MarkFailed(ctx context.Context, channelID int64, dedupKey, lastError string) error {
	return d.db.WithContext(ctx).Model(&DeliveryRecord{}).
		Where("channel_id = ? AND dedup_key = ?", channelID, dedupKey).
		Updates(map[string]any{
			"status":     "failed",
			"last_error": lastError,
			"utime":      time.Now().UnixMilli(),
		}).Error
}

func (d *deliveryRecordDAO) UpdateStatusByProviderMessageID(ctx context.Context, channelID int64, providerMessageID, status string) error {
	return d.db.WithContext(ctx).Model(&DeliveryRecord{}).
		Where("channel_id = ? AND provider_message_id = ?", channelID, providerMessageID).
		Update("status", status).Error
}
