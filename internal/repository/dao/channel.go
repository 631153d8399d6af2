package dao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ego-component/egorm"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"gorm.io/gorm"
)

type ChannelDAO interface {
	Create(ctx context.Context, data Channel) (Channel, error)
	GetByID(ctx context.Context, id int64) (Channel, error)
	// FindEnabled returns every channel the sync scheduler must keep alive.
	FindEnabled(ctx context.Context) ([]Channel, error)
	// UpdateStatus writes the durable status projection in one statement so a
	// concurrent reader never sees a half-updated row.
	UpdateStatus(ctx context.Context, data Channel) error
	Disable(ctx context.Context, id int64) error
}

// Channel is the channels table.
type Channel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	TenantID       int64  `gorm:"type:BIGINT;NOT NULL;index:idx_tenant_id"`
	Name           string `gorm:"type:VARCHAR(128);NOT NULL"`
	Type           string `gorm:"type:VARCHAR(32);NOT NULL"`
	Status         string `gorm:"type:ENUM('DISCONNECTED','CONNECTING','CONNECTED','ERROR','DISABLED');NOT NULL;DEFAULT:'DISCONNECTED'"`
	StatusReason   string `gorm:"type:VARCHAR(512)"`
	QRCode         string `gorm:"type:TEXT"`
	Config         string `gorm:"type:TEXT;NOT NULL"`
	Enabled        bool   `gorm:"NOT NULL;DEFAULT:1;index:idx_enabled"`
	LastActivityAt int64
	Ctime          int64
	Utime          int64
}

func (Channel) TableName() string {
	return "channels"
}

type channelDAO struct {
	db *egorm.Component
}

func NewChannelDAO(db *egorm.Component) ChannelDAO {
	return &channelDAO{db: db}
}

func (d *channelDAO) Create(ctx context.Context, data Channel) (Channel, error) {
	now := time.Now().UnixMilli()
	data.Ctime, data.Utime = now, now
	err := d.db.WithContext(ctx).Create(&data).Error
	if err != nil {
		return Channel{}, fmt.Errorf("failed to create channel: %w", err)
	}
	return data, nil
}

func (d *channelDAO) GetByID(ctx context.Context, id int64) (Channel, error) {
	var ch Channel
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Channel{}, fmt.Errorf("%w: id=%d", errs.ErrChannelNotFound, id)
	}
	if err != nil {
		return Channel{}, err
	}
	return ch, nil
}

func (d *channelDAO) FindEnabled(ctx context.Context) ([]Channel, error) {
	var chs []Channel
	err := d.db.WithContext(ctx).
		Where("enabled = ? AND status != ?", true, string(domain.ChannelStatusDisabled)).
		Find(&chs).Error
	return chs, err
}

func (d *channelDAO) UpdateStatus(ctx context.Context, data Channel) error {
	res := d.db.WithContext(ctx).Model(&Channel{}).
		Where("id = ?", data.ID).
		Updates(map[string]any{
			"status":           data.Status,
			"status_reason":    data.StatusReason,
			"qr_code":          data.QRCode,
			"last_activity_at": data.LastActivityAt,
			"utime":            time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id=%d", errs.ErrChannelNotFound, data.ID)
	}
	return nil
}

func (d *channelDAO) Disable(ctx context.Context, id int64) error {
	return d.db.WithContext(ctx).Model(&Channel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"enabled": false,
			"status":  string(domain.ChannelStatusDisabled),
			"utime":   time.Now().UnixMilli(),
		}).Error
}

// MarshalConfig / UnmarshalConfig keep the credential blob opaque in storage.
func MarshalConfig(cfg domain.ChannelConfig) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to serialize channel config: %w", err)
	}
	return string(data), nil
}

func UnmarshalConfig(raw string) (domain.ChannelConfig, error) {
	var cfg domain.ChannelConfig
	if raw == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("corrupt channel config: %w", err)
	}
	return cfg, nil
}
