package repository

import (
	"context"
	"time"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/repository/cache/local"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/repository/dao"
)

// ChannelRepository is the pipeline's read/update handle on channels. The
// pipeline never deletes channels; tenants soft-retire them via Disable.
type ChannelRepository interface {
	Create(ctx context.Context, ch domain.Channel) (domain.Channel, error)
	GetByID(ctx context.Context, id int64) (domain.Channel, error)
	FindEnabled(ctx context.Context) ([]domain.Channel, error)
	UpdateStatus(ctx context.Context, ch domain.Channel) error
	Disable(ctx context.Context, id int64) error
}

type channelRepository struct {
	dao   dao.ChannelDAO
	cache *local.ChannelCache
}

func NewChannelRepository(d dao.ChannelDAO) ChannelRepository {
	const cacheTTL = time.Minute
	return &channelRepository{
		dao:   d,
		cache: local.NewChannelCache(cacheTTL),
	}
}

func (r *channelRepository) Create(ctx context.Context, ch domain.Channel) (domain.Channel, error) {
	entity, err := r.toEntity(ch)
	if err != nil {
		return domain.Channel{}, err
	}
	created, err := r.dao.Create(ctx, entity)
	if err != nil {
		return domain.Channel{}, err
	}
	return r.toDomain(created)
}

func (r *channelRepository) GetByID(ctx context.Context, id int64) (domain.Channel, error) {
	if ch, err := r.cache.Get(ctx, id); err == nil {
		return ch, nil
	}
	entity, err := r.dao.GetByID(ctx, id)
	if err != nil {
		return domain.Channel{}, err
	}
	ch, err := r.toDomain(entity)
	if err != nil {
		return domain.Channel{}, err
	}
	r.cache.Set(ctx, ch)
	return ch, nil
}

func (r *channelRepository) FindEnabled(ctx context.Context) ([]domain.Channel, error) {
	entities, err := r.dao.FindEnabled(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Channel, 0, len(entities))
	for i := range entities {
		ch, err := r.toDomain(entities[i])
		if err != nil {
			return nil, err
		}
		res = append(res, ch)
	}
	return res, nil
}

func (r *channelRepository) UpdateStatus(ctx context.Context, ch domain.Channel) error {
	err := r.dao.UpdateStatus(ctx, dao.Channel{
		ID:             ch.ID,
		Status:         string(ch.Status),
		StatusReason:   ch.StatusReason,
		QRCode:         ch.QRCode,
		LastActivityAt: ch.LastActivityAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	r.cache.Del(ctx, ch.ID)
	return nil
}

func (r *channelRepository) Disable(ctx context.Context, id int64) error {
	if err := r.dao.Disable(ctx, id); err != nil {
		return err
	}
	r.cache.Del(ctx, id)
	return nil
}

func (r *channelRepository) toEntity(ch domain.Channel) (dao.Channel, error) {
	cfg, err := dao.MarshalConfig(ch.Config)
	if err != nil {
		return dao.Channel{}, err
	}
	return dao.Channel{
		ID:             ch.ID,
		TenantID:       ch.TenantID,
		Name:           ch.Name,
		Type:           string(ch.Type),
		Status:         string(ch.Status),
		StatusReason:   ch.StatusReason,
		QRCode:         ch.QRCode,
		Config:         cfg,
		Enabled:        ch.Enabled,
		LastActivityAt: ch.LastActivityAt.UnixMilli(),
	}, nil
}

func (r *channelRepository) toDomain(entity dao.Channel) (domain.Channel, error) {
	cfg, err := dao.UnmarshalConfig(entity.Config)
	if err != nil {
		return domain.Channel{}, err
	}
	return domain.Channel{
		ID:             entity.ID,
		TenantID:       entity.TenantID,
		Name:           entity.Name,
		Type:           domain.ChannelType(entity.Type),
		Status:         domain.ChannelStatus(entity.Status),
		StatusReason:   entity.StatusReason,
		QRCode:         entity.QRCode,
		Config:         cfg,
		Enabled:        entity.Enabled,
		LastActivityAt: time.UnixMilli(entity.LastActivityAt),
	}, nil
}
