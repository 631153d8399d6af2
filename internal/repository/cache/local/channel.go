package local

import (
	"context"
	"fmt"
	"time"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/patrickmn/go-cache"
)

// ChannelCache keeps channel rows in process memory. Channel config rarely
// changes; status writes invalidate the entry.
type ChannelCache struct {
	c *cache.Cache
}

func NewChannelCache(ttl time.Duration) *ChannelCache {
	return &ChannelCache{
		c: cache.New(ttl, ttl),
	}
}

func (c *ChannelCache) Get(_ context.Context, id int64) (domain.Channel, error) {
	val, ok := c.c.Get(c.key(id))
	if !ok {
		return domain.Channel{}, fmt.Errorf("%w: cache miss id=%d", errs.ErrChannelNotFound, id)
	}
	ch, ok := val.(domain.Channel)
	if !ok {
		return domain.Channel{}, fmt.Errorf("%w: corrupt cache entry id=%d", errs.ErrChannelNotFound, id)
	}
	return ch, nil
}

func (c *ChannelCache) Set(_ context.Context, ch domain.Channel) {
	c.c.SetDefault(c.key(ch.ID), ch)
}

func (c *ChannelCache) Del(_ context.Context, id int64) {
	c.c.Delete(c.key(id))
}

func (c *ChannelCache) key(id int64) string {
	return fmt.Sprintf("channel:%d", id)
}
