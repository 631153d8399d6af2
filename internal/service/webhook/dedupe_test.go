//go:build unit

package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMockIdempotency() *mockIdempotency {
	return &mockIdempotency{seen: make(map[string]bool)}
}

func (m *mockIdempotency) MExists(ctx context.Context, keys ...string) ([]bool, error) {
	out := make([]bool, 0, len(keys))
	for _, key := range keys {
		seen, err := m.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, seen)
	}
	return out, nil
}

func (m *mockIdempotency) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	was := m.seen[key]
	m.seen[key] = true
	return was, nil
}

func (m *mockIdempotency) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.seen, key)
	return nil
}

func inboundMsg(channelID int64, providerMessageID string) domain.InboundMessage {
	return domain.InboundMessage{
		ChannelID:         channelID,
		ProviderMessageID: providerMessageID,
		DedupKey:          DedupKey(channelID, providerMessageID),
	}
}

func TestInboundDeduper_DropsRedeliveries(t *testing.T) {
	t.Parallel()
	d := NewInboundDeduper(newMockIdempotency())
	ctx := context.Background()

	first := d.Filter(ctx, []domain.InboundMessage{inboundMsg(1, "m1"), inboundMsg(1, "m2")})
	assert.Len(t, first, 2)

	// the vendor redelivers the same batch plus one new message
	second := d.Filter(ctx, []domain.InboundMessage{inboundMsg(1, "m1"), inboundMsg(1, "m3")})
	assert.Len(t, second, 1)
	assert.Equal(t, "m3", second[0].ProviderMessageID)
}

func TestInboundDeduper_SameIDOnOtherChannelPasses(t *testing.T) {
	t.Parallel()
	d := NewInboundDeduper(newMockIdempotency())
	ctx := context.Background()

	assert.Len(t, d.Filter(ctx, []domain.InboundMessage{inboundMsg(1, "m1")}), 1)
	assert.Len(t, d.Filter(ctx, []domain.InboundMessage{inboundMsg(2, "m1")}), 1)
}

func TestInboundDeduper_ReleaseFreesKeys(t *testing.T) {
	t.Parallel()
	d := NewInboundDeduper(newMockIdempotency())
	ctx := context.Background()
	batch := []domain.InboundMessage{inboundMsg(1, "m1")}

	kept := d.Filter(ctx, batch)
	require.Len(t, kept, 1)

	// the downstream handoff failed, the redelivery must pass again
	d.Release(ctx, kept)
	assert.Len(t, d.Filter(ctx, batch), 1)
}

func TestInboundDeduper_BackendErrorKeepsMessage(t *testing.T) {
	t.Parallel()
	svc := newMockIdempotency()
	svc.err = errors.New("redis down")
	d := NewInboundDeduper(svc)

	out := d.Filter(context.Background(), []domain.InboundMessage{inboundMsg(1, "m1")})
	assert.Len(t, out, 1)
}
