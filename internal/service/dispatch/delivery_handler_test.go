//go:build unit

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/event/channelstatus"
	id "github.com/hidekivinicius2050/chatbot-sub002/internal/pkg/id_generator"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/queue"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu   sync.Mutex
	name string
	jobs []domain.Job
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Enqueue(_ context.Context, job domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeBackend) Dequeue(context.Context, time.Duration) (domain.Job, error) {
	return domain.Job{}, queue.ErrNoJob
}

func (f *fakeBackend) Requeue(context.Context, domain.Job, time.Duration) error { return nil }
func (f *fakeBackend) MarkSucceeded(context.Context, domain.Job) error          { return nil }
func (f *fakeBackend) MarkFailed(context.Context, domain.Job) error             { return nil }
func (f *fakeBackend) Cancel(context.Context, string) error                     { return nil }
func (f *fakeBackend) PromoteDue(context.Context, time.Time) (int, error)       { return 0, nil }

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type mockDeliveryRepo struct {
	mu        sync.Mutex
	delivered map[string]bool
	marked    []string
	failed    []string
	lookupErr error
}

func newMockDeliveryRepo() *mockDeliveryRepo {
	return &mockDeliveryRepo{delivered: make(map[string]bool)}
}

func (m *mockDeliveryRepo) key(channelID int64, dedupKey string) string {
	return fmt.Sprintf("%d:%s", channelID, dedupKey)
}

func (m *mockDeliveryRepo) Ensure(context.Context, domain.OutboundMessage) error { return nil }

func (m *mockDeliveryRepo) WasDelivered(_ context.Context, channelID int64, dedupKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return false, m.lookupErr
	}
	return m.delivered[m.key(channelID, dedupKey)], nil
}

func (m *mockDeliveryRepo) MarkDelivered(_ context.Context, channelID int64, dedupKey, providerMessageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[m.key(channelID, dedupKey)] = true
	m.marked = append(m.marked, providerMessageID)
	return nil
}

func (m *mockDeliveryRepo) MarkFailed(_ context.Context, channelID int64, dedupKey, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, m.key(channelID, dedupKey))
	return nil
}

func (m *mockDeliveryRepo) ApplyStatusUpdate(context.Context, domain.StatusUpdate) error { return nil }

type mockChannelRepo struct {
	channels map[int64]domain.Channel
}

func (m *mockChannelRepo) Create(_ context.Context, ch domain.Channel) (domain.Channel, error) {
	return ch, nil
}

func (m *mockChannelRepo) GetByID(_ context.Context, id int64) (domain.Channel, error) {
	ch, ok := m.channels[id]
	if !ok {
		return domain.Channel{}, fmt.Errorf("%w: id=%d", errs.ErrChannelNotFound, id)
	}
	return ch, nil
}

func (m *mockChannelRepo) FindEnabled(context.Context) ([]domain.Channel, error) { return nil, nil }
func (m *mockChannelRepo) UpdateStatus(context.Context, domain.Channel) error    { return nil }
func (m *mockChannelRepo) Disable(context.Context, int64) error                  { return nil }

type noopStatusProducer struct{}

func (noopStatusProducer) Produce(context.Context, channelstatus.StatusEvent) error { return nil }

// scriptedProvider fails or succeeds sends according to sendErr.
type scriptedProvider struct {
	mu      sync.Mutex
	state   domain.ConnState
	sendErr error
	sends   int
}

func (s *scriptedProvider) Type() domain.ChannelType { return domain.ChannelTypeWhatsAppCloud }

func (s *scriptedProvider) Connect(context.Context) error { return nil }

func (s *scriptedProvider) Disconnect(context.Context) error { return nil }

func (s *scriptedProvider) Status(context.Context) domain.ProviderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.ProviderStatus{State: s.state}
}

func (s *scriptedProvider) SendMessage(context.Context, domain.OutboundMessage) (domain.MessageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	if s.sendErr != nil {
		return domain.MessageResult{}, s.sendErr
	}
	return domain.MessageResult{Success: true, ProviderMessageID: "wamid.ok", Status: domain.DeliveryStatusSent}, nil
}

func (s *scriptedProvider) UploadMedia(context.Context, provider.Media) (string, error) {
	return "media-1", nil
}

func (s *scriptedProvider) HandleWebhook(context.Context, []byte) (provider.WebhookResult, error) {
	return provider.WebhookResult{}, nil
}

type handlerFixture struct {
	handler     *DeliveryHandler
	provider    *scriptedProvider
	repo        *mockDeliveryRepo
	syncBackend *fakeBackend
}

func newHandlerFixture(t *testing.T, p *scriptedProvider) *handlerFixture {
	t.Helper()
	return newHandlerFixtureFor(t, p, p)
}

func newHandlerFixtureFor(t *testing.T, live provider.Provider, scripted *scriptedProvider) *handlerFixture {
	t.Helper()
	channelRepo := &mockChannelRepo{channels: map[int64]domain.Channel{
		1: {ID: 1, TenantID: 100, Type: domain.ChannelTypeWhatsAppCloud, Enabled: true},
	}}
	registry := provider.NewRegistry()
	registry.Register(domain.ChannelTypeWhatsAppCloud, func(domain.Channel) (provider.Provider, error) {
		return live, nil
	})
	sup := supervisor.NewSupervisor(registry, channelRepo, noopStatusProducer{})

	deliveryRepo := newMockDeliveryRepo()
	syncBackend := &fakeBackend{name: "channel_sync"}
	enqueuer := NewEnqueuer(
		&fakeBackend{name: "message_delivery"},
		&fakeBackend{name: "media_upload"},
		syncBackend,
		deliveryRepo, channelRepo, id.NewGenerator(),
	)
	return &handlerFixture{
		handler:     NewDeliveryHandler(sup, deliveryRepo, enqueuer),
		provider:    scripted,
		repo:        deliveryRepo,
		syncBackend: syncBackend,
	}
}

// checkingProvider layers a recipient lookup on top of scriptedProvider.
type checkingProvider struct {
	*scriptedProvider
	onNetwork bool
	checkErr  error
	checks    int
}

func (c *checkingProvider) IsNumberConnected(context.Context, string) (bool, error) {
	c.checks++
	if c.checkErr != nil {
		return false, c.checkErr
	}
	return c.onNetwork, nil
}

func deliveryJob(t *testing.T, msg domain.OutboundMessage) domain.Job {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	return domain.Job{ID: "j1", Kind: domain.JobKindMessageDelivery, ChannelID: msg.ChannelID, Payload: payload}
}

func TestDeliveryHandler_SuccessRecordsOutcome(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t, &scriptedProvider{state: domain.ConnStateConnected})
	msg := domain.OutboundMessage{ID: 10, ChannelID: 1, To: "5511999990001", Body: "Hello", ContentType: domain.ContentTypeText, DedupKey: "dk-1"}

	outcome := f.handler.Handle(context.Background(), deliveryJob(t, msg))

	assert.Equal(t, queue.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 1, f.provider.sends)
	assert.Equal(t, []string{"wamid.ok"}, f.repo.marked)
}

func TestDeliveryHandler_AlreadyDeliveredSkipsSend(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t, &scriptedProvider{state: domain.ConnStateConnected})
	msg := domain.OutboundMessage{ID: 10, ChannelID: 1, To: "5511999990001", Body: "Hello", ContentType: domain.ContentTypeText, DedupKey: "dk-1"}
	require.NoError(t, f.repo.MarkDelivered(context.Background(), 1, "dk-1", "wamid.prev"))

	outcome := f.handler.Handle(context.Background(), deliveryJob(t, msg))

	assert.Equal(t, queue.OutcomeSuccess, outcome.Kind)
	// the retried job must not reach the vendor again
	assert.Equal(t, 0, f.provider.sends)
}

func TestDeliveryHandler_SessionErrorTriggersSyncAndRetries(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{
		state:   domain.ConnStateConnected,
		sendErr: fmt.Errorf("%w: token expired", errs.ErrSessionInvalidated),
	}
	f := newHandlerFixture(t, p)
	msg := domain.OutboundMessage{ID: 10, ChannelID: 1, To: "5511999990001", Body: "Hello", ContentType: domain.ContentTypeText, DedupKey: "dk-1"}

	outcome := f.handler.Handle(context.Background(), deliveryJob(t, msg))

	assert.Equal(t, queue.OutcomeRetry, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, errs.ErrSessionInvalidated)
	assert.Equal(t, 1, f.syncBackend.count())
}

func TestDeliveryHandler_DisconnectedProviderRetriesAfterSync(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t, &scriptedProvider{state: domain.ConnStateDisconnected})
	msg := domain.OutboundMessage{ID: 10, ChannelID: 1, To: "5511999990001", Body: "Hello", ContentType: domain.ContentTypeText, DedupKey: "dk-1"}

	outcome := f.handler.Handle(context.Background(), deliveryJob(t, msg))

	assert.Equal(t, queue.OutcomeRetry, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, errs.ErrProviderNotConnected)
	// never hit the vendor while disconnected
	assert.Equal(t, 0, f.provider.sends)
	assert.Equal(t, 1, f.syncBackend.count())
}

func TestDeliveryHandler_ConfigurationErrorIsFatal(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{
		state:   domain.ConnStateConnected,
		sendErr: fmt.Errorf("%w: unknown recipient", errs.ErrInvalidParameter),
	}
	f := newHandlerFixture(t, p)
	msg := domain.OutboundMessage{ID: 10, ChannelID: 1, To: "not-a-number", Body: "Hello", ContentType: domain.ContentTypeText, DedupKey: "dk-1"}

	outcome := f.handler.Handle(context.Background(), deliveryJob(t, msg))

	assert.Equal(t, queue.OutcomeFatal, outcome.Kind)
	assert.Len(t, f.repo.failed, 1)
	assert.Empty(t, f.syncBackend.count())
}

func TestDeliveryHandler_CorruptPayloadIsFatal(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t, &scriptedProvider{state: domain.ConnStateConnected})

	outcome := f.handler.Handle(context.Background(), domain.Job{ID: "j1", Payload: []byte("{{")})

	assert.Equal(t, queue.OutcomeFatal, outcome.Kind)
}

func TestDeliveryHandler_UnknownRecipientIsFatal(t *testing.T) {
	t.Parallel()
	p := &checkingProvider{
		scriptedProvider: &scriptedProvider{state: domain.ConnStateConnected},
		onNetwork:        false,
	}
	f := newHandlerFixtureFor(t, p, p.scriptedProvider)
	msg := domain.OutboundMessage{ID: 10, ChannelID: 1, To: "5511000000000", Body: "Hello", ContentType: domain.ContentTypeText, DedupKey: "dk-1"}

	outcome := f.handler.Handle(context.Background(), deliveryJob(t, msg))

	assert.Equal(t, queue.OutcomeFatal, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, errs.ErrInvalidParameter)
	assert.Equal(t, 1, p.checks)
	// the vendor is never called for an address that does not exist
	assert.Equal(t, 0, f.provider.sends)
	assert.Equal(t, []string{"1:dk-1"}, f.repo.failed)
}

func TestDeliveryHandler_RecipientLookupErrorDoesNotBlockSend(t *testing.T) {
	t.Parallel()
	p := &checkingProvider{
		scriptedProvider: &scriptedProvider{state: domain.ConnStateConnected},
		checkErr:         fmt.Errorf("gateway lookup unavailable"),
	}
	f := newHandlerFixtureFor(t, p, p.scriptedProvider)
	msg := domain.OutboundMessage{ID: 10, ChannelID: 1, To: "5511999990001", Body: "Hello", ContentType: domain.ContentTypeText, DedupKey: "dk-1"}

	outcome := f.handler.Handle(context.Background(), deliveryJob(t, msg))

	assert.Equal(t, queue.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, 1, p.checks)
	assert.Equal(t, 1, f.provider.sends)
}
