//go:build unit

package web

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/event/channelstatus"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/event/inbound"
	id "github.com/hidekivinicius2050/chatbot-sub002/internal/pkg/id_generator"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/queue"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/dispatch"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/supervisor"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	mu   sync.Mutex
	name string
	jobs []domain.Job
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Enqueue(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *stubBackend) Dequeue(context.Context, time.Duration) (domain.Job, error) {
	return domain.Job{}, queue.ErrNoJob
}

func (s *stubBackend) Requeue(context.Context, domain.Job, time.Duration) error { return nil }
func (s *stubBackend) MarkSucceeded(context.Context, domain.Job) error          { return nil }
func (s *stubBackend) MarkFailed(context.Context, domain.Job) error             { return nil }
func (s *stubBackend) Cancel(context.Context, string) error                     { return nil }
func (s *stubBackend) PromoteDue(context.Context, time.Time) (int, error)       { return 0, nil }

type stubChannelRepo struct {
	channels map[int64]domain.Channel
}

func (s *stubChannelRepo) Create(_ context.Context, ch domain.Channel) (domain.Channel, error) {
	return ch, nil
}

func (s *stubChannelRepo) GetByID(_ context.Context, id int64) (domain.Channel, error) {
	ch, ok := s.channels[id]
	if !ok {
		return domain.Channel{}, fmt.Errorf("%w: id=%d", errs.ErrChannelNotFound, id)
	}
	return ch, nil
}

func (s *stubChannelRepo) FindEnabled(context.Context) ([]domain.Channel, error) { return nil, nil }
func (s *stubChannelRepo) UpdateStatus(context.Context, domain.Channel) error    { return nil }
func (s *stubChannelRepo) Disable(context.Context, int64) error                  { return nil }

type stubDeliveryRepo struct{}

func (stubDeliveryRepo) Ensure(context.Context, domain.OutboundMessage) error { return nil }
func (stubDeliveryRepo) WasDelivered(context.Context, int64, string) (bool, error) {
	return false, nil
}
func (stubDeliveryRepo) MarkDelivered(context.Context, int64, string, string) error { return nil }
func (stubDeliveryRepo) MarkFailed(context.Context, int64, string, string) error    { return nil }
func (stubDeliveryRepo) ApplyStatusUpdate(context.Context, domain.StatusUpdate) error {
	return nil
}

type stubIdempotency struct{}

func (stubIdempotency) Exists(context.Context, string) (bool, error) { return false, nil }
func (stubIdempotency) Remove(context.Context, string) error         { return nil }
func (stubIdempotency) MExists(_ context.Context, keys ...string) ([]bool, error) {
	return make([]bool, len(keys)), nil
}

type stubInboundProducer struct {
	mu     sync.Mutex
	events []inbound.MessagesEvent
}

func (s *stubInboundProducer) Produce(_ context.Context, evt inbound.MessagesEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

type noopStatusProducer struct{}

func (noopStatusProducer) Produce(context.Context, channelstatus.StatusEvent) error { return nil }

type stubProvider struct {
	channelID int64
}

func (p *stubProvider) Type() domain.ChannelType { return domain.ChannelTypeWhatsAppCloud }

func (p *stubProvider) Connect(context.Context) error { return nil }

func (p *stubProvider) Disconnect(context.Context) error { return nil }

func (p *stubProvider) Status(context.Context) domain.ProviderStatus {
	return domain.ProviderStatus{State: domain.ConnStateConnected}
}

func (p *stubProvider) SendMessage(context.Context, domain.OutboundMessage) (domain.MessageResult, error) {
	return domain.MessageResult{Success: true, ProviderMessageID: "wamid.1", Status: domain.DeliveryStatusSent}, nil
}

func (p *stubProvider) UploadMedia(context.Context, provider.Media) (string, error) {
	return "media-1", nil
}

func (p *stubProvider) HandleWebhook(_ context.Context, payload []byte) (provider.WebhookResult, error) {
	return webhook.NewCloudNormalizer(p.channelID).Normalize(payload)
}

type serverFixture struct {
	server   *Server
	delivery *stubBackend
	producer *stubInboundProducer
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	channelRepo := &stubChannelRepo{channels: map[int64]domain.Channel{
		1: {
			ID:       1,
			TenantID: 100,
			Type:     domain.ChannelTypeWhatsAppCloud,
			Status:   domain.ChannelStatusConnected,
			Config: domain.ChannelConfig{
				WebhookSecret: "s3cret",
				VerifyToken:   "verify-me",
			},
			Enabled: true,
		},
	}}
	registry := provider.NewRegistry()
	registry.Register(domain.ChannelTypeWhatsAppCloud, func(ch domain.Channel) (provider.Provider, error) {
		return &stubProvider{channelID: ch.ID}, nil
	})
	sup := supervisor.NewSupervisor(registry, channelRepo, noopStatusProducer{})

	delivery := &stubBackend{name: "message_delivery"}
	enqueuer := dispatch.NewEnqueuer(
		delivery,
		&stubBackend{name: "media_upload"},
		&stubBackend{name: "channel_sync"},
		stubDeliveryRepo{}, channelRepo, id.NewGenerator(),
	)
	producer := &stubInboundProducer{}
	processor := dispatch.NewInboundProcessor(sup,
		webhook.NewInboundDeduper(stubIdempotency{}), producer, stubDeliveryRepo{})

	return &serverFixture{
		server:   NewServer(":0", enqueuer, processor, sup, channelRepo),
		delivery: delivery,
		producer: producer,
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestServer_MetaVerificationChallenge(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/cloud/1?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	f.server.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())
}

func TestServer_MetaVerificationWrongToken(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/cloud/1?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	w := httptest.NewRecorder()
	f.server.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_CloudWebhookSignature(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t)
	body := []byte(`{
		"entry": [{"changes": [{"value": {"messages": [
			{"from": "5511999990001", "id": "wamid.in1", "type": "text", "text": {"body": "oi"}}
		]}}]}]
	}`)

	// unsigned request is refused
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cloud/1", bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.server.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.producer.events)

	// properly signed request lands in the inbound pipeline
	req = httptest.NewRequest(http.MethodPost, "/webhooks/cloud/1", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("s3cret", body))
	w = httptest.NewRecorder()
	f.server.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.producer.events, 1)
	require.Len(t, f.producer.events[0].Messages, 1)
	assert.Equal(t, "wamid.in1", f.producer.events[0].Messages[0].ProviderMessageID)
}

func TestServer_EnqueueMessage(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t)

	body := `{"channelId": 1, "to": "5511999990001", "body": "Hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["jobId"])
	assert.Len(t, f.delivery.jobs, 1)
}

func TestServer_EnqueueMessageValidation(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewBufferString(`{"to": "x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/messages",
		bytes.NewBufferString(`{"channelId": 404, "to": "x", "body": "hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	f.server.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ChannelStatus(t *testing.T) {
	t.Parallel()
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/1/status", nil)
	w := httptest.NewRecorder()
	f.server.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		State     string `json:"state"`
		Connected bool   `json:"connected"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "connected", resp.State)
	assert.True(t, resp.Connected)
}

func TestValidCloudSignature(t *testing.T) {
	t.Parallel()
	body := []byte(`{"entry": []}`)
	assert.True(t, validCloudSignature("s3cret", body, sign("s3cret", body)))
	assert.False(t, validCloudSignature("s3cret", body, sign("other", body)))
	assert.False(t, validCloudSignature("s3cret", body, ""))
	// empty secret means the channel opted out of signing
	assert.True(t, validCloudSignature("", body, ""))
}
