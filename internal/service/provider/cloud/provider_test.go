//go:build unit

package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChannel() domain.Channel {
	return domain.Channel{
		ID:   1,
		Type: domain.ChannelTypeWhatsAppCloud,
		Config: domain.ChannelConfig{
			AccessToken:   "token-123",
			PhoneNumberID: "5500000000",
		},
		Enabled: true,
	}
}

func TestNewProvider_RequiresCredentials(t *testing.T) {
	t.Parallel()
	ch := testChannel()
	ch.Config.AccessToken = ""
	_, err := NewProvider("https://graph.example", ch)
	assert.ErrorIs(t, err, errs.ErrInvalidChannelConfig)
}

func TestProvider_ConnectAndSend(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/5500000000":
			assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{"verified_name": "ACME"})
		case r.Method == http.MethodPost && r.URL.Path == "/5500000000/messages":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "whatsapp", body["messaging_product"])
			assert.Equal(t, "text", body["type"])
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "wamid.sent.1"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, err := NewProvider(srv.URL, testChannel())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	assert.True(t, p.Status(ctx).IsConnected())

	res, err := p.SendMessage(ctx, domain.OutboundMessage{
		ChannelID:   1,
		To:          "5511999990001",
		Body:        "Hello",
		ContentType: domain.ContentTypeText,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "wamid.sent.1", res.ProviderMessageID)
	assert.Equal(t, domain.DeliveryStatusSent, res.Status)
}

func TestProvider_SendWhileDisconnected(t *testing.T) {
	t.Parallel()
	p, err := NewProvider("https://graph.example", testChannel())
	require.NoError(t, err)

	_, err = p.SendMessage(context.Background(), domain.OutboundMessage{
		To:          "5511999990001",
		Body:        "Hello",
		ContentType: domain.ContentTypeText,
	})
	assert.ErrorIs(t, err, errs.ErrProviderNotConnected)
}

func TestProvider_RevokedTokenInvalidatesSession(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(map[string]any{"verified_name": "ACME"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Access token has expired", "code": 190},
		})
	}))
	defer srv.Close()

	p, err := NewProvider(srv.URL, testChannel())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))

	_, err = p.SendMessage(ctx, domain.OutboundMessage{
		To:          "5511999990001",
		Body:        "Hello",
		ContentType: domain.ContentTypeText,
	})
	assert.ErrorIs(t, err, errs.ErrSessionInvalidated)
	assert.Equal(t, domain.ConnStateError, p.Status(ctx).State)
}

func TestProvider_ServerErrorIsRetryable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(map[string]any{"verified_name": "ACME"})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewProvider(srv.URL, testChannel())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))

	_, err = p.SendMessage(ctx, domain.OutboundMessage{
		To:          "5511999990001",
		Body:        "Hello",
		ContentType: domain.ContentTypeText,
	})
	assert.ErrorIs(t, err, errs.ErrSendMessageFailed)
	// transient vendor failures must not flip the session state
	assert.True(t, p.Status(ctx).IsConnected())
}

func TestProvider_UnsupportedContentType(t *testing.T) {
	t.Parallel()
	p, err := NewProvider("https://graph.example", testChannel())
	require.NoError(t, err)

	_, err = p.SendMessage(context.Background(), domain.OutboundMessage{
		To:          "5511999990001",
		ContentType: "sticker_pack",
	})
	assert.ErrorIs(t, err, errs.ErrUnsupportedContentType)
}
