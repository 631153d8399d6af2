//go:build unit

package baileys

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

func testChannel(gatewayURL string) domain.Channel {
	return domain.Channel{
		ID:   2,
		Type: domain.ChannelTypeWhatsAppBaileys,
		Config: domain.ChannelConfig{
			SessionID:  "sess-2",
			GatewayURL: gatewayURL,
		},
		Enabled: true,
	}
}

func TestNewProvider_RequiresSessionAndGateway(t *testing.T) {
	t.Parallel()
	_, err := NewProvider(domain.Channel{Config: domain.ChannelConfig{SessionID: "s"}})
	assert.ErrorIs(t, err, errs.ErrInvalidChannelConfig)
}

func TestProvider_PairingFlow(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/sessions/sess-2/start":
			_ = json.NewEncoder(w).Encode(map[string]string{"state": "pairing", "qr": "qr-blob-1"})
		case "/sessions/sess-2/qr":
			_ = json.NewEncoder(w).Encode(map[string]string{"qr": "qr-blob-2"})
		case "/sessions/sess-2/messages":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "B100"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, err := NewProvider(testChannel(srv.URL))
	require.NoError(t, err)
	ctx := context.Background()

	// QR code only exists once pairing has started
	_, err = p.GenerateQRCode(ctx)
	assert.ErrorIs(t, err, errs.ErrQRCodeUnavailable)

	require.NoError(t, p.Connect(ctx))
	status := p.Status(ctx)
	assert.Equal(t, domain.ConnStateConnecting, status.State)
	assert.Equal(t, "qr-blob-1", status.QRCode)

	// sending before the scan fails loudly
	_, err = p.SendMessage(ctx, domain.OutboundMessage{
		To: "5511999990001", Body: "Hello", ContentType: domain.ContentTypeText,
	})
	assert.ErrorIs(t, err, errs.ErrChannelNotPaired)

	qr, err := p.GenerateQRCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "qr-blob-2", qr)

	// the scan arrives as a gateway callback
	_, err = p.HandleWebhook(ctx, []byte(`{"event": "connection.update", "payload": {"state": "open"}}`))
	require.NoError(t, err)
	assert.True(t, p.Status(ctx).IsConnected())
	assert.Empty(t, p.Status(ctx).QRCode)

	res, err := p.SendMessage(ctx, domain.OutboundMessage{
		To: "5511999990001", Body: "Hello", ContentType: domain.ContentTypeText,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "B100", res.ProviderMessageID)
}

func TestProvider_LoggedOutInvalidatesSession(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"state": "open"})
	}))
	defer srv.Close()

	p, err := NewProvider(testChannel(srv.URL))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))
	require.True(t, p.Status(ctx).IsConnected())

	_, err = p.HandleWebhook(ctx, []byte(`{"event": "connection.update", "payload": {"state": "logged_out", "error": "device unlinked"}}`))
	require.NoError(t, err)
	status := p.Status(ctx)
	assert.Equal(t, domain.ConnStateError, status.State)
	assert.Equal(t, "device unlinked", status.Detail)

	_, err = p.SendMessage(ctx, domain.OutboundMessage{
		To: "5511999990001", Body: "Hello", ContentType: domain.ContentTypeText,
	})
	assert.ErrorIs(t, err, errs.ErrProviderNotConnected)
}

func TestProvider_MessageEventsGoThroughNormalizer(t *testing.T) {
	t.Parallel()
	p, err := NewProvider(testChannel("http://gateway.local"))
	require.NoError(t, err)

	res, err := p.HandleWebhook(context.Background(), []byte(`{
		"event": "messages.upsert",
		"payload": {
			"messages": [{
				"key": {"id": "B1", "remoteJid": "5511999990001@s.whatsapp.net"},
				"messageTimestamp": 1714000000,
				"message": {"conversation": "oi"}
			}]
		}
	}`))
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "oi", res.Messages[0].Body)
	assert.Equal(t, int64(2), res.Messages[0].ChannelID)
}

func TestProvider_IsNumberConnected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/sessions/sess-2/numbers/5511999990001/exists":
			_ = json.NewEncoder(w).Encode(map[string]any{"exists": true, "jid": "5511999990001@s.whatsapp.net"})
		case "/sessions/sess-2/numbers/5500000000000/exists":
			_ = json.NewEncoder(w).Encode(map[string]any{"exists": false})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, err := NewProvider(testChannel(srv.URL))
	require.NoError(t, err)
	ctx := context.Background()

	on, err := p.IsNumberConnected(ctx, "5511999990001")
	require.NoError(t, err)
	assert.True(t, on)

	on, err = p.IsNumberConnected(ctx, "5500000000000")
	require.NoError(t, err)
	assert.False(t, on)

	_, err = p.IsNumberConnected(ctx, "")
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)
}
