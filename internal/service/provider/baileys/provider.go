package baileys

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gotomicro/ego/core/elog"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/webhook"
)

const defaultRequestTimeout = 20 * time.Second

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.QRCodePairer  = (*Provider)(nil)
	_ provider.NumberChecker = (*Provider)(nil)
)

// Provider drives a self-hosted multi-device WhatsApp session through a local
// gateway. Connect only starts pairing; the session becomes usable after the
// tenant scans the QR code and the gateway reports the connection open.
type Provider struct {
	channel    domain.Channel
	client     *resty.Client
	normalizer *webhook.BaileysNormalizer
	logger     *elog.Component

	mu           sync.RWMutex
	state        domain.ConnState
	started      bool
	qrCode       string
	lastActivity time.Time
	detail       string
}

func NewProvider(ch domain.Channel) (*Provider, error) {
	if ch.Config.SessionID == "" || ch.Config.GatewayURL == "" {
		return nil, fmt.Errorf("%w: baileys channel requires sessionId and gatewayUrl", errs.ErrInvalidChannelConfig)
	}
	client := resty.New().
		SetBaseURL(ch.Config.GatewayURL).
		SetTimeout(defaultRequestTimeout)
	if ch.Config.WebhookSecret != "" {
		client.SetHeader("X-Gateway-Token", ch.Config.WebhookSecret)
	}
	return &Provider{
		channel:    ch,
		client:     client,
		normalizer: webhook.NewBaileysNormalizer(ch.ID),
		logger:     elog.DefaultLogger.With(elog.Int64("channelID", ch.ID)),
		state:      domain.ConnStateDisconnected,
	}, nil
}

func (p *Provider) Type() domain.ChannelType {
	return domain.ChannelTypeWhatsAppBaileys
}

// Connect starts (or resumes) the gateway session. A stored session that is
// still valid comes back "open" immediately; otherwise the gateway begins
// pairing and hands out a QR code.
func (p *Provider) Connect(ctx context.Context) error {
	p.setState(domain.ConnStateConnecting, "")

	var out sessionStateBody
	var errBody gatewayErrorBody
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errBody).
		Post("/sessions/" + p.channel.Config.SessionID + "/start")
	if err != nil {
		p.setState(domain.ConnStateDisconnected, err.Error())
		return fmt.Errorf("gateway session start failed: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusGone {
		p.setState(domain.ConnStateError, errBody.Message)
		return fmt.Errorf("%w: %s", errs.ErrSessionInvalidated, errBody.Message)
	}
	if resp.IsError() {
		p.setState(domain.ConnStateDisconnected, errBody.Message)
		return fmt.Errorf("gateway session start returned %d: %s", resp.StatusCode(), errBody.Message)
	}

	p.mu.Lock()
	p.started = true
	p.qrCode = out.QR
	p.applyGatewayStateLocked(out.State, "")
	p.mu.Unlock()
	return nil
}

func (p *Provider) Disconnect(ctx context.Context) error {
	_, err := p.client.R().
		SetContext(ctx).
		Post("/sessions/" + p.channel.Config.SessionID + "/logout")
	p.mu.Lock()
	p.started = false
	p.qrCode = ""
	p.state = domain.ConnStateDisconnected
	p.detail = ""
	p.lastActivity = time.Now()
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("gateway logout failed: %w", err)
	}
	return nil
}

func (p *Provider) Status(_ context.Context) domain.ProviderStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return domain.ProviderStatus{
		State:          p.state,
		LastActivityAt: p.lastActivity,
		QRCode:         p.qrCode,
		Detail:         p.detail,
	}
}

func (p *Provider) SendMessage(ctx context.Context, msg domain.OutboundMessage) (domain.MessageResult, error) {
	if msg.To == "" {
		return domain.MessageResult{}, fmt.Errorf("%w: empty destination", errs.ErrInvalidParameter)
	}
	body, err := p.buildSendBody(msg)
	if err != nil {
		return domain.MessageResult{}, err
	}

	status := p.Status(ctx)
	if status.State == domain.ConnStateConnecting {
		// still waiting for the QR scan; sending must fail loudly, not queue
		return domain.MessageResult{}, fmt.Errorf("%w: channel %d", errs.ErrChannelNotPaired, p.channel.ID)
	}
	if !status.IsConnected() {
		return domain.MessageResult{}, fmt.Errorf("%w: channel %d", errs.ErrProviderNotConnected, p.channel.ID)
	}

	var out struct {
		ID string `json:"id"`
	}
	var errBody gatewayErrorBody
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&errBody).
		Post("/sessions/" + p.channel.Config.SessionID + "/messages")
	if err != nil {
		return domain.MessageResult{}, fmt.Errorf("%w: %w", errs.ErrSendMessageFailed, err)
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusGone:
		p.setState(domain.ConnStateError, errBody.Message)
		return domain.MessageResult{}, fmt.Errorf("%w: %s", errs.ErrSessionInvalidated, errBody.Message)
	case resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests:
		return domain.MessageResult{}, fmt.Errorf("%w: gateway returned %d: %s", errs.ErrSendMessageFailed, resp.StatusCode(), errBody.Message)
	case resp.IsError():
		return domain.MessageResult{}, fmt.Errorf("%w: gateway rejected message: %s", errs.ErrInvalidParameter, errBody.Message)
	}
	if out.ID == "" {
		return domain.MessageResult{}, fmt.Errorf("%w: gateway response without message id", errs.ErrSendMessageFailed)
	}
	p.touch()
	return domain.MessageResult{
		Success:           true,
		ProviderMessageID: out.ID,
		Status:            domain.DeliveryStatusSent,
	}, nil
}

func (p *Provider) UploadMedia(ctx context.Context, m provider.Media) (string, error) {
	// the gateway stores media alongside the session and hands back a handle
	var out struct {
		ID string `json:"id"`
	}
	var errBody gatewayErrorBody
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", m.MimeType).
		SetHeader("X-Filename", m.Filename).
		SetBody(m.Data).
		SetResult(&out).
		SetError(&errBody).
		Post("/sessions/" + p.channel.Config.SessionID + "/media")
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrSendMessageFailed, err)
	}
	if resp.IsError() || out.ID == "" {
		return "", fmt.Errorf("%w: media upload returned %d: %s", errs.ErrSendMessageFailed, resp.StatusCode(), errBody.Message)
	}
	return out.ID, nil
}

// GenerateQRCode returns the current pairing artifact. It requires Connect to
// have started the session first.
func (p *Provider) GenerateQRCode(ctx context.Context) (string, error) {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return "", fmt.Errorf("%w: session %s not started", errs.ErrQRCodeUnavailable, p.channel.Config.SessionID)
	}

	var out struct {
		QR string `json:"qr"`
	}
	var errBody gatewayErrorBody
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errBody).
		Get("/sessions/" + p.channel.Config.SessionID + "/qr")
	if err != nil {
		return "", fmt.Errorf("gateway qr fetch failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("gateway qr fetch returned %d: %s", resp.StatusCode(), errBody.Message)
	}
	p.mu.Lock()
	p.qrCode = out.QR
	p.mu.Unlock()
	return out.QR, nil
}

func (p *Provider) IsNumberConnected(ctx context.Context, address string) (bool, error) {
	if address == "" {
		return false, fmt.Errorf("%w: empty address", errs.ErrInvalidParameter)
	}
	var out struct {
		Exists bool   `json:"exists"`
		Jid    string `json:"jid"`
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/sessions/" + p.channel.Config.SessionID + "/numbers/" + address + "/exists")
	if err != nil {
		return false, fmt.Errorf("gateway number check failed: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("gateway number check returned %d", resp.StatusCode())
	}
	return out.Exists, nil
}

// HandleWebhook consumes gateway callbacks. Connection updates move the local
// state machine (this is the external pairing event); everything else goes
// through the normalizer.
func (p *Provider) HandleWebhook(_ context.Context, payload []byte) (provider.WebhookResult, error) {
	var envelope struct {
		Event   string `json:"event"`
		Payload struct {
			State string `json:"state"`
			QR    string `json:"qr"`
			Error string `json:"error"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return provider.WebhookResult{}, fmt.Errorf("%w: %w", errs.ErrMalformedPayload, err)
	}
	if envelope.Event == "connection.update" {
		p.mu.Lock()
		if envelope.Payload.QR != "" {
			p.qrCode = envelope.Payload.QR
		}
		p.applyGatewayStateLocked(envelope.Payload.State, envelope.Payload.Error)
		p.mu.Unlock()
		return provider.WebhookResult{}, nil
	}
	res, err := p.normalizer.Normalize(payload)
	if err == nil {
		p.touch()
	}
	return res, err
}

type sessionStateBody struct {
	State string `json:"state"`
	QR    string `json:"qr"`
}

type gatewayErrorBody struct {
	Message string `json:"message"`
}

// outbound content types the gateway accepts
var gatewayOutboundTypes = map[domain.ContentType]string{
	domain.ContentTypeText:     "text",
	domain.ContentTypeImage:    "image",
	domain.ContentTypeAudio:    "audio",
	domain.ContentTypeVideo:    "video",
	domain.ContentTypeDocument: "document",
}

func (p *Provider) buildSendBody(msg domain.OutboundMessage) (map[string]any, error) {
	wireType, ok := gatewayOutboundTypes[msg.ContentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrUnsupportedContentType, msg.ContentType)
	}
	body := map[string]any{
		"jid":  msg.To + "@s.whatsapp.net",
		"type": wireType,
	}
	if msg.ContentType == domain.ContentTypeText {
		body["text"] = msg.Body
		return body, nil
	}
	media := map[string]any{}
	if msg.MediaID != "" {
		media["id"] = msg.MediaID
	} else {
		media["url"] = msg.MediaURL
	}
	if msg.Caption != "" {
		media["caption"] = msg.Caption
	}
	body["media"] = media
	return body, nil
}

// applyGatewayStateLocked maps the gateway's connection states onto the shared
// state machine. Callers hold p.mu.
func (p *Provider) applyGatewayStateLocked(state, detail string) {
	switch state {
	case "open":
		p.state = domain.ConnStateConnected
		p.qrCode = ""
		p.detail = ""
	case "connecting", "pairing":
		p.state = domain.ConnStateConnecting
		p.detail = detail
	case "close", "logged_out":
		p.state = domain.ConnStateError
		p.detail = detail
	}
	p.lastActivity = time.Now()
}

func (p *Provider) setState(state domain.ConnState, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	p.detail = detail
	p.lastActivity = time.Now()
}

func (p *Provider) touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastActivity = time.Now()
}
