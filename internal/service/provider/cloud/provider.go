package cloud

import (
	"bytes"
	"context"
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

const defaultRequestTimeout = 15 * time.Second

var _ provider.Provider = (*Provider)(nil)

// Provider talks to the WhatsApp Cloud API with static token auth. It is
// synchronously ready: Connect validates the token against the vendor and the
// session is usable immediately after.
type Provider struct {
	channel    domain.Channel
	client     *resty.Client
	normalizer *webhook.CloudNormalizer
	logger     *elog.Component

	mu           sync.RWMutex
	state        domain.ConnState
	lastActivity time.Time
	detail       string
}

// NewProvider validates the credential blob up front; a channel without token
// or phone number id can never connect.
func NewProvider(baseURL string, ch domain.Channel) (*Provider, error) {
	if ch.Config.AccessToken == "" || ch.Config.PhoneNumberID == "" {
		return nil, fmt.Errorf("%w: cloud channel requires accessToken and phoneNumberId", errs.ErrInvalidChannelConfig)
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultRequestTimeout).
		SetAuthToken(ch.Config.AccessToken)
	return &Provider{
		channel:    ch,
		client:     client,
		normalizer: webhook.NewCloudNormalizer(ch.ID),
		logger:     elog.DefaultLogger.With(elog.Int64("channelID", ch.ID)),
		state:      domain.ConnStateDisconnected,
	}, nil
}

func (p *Provider) Type() domain.ChannelType {
	return domain.ChannelTypeWhatsAppCloud
}

func (p *Provider) Connect(ctx context.Context) error {
	p.setState(domain.ConnStateConnecting, "")

	var errBody cloudErrorBody
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("fields", "verified_name").
		SetError(&errBody).
		Get("/" + p.channel.Config.PhoneNumberID)
	if err != nil {
		p.setState(domain.ConnStateDisconnected, err.Error())
		return fmt.Errorf("cloud credential validation failed: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		p.setState(domain.ConnStateError, errBody.Error.Message)
		return fmt.Errorf("%w: %s", errs.ErrSessionInvalidated, errBody.Error.Message)
	}
	if resp.IsError() {
		p.setState(domain.ConnStateDisconnected, errBody.Error.Message)
		return fmt.Errorf("cloud credential validation returned %d: %s", resp.StatusCode(), errBody.Error.Message)
	}
	p.setState(domain.ConnStateConnected, "")
	return nil
}

func (p *Provider) Disconnect(_ context.Context) error {
	// no vendor-side session to tear down with token auth
	p.setState(domain.ConnStateDisconnected, "")
	return nil
}

func (p *Provider) Status(_ context.Context) domain.ProviderStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return domain.ProviderStatus{
		State:          p.state,
		LastActivityAt: p.lastActivity,
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
	if !p.Status(ctx).IsConnected() {
		return domain.MessageResult{}, fmt.Errorf("%w: channel %d", errs.ErrProviderNotConnected, p.channel.ID)
	}

	var out cloudSendResponse
	var errBody cloudErrorBody
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&errBody).
		Post("/" + p.channel.Config.PhoneNumberID + "/messages")
	if err != nil {
		// timeouts and transport failures are retryable
		return domain.MessageResult{}, fmt.Errorf("%w: %w", errs.ErrSendMessageFailed, err)
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		p.setState(domain.ConnStateError, errBody.Error.Message)
		return domain.MessageResult{}, fmt.Errorf("%w: %s", errs.ErrSessionInvalidated, errBody.Error.Message)
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError:
		return domain.MessageResult{}, fmt.Errorf("%w: vendor returned %d: %s", errs.ErrSendMessageFailed, resp.StatusCode(), errBody.Error.Message)
	case resp.IsError():
		return domain.MessageResult{}, fmt.Errorf("%w: vendor rejected message: %s", errs.ErrInvalidParameter, errBody.Error.Message)
	}
	if len(out.Messages) == 0 {
		return domain.MessageResult{}, fmt.Errorf("%w: vendor response without message id", errs.ErrSendMessageFailed)
	}
	p.touch()
	return domain.MessageResult{
		Success:           true,
		ProviderMessageID: out.Messages[0].ID,
		Status:            domain.DeliveryStatusSent,
	}, nil
}

func (p *Provider) UploadMedia(ctx context.Context, m provider.Media) (string, error) {
	if !p.Status(ctx).IsConnected() {
		return "", fmt.Errorf("%w: channel %d", errs.ErrProviderNotConnected, p.channel.ID)
	}
	var out struct {
		ID string `json:"id"`
	}
	var errBody cloudErrorBody
	resp, err := p.client.R().
		SetContext(ctx).
		SetFileReader("file", m.Filename, bytes.NewReader(m.Data)).
		SetFormData(map[string]string{
			"messaging_product": "whatsapp",
			"type":              m.MimeType,
		}).
		SetResult(&out).
		SetError(&errBody).
		Post("/" + p.channel.Config.PhoneNumberID + "/media")
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrSendMessageFailed, err)
	}
	if resp.IsError() || out.ID == "" {
		return "", fmt.Errorf("%w: media upload returned %d: %s", errs.ErrSendMessageFailed, resp.StatusCode(), errBody.Error.Message)
	}
	p.touch()
	return out.ID, nil
}

func (p *Provider) HandleWebhook(_ context.Context, payload []byte) (provider.WebhookResult, error) {
	res, err := p.normalizer.Normalize(payload)
	if err == nil {
		p.touch()
	}
	return res, err
}

type cloudSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type cloudErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// outbound content types the Cloud API accepts
var cloudOutboundTypes = map[domain.ContentType]string{
	domain.ContentTypeText:     "text",
	domain.ContentTypeImage:    "image",
	domain.ContentTypeAudio:    "audio",
	domain.ContentTypeVideo:    "video",
	domain.ContentTypeDocument: "document",
	domain.ContentTypeTemplate: "template",
}

func (p *Provider) buildSendBody(msg domain.OutboundMessage) (map[string]any, error) {
	wireType, ok := cloudOutboundTypes[msg.ContentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrUnsupportedContentType, msg.ContentType)
	}
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.To,
		"type":              wireType,
	}
	switch msg.ContentType {
	case domain.ContentTypeText:
		body["text"] = map[string]any{"body": msg.Body}
	case domain.ContentTypeTemplate:
		body["template"] = map[string]any{
			"name":     msg.Body,
			"language": map[string]any{"code": "pt_BR"},
		}
	default:
		media := map[string]any{}
		if msg.MediaID != "" {
			media["id"] = msg.MediaID
		} else {
			media["link"] = msg.MediaURL
		}
		if msg.Caption != "" {
			media["caption"] = msg.Caption
		}
		body[wireType] = media
	}
	return body, nil
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
