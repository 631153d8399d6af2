// Package metrics decorates a provider with send metrics.
package metrics

import (
	"context"
	"time"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider"
	"github.com/prometheus/client_golang/prometheus"
)

var _ provider.Provider = (*Provider)(nil)

// Provider wraps another provider and records send counters and latency.
type Provider struct {
	provider            provider.Provider
	sendDurationSummary *prometheus.SummaryVec
	sendCounter         *prometheus.CounterVec
	sendStatusCounter   *prometheus.CounterVec
}

var (
	sendDurationSummary = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "provider_send_duration_seconds",
			Help:       "provider send latency in seconds",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.95: 0.005, 0.99: 0.001},
			MaxAge:     time.Minute * 5,
		},
		[]string{"channel_type", "status"},
	)

	sendCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_send_total",
			Help: "total provider send attempts",
		},
		[]string{"channel_type"},
	)

	sendStatusCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_send_status_total",
			Help: "provider send attempts by resulting status",
		},
		[]string{"channel_type", "status"},
	)
)

func init() {
	prometheus.MustRegister(sendDurationSummary, sendCounter, sendStatusCounter)
}

func NewProvider(p provider.Provider) *Provider {
	return &Provider{
		provider:            p,
		sendDurationSummary: sendDurationSummary,
		sendCounter:         sendCounter,
		sendStatusCounter:   sendStatusCounter,
	}
}

func (p *Provider) Type() domain.ChannelType {
	return p.provider.Type()
}

func (p *Provider) Connect(ctx context.Context) error {
	return p.provider.Connect(ctx)
}

func (p *Provider) Disconnect(ctx context.Context) error {
	return p.provider.Disconnect(ctx)
}

func (p *Provider) Status(ctx context.Context) domain.ProviderStatus {
	return p.provider.Status(ctx)
}

func (p *Provider) SendMessage(ctx context.Context, msg domain.OutboundMessage) (domain.MessageResult, error) {
	startTime := time.Now()
	channelType := string(p.provider.Type())

	p.sendCounter.WithLabelValues(channelType).Inc()

	result, err := p.provider.SendMessage(ctx, msg)

	status := string(result.Status)
	if err != nil {
		status = string(domain.DeliveryStatusFailed)
	}
	p.sendStatusCounter.WithLabelValues(channelType, status).Inc()
	p.sendDurationSummary.WithLabelValues(channelType, status).Observe(time.Since(startTime).Seconds())

	return result, err
}

func (p *Provider) UploadMedia(ctx context.Context, m provider.Media) (string, error) {
	return p.provider.UploadMedia(ctx, m)
}

func (p *Provider) HandleWebhook(ctx context.Context, payload []byte) (provider.WebhookResult, error) {
	return p.provider.HandleWebhook(ctx, payload)
}

// Unwrap exposes the decorated provider for capability checks
// (QRCodePairer, NumberChecker).
func (p *Provider) Unwrap() provider.Provider {
	return p.provider
}
