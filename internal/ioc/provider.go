package ioc

import (
	"github.com/gotomicro/ego/core/econf"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider/baileys"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider/cloud"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider/metrics"
)

// InitProviderRegistry wires in every supported channel type. Providers are
// wrapped with the metrics decorator so every implementation reports the
// same way.
func InitProviderRegistry() *provider.Registry {
	type Config struct {
		CloudBaseURL string `yaml:"cloudBaseURL"`
	}
	var cfg Config
	if err := econf.UnmarshalKey("providers", &cfg); err != nil {
		panic(err)
	}
	if cfg.CloudBaseURL == "" {
		cfg.CloudBaseURL = "https://graph.facebook.com/v19.0"
	}

	registry := provider.NewRegistry()
	registry.Register(domain.ChannelTypeWhatsAppCloud, func(ch domain.Channel) (provider.Provider, error) {
		p, err := cloud.NewProvider(cfg.CloudBaseURL, ch)
		if err != nil {
			return nil, err
		}
		return metrics.NewProvider(p), nil
	})
	registry.Register(domain.ChannelTypeWhatsAppBaileys, func(ch domain.Channel) (provider.Provider, error) {
		p, err := baileys.NewProvider(ch)
		if err != nil {
			return nil, err
		}
		return metrics.NewProvider(p), nil
	})
	return registry
}
