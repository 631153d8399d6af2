package provider

import (
	"fmt"

	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
)

// Factory builds a provider instance bound to one channel's credentials.
type Factory func(ch domain.Channel) (Provider, error)

// Registry is the single place channel types are wired in. Queue, worker and
// normalizer code never switch on channel type.
type Registry struct {
	factories map[domain.ChannelType]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[domain.ChannelType]Factory),
	}
}

// Register wires in a channel type. Last registration wins; done once at startup.
func (r *Registry) Register(t domain.ChannelType, f Factory) {
	r.factories[t] = f
}

// Create builds a fresh provider for the channel's type.
func (r *Registry) Create(ch domain.Channel) (Provider, error) {
	f, ok := r.factories[ch.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrUnsupportedChannelType, ch.Type)
	}
	return f(ch)
}

// SupportedTypes reports the channel types wired in at startup.
func (r *Registry) SupportedTypes() []domain.ChannelType {
	types := make([]domain.ChannelType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}

// Supports reports whether t has a registered factory.
func (r *Registry) Supports(t domain.ChannelType) bool {
	_, ok := r.factories[t]
	return ok
}
