package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/domain"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/errs"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/event/channelstatus"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/repository"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/provider"
)

// Supervisor owns the live provider instance of every channel. Workers look
// providers up here; nothing else constructs them. All state-mutating provider
// calls go through the per-channel lock so a reconnect never races a send.
type Supervisor struct {
	registry       *provider.Registry
	repo           repository.ChannelRepository
	statusProducer channelstatus.StatusEventProducer
	logger         *elog.Component

	mu        sync.Mutex
	providers map[int64]provider.Provider
	locks     map[int64]*sync.Mutex
}

func NewSupervisor(
	registry *provider.Registry,
	repo repository.ChannelRepository,
	statusProducer channelstatus.StatusEventProducer,
) *Supervisor {
	return &Supervisor{
		registry:       registry,
		repo:           repo,
		statusProducer: statusProducer,
		logger:         elog.DefaultLogger,
		providers:      make(map[int64]provider.Provider),
		locks:          make(map[int64]*sync.Mutex),
	}
}

// Provider returns the channel's live provider, creating it on first use.
func (s *Supervisor) Provider(ctx context.Context, channelID int64) (provider.Provider, error) {
	s.mu.Lock()
	if p, ok := s.providers[channelID]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	ch, err := s.repo.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.Enabled {
		return nil, fmt.Errorf("%w: id=%d", errs.ErrChannelDisabled, channelID)
	}
	p, err := s.registry.Create(ch)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// another caller may have won the race; keep the single live instance
	if existing, ok := s.providers[channelID]; ok {
		return existing, nil
	}
	s.providers[channelID] = p
	return p, nil
}

// WithLock runs fn holding the channel's exclusive section. Use for any
// state-mutating provider call (send, connect, disconnect).
func (s *Supervisor) WithLock(ctx context.Context, channelID int64, fn func(p provider.Provider) error) error {
	p, err := s.Provider(ctx, channelID)
	if err != nil {
		return err
	}
	lock := s.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()
	return fn(p)
}

// Status is read-only and does not take the channel lock. Before the first
// provider call it falls back to the durable projection.
func (s *Supervisor) Status(ctx context.Context, channelID int64) (domain.ProviderStatus, error) {
	s.mu.Lock()
	p, ok := s.providers[channelID]
	s.mu.Unlock()
	if ok {
		return p.Status(ctx), nil
	}
	ch, err := s.repo.GetByID(ctx, channelID)
	if err != nil {
		return domain.ProviderStatus{}, err
	}
	return domain.ProviderStatus{
		State:          projectedConnState(ch.Status),
		LastActivityAt: ch.LastActivityAt,
		QRCode:         ch.QRCode,
		Detail:         ch.StatusReason,
	}, nil
}

// SyncChannel revalidates one channel's connection: reconnects if needed,
// refreshes the pairing artifact, and projects the result onto the channel
// row. Runs under the channel lock so in-flight sends are never interrupted.
func (s *Supervisor) SyncChannel(ctx context.Context, channelID int64) error {
	return s.WithLock(ctx, channelID, func(p provider.Provider) error {
		// the row is read under the lock; project compares new status against
		// this snapshot, so a transition committed by a concurrent sync is
		// neither re-announced nor suppressed
		ch, err := s.repo.GetByID(ctx, channelID)
		if err != nil {
			return err
		}
		if !ch.Enabled {
			return fmt.Errorf("%w: id=%d", errs.ErrChannelDisabled, channelID)
		}
		status := p.Status(ctx)
		if status.IsConnected() {
			return s.project(ctx, ch, domain.ChannelStatusConnected, "", "")
		}

		connectErr := p.Connect(ctx)
		status = p.Status(ctx)
		switch {
		case connectErr == nil && status.IsConnected():
			return s.project(ctx, ch, domain.ChannelStatusConnected, "", "")
		case connectErr == nil && status.State == domain.ConnStateConnecting:
			// pairing pending: surface a fresh QR code to the tenant
			qr := status.QRCode
			if pairer, ok := asPairer(p); ok {
				fresh, qrErr := pairer.GenerateQRCode(ctx)
				if qrErr != nil {
					s.logger.Warn("failed to refresh pairing code",
						elog.Int64("channelID", channelID), elog.FieldErr(qrErr))
				} else {
					qr = fresh
				}
			}
			return s.project(ctx, ch, domain.ChannelStatusConnecting, "awaiting pairing", qr)
		case errs.IsSessionInvalidating(connectErr):
			if err := s.project(ctx, ch, domain.ChannelStatusError, connectErr.Error(), ""); err != nil {
				return err
			}
			return connectErr
		case errs.IsConfiguration(connectErr):
			if err := s.project(ctx, ch, domain.ChannelStatusError, connectErr.Error(), ""); err != nil {
				return err
			}
			return connectErr
		default:
			if err := s.project(ctx, ch, domain.ChannelStatusDisconnected, connectErr.Error(), ""); err != nil {
				return err
			}
			return connectErr
		}
	})
}

// Disable tears down the live provider and soft-retires the channel.
func (s *Supervisor) Disable(ctx context.Context, channelID int64) error {
	err := s.WithLock(ctx, channelID, func(p provider.Provider) error {
		return p.Disconnect(ctx)
	})
	if err != nil && !errs.IsSessionInvalidating(err) {
		s.logger.Warn("disconnect during disable failed",
			elog.Int64("channelID", channelID), elog.FieldErr(err))
	}
	s.mu.Lock()
	delete(s.providers, channelID)
	s.mu.Unlock()
	return s.repo.Disable(ctx, channelID)
}

func (s *Supervisor) project(ctx context.Context, ch domain.Channel, status domain.ChannelStatus, reason, qr string) error {
	err := s.repo.UpdateStatus(ctx, domain.Channel{
		ID:             ch.ID,
		Status:         status,
		StatusReason:   reason,
		QRCode:         qr,
		LastActivityAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to project channel status: %w", err)
	}
	if status != ch.Status {
		evt := channelstatus.StatusEvent{
			ChannelID: ch.ID,
			TenantID:  ch.TenantID,
			Status:    status,
			Reason:    reason,
			HasQRCode: qr != "",
			ChangedAt: time.Now().UnixMilli(),
		}
		if perr := s.statusProducer.Produce(ctx, evt); perr != nil {
			s.logger.Error("failed to publish channel status event",
				elog.Int64("channelID", ch.ID), elog.FieldErr(perr))
		}
	}
	return nil
}

func (s *Supervisor) channelLock(channelID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[channelID] = lock
	}
	return lock
}

// asPairer unwraps decorators until it finds a pairing capability.
func asPairer(p provider.Provider) (provider.QRCodePairer, bool) {
	for {
		if pairer, ok := p.(provider.QRCodePairer); ok {
			return pairer, true
		}
		unwrapper, ok := p.(interface{ Unwrap() provider.Provider })
		if !ok {
			return nil, false
		}
		p = unwrapper.Unwrap()
	}
}

func projectedConnState(status domain.ChannelStatus) domain.ConnState {
	switch status {
	case domain.ChannelStatusConnecting:
		return domain.ConnStateConnecting
	case domain.ChannelStatusConnected:
		return domain.ConnStateConnected
	case domain.ChannelStatusError:
		return domain.ConnStateError
	default:
		return domain.ConnStateDisconnected
	}
}
