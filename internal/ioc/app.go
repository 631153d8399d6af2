package ioc

import (
	"context"
	"time"

	"github.com/gotomicro/ego/core/econf"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/api/web"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/event/channelstatus"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/event/inbound"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/event/job"
	id "github.com/hidekivinicius2050/chatbot-sub002/internal/pkg/id_generator"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/pkg/idempotent"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/pkg/loopjob"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/queue"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/repository"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/repository/dao"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/dispatch"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/supervisor"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/service/webhook"
)

// App bundles every long-running component of the gateway.
type App struct {
	Server    *web.Server
	Pools     []*queue.Pool
	SyncLoop  *loopjob.InfiniteLoop
	Scheduler *dispatch.SyncScheduler
}

// InitApp wires the whole pipeline from configuration. Panics on bad config,
// matching the rest of the Init functions.
func InitApp() *App {
	type QueuesConfig struct {
		Delivery queue.Config `yaml:"delivery"`
		Media    queue.Config `yaml:"media"`
		Sync     queue.Config `yaml:"sync"`
	}
	type Config struct {
		HTTPAddr      string       `yaml:"httpAddr"`
		SyncInterval  int          `yaml:"syncInterval"` // ms
		MediaMaxBytes int64        `yaml:"mediaMaxBytes"`
		InboundTTL    int          `yaml:"inboundTTL"` // ms, redis dedup window
		Queues        QueuesConfig `yaml:"queues"`
	}
	var cfg Config
	if err := econf.UnmarshalKey("gateway", &cfg); err != nil {
		panic(err)
	}

	db := InitDB()
	redisClient := InitRedisClient()
	mq := InitMQ()
	dlockClient := InitDlockClient(redisClient)
	idGen := id.NewGenerator()

	channelRepo := repository.NewChannelRepository(dao.NewChannelDAO(db))
	deliveryRepo := repository.NewDeliveryRepository(dao.NewDeliveryRecordDAO(db))

	failedProducer, err := job.NewFailedEventProducer(mq)
	if err != nil {
		panic(err)
	}
	statusProducer, err := channelstatus.NewStatusEventProducer(mq)
	if err != nil {
		panic(err)
	}
	inboundProducer, err := inbound.NewMessagesEventProducer(mq)
	if err != nil {
		panic(err)
	}

	registry := InitProviderRegistry()
	sup := supervisor.NewSupervisor(registry, channelRepo, statusProducer)

	deliveryBackend := queue.NewRedisBackend(redisClient, cfg.Queues.Delivery.Name, cfg.Queues.Delivery.Retention)
	mediaBackend := queue.NewRedisBackend(redisClient, cfg.Queues.Media.Name, cfg.Queues.Media.Retention)
	syncBackend := queue.NewRedisBackend(redisClient, cfg.Queues.Sync.Name, cfg.Queues.Sync.Retention)

	enqueuer := dispatch.NewEnqueuer(deliveryBackend, mediaBackend, syncBackend,
		deliveryRepo, channelRepo, idGen)

	deliveryHandler := dispatch.NewDeliveryHandler(sup, deliveryRepo, enqueuer)
	mediaHandler := dispatch.NewMediaHandler(sup, enqueuer, cfg.MediaMaxBytes)
	syncHandler := dispatch.NewSyncHandler(sup)

	pools := []*queue.Pool{
		queue.NewPool(deliveryBackend, deliveryHandler.Handle, cfg.Queues.Delivery, failedProducer),
		queue.NewPool(mediaBackend, mediaHandler.Handle, cfg.Queues.Media, failedProducer),
		queue.NewPool(syncBackend, syncHandler.Handle, cfg.Queues.Sync, failedProducer),
	}

	inboundTTL := time.Duration(cfg.InboundTTL) * time.Millisecond
	if inboundTTL <= 0 {
		inboundTTL = 24 * time.Hour
	}
	deduper := webhook.NewInboundDeduper(
		idempotent.NewRedisService(redisClient, "inbound", inboundTTL))
	processor := dispatch.NewInboundProcessor(sup, deduper, inboundProducer, deliveryRepo)

	scheduler := dispatch.NewSyncScheduler(channelRepo, enqueuer,
		time.Duration(cfg.SyncInterval)*time.Millisecond)
	syncLoop := loopjob.NewInfiniteLoop(dlockClient, scheduler.Tick, "chatgateway:sync-scheduler")

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	server := web.NewServer(cfg.HTTPAddr, enqueuer, processor, sup, channelRepo)

	return &App{
		Server:    server,
		Pools:     pools,
		SyncLoop:  syncLoop,
		Scheduler: scheduler,
	}
}

// StartWorkers launches the queue pools and the dlock-guarded scheduler loop.
func (a *App) StartWorkers(ctx context.Context) {
	for _, p := range a.Pools {
		p.Start(ctx)
	}
	go a.SyncLoop.Run(ctx)
}
