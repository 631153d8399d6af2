package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gotomicro/ego/core/econf"
	"github.com/gotomicro/ego/core/elog"
	"github.com/hidekivinicius2050/chatbot-sub002/internal/ioc"
	"gopkg.in/yaml.v2"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	f, err := os.Open(*configPath)
	if err != nil {
		elog.Panic("failed to open config file", elog.String("path", *configPath), elog.FieldErr(err))
	}
	err = econf.LoadFromReader(f, yaml.Unmarshal)
	_ = f.Close()
	if err != nil {
		elog.Panic("failed to load config", elog.FieldErr(err))
	}

	app := ioc.InitApp()

	ctx, cancel := context.WithCancel(context.Background())
	app.StartWorkers(ctx)

	go func() {
		if err := app.Server.Start(); err != nil {
			elog.Panic("http server failed", elog.FieldErr(err))
		}
	}()
	elog.Info("gateway started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	elog.Info("shutting down")

	// stop intake first so no new webhooks or enqueues land mid-drain
	const grace = 30 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		elog.Error("http shutdown failed", elog.FieldErr(err))
	}

	// stop the scheduler loop and drain in-flight jobs
	cancel()
	for _, p := range app.Pools {
		if err := p.Shutdown(shutdownCtx); err != nil {
			elog.Error("pool shutdown incomplete", elog.FieldErr(err))
		}
	}
	elog.Info("gateway stopped")
}
