package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"

	"notifyd/internal/channels"
	"notifyd/internal/config"
	"notifyd/internal/digest"
	"notifyd/internal/engine"
	"notifyd/internal/service"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./notifyd.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logx.New(cfg.LogConfig())
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	storeCfg, err := cfg.StorageConfig()
	if err != nil {
		return err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	chatTimeout, _ := cfg.ChatTimeout()
	webhookTimeout, _ := cfg.WebhookTimeout()
	registry := &channels.Registry{
		Chat:      &channels.HTTPChat{Timeout: chatTimeout, Log: log.With(logx.String("comp", "chat"))},
		Webhook:   &channels.HTTPWebhook{Timeout: webhookTimeout, Log: log.With(logx.String("comp", "webhook"))},
		Websocket: channels.NewFanout(),
	}

	engCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	svc := service.New(service.Options{
		Store:   store,
		Limiter: engine.NewSubmitLimiter(engCfg.RateLimit),
		Log:     log.With(logx.String("comp", "service")),
	})
	proc := engine.New(engCfg, store, svc, registry, log.With(logx.String("comp", "engine")), nil)
	svc.SetProcessor(proc)

	var digests *digest.Scheduler
	if cfg.Digest.Enabled {
		digests = digest.New(svc, log.With(logx.String("comp", "digest")))
		svc.SetDeferrer(digests)
		digests.Start()
		defer digests.Stop()
	}

	// Hot-reload engine settings; storage and logging stay fixed for the
	// process lifetime.
	updates := mgr.Subscribe(1)
	defer mgr.Unsubscribe(updates)
	go func() {
		for cfg := range updates {
			if ec, err := cfg.EngineConfig(); err == nil {
				proc.Apply(ec)
				log.Info("engine config applied")
			}
		}
	}()
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
	log.Info("notifyd started", logx.String("config", cfgPath))

	proc.Run(ctx)

	_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
	return nil
}
