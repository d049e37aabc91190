package main

import (
	"context"
	"log"
	"net/http"

	"go.uber.org/zap"

	"codesync/internal/config"
	"codesync/internal/presence"
	"codesync/internal/registry"
	"codesync/internal/relay"
	"codesync/internal/routers"
	"codesync/internal/session"
	"codesync/internal/utils"
)

// seams for tests
var (
	listenAndServe = http.ListenAndServe
	exitFunc       = func(err error) { log.Fatal(err) }
)

func run(_ context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := utils.NewLogger()
	defer func() { _ = logger.Sync() }()

	reg := registry.New()
	hub := session.NewHub()

	var opts []relay.Option
	var bridge *presence.Bridge
	if cfg.RedisAddr != "" {
		bridge = presence.NewBridge(cfg.RedisAddr, logger)
		defer bridge.Close()
		opts = append(opts, relay.WithPresencePublisher(bridge))
	}

	rel := relay.New(reg, hub, logger, opts...)
	if bridge != nil {
		bridge.Start(rel.ApplyRemotePresence)
	}

	router := routers.New(logger, cfg, rel)

	addr := ":" + cfg.Port
	logger.Info("codesync relay listening", zap.String("addr", addr))
	return listenAndServe(addr, router)
}

func main() {
	if err := run(context.Background()); err != nil {
		exitFunc(err)
	}
}
