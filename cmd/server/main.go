package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"retranslator-svr/internal/codec/retranslator"
	"retranslator-svr/internal/config"
	"retranslator-svr/internal/dispatcher"
	"retranslator-svr/internal/grpcclient"
	"retranslator-svr/internal/link"
	"retranslator-svr/internal/mqttpub"
	"retranslator-svr/internal/observability"
	"retranslator-svr/internal/server"
	"retranslator-svr/internal/store"
	"retranslator-svr/internal/utilities"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("RETRANSLATOR_CONFIG"), "path to a TOML config file")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "retranslator-svr:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.LogLevel)
	logger.Info("Starting retranslator-svr...", "port", cfg.TCPPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis backs both the device registry and the last-known positions.
	rdb, err := store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("Redis init failed", "error", err)
		return err
	}
	defer rdb.Close()

	devices := store.NewDevices(rdb, cfg.RegisterUnknown, logger)
	lastPositions := store.NewLastPositions(rdb)
	decoder := retranslator.NewDecoder(devices, lastPositions, logger.With("component", "decoder"))

	opts := dispatcher.Options{
		Last:   lastPositions,
		RawLog: utilities.NewRawLog(cfg.RawLogDir, "RETRANSLATOR"),
	}

	if cfg.GRPCServer != "" {
		fwd, err := grpcclient.NewGRPCClient(cfg.GRPCServer, cfg.GRPCMethod)
		if err != nil {
			return fmt.Errorf("grpc forwarder: %w", err)
		}
		defer fwd.Close()
		opts.Sinks = append(opts.Sinks, fwd)
		logger.Info("grpc forwarder enabled", "addr", cfg.GRPCServer, "method", cfg.GRPCMethod)
	}

	if cfg.MQTTBroker != "" {
		pub, err := mqttpub.Connect(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic, cfg.MQTTQoS, logger.With("component", "mqtt"))
		if err != nil {
			return err
		}
		defer pub.Close()
		opts.Sinks = append(opts.Sinks, pub)
	}

	if cfg.ProxyAddr != "" {
		lk := link.New(cfg.ProxyAddr, logger)
		go lk.Run(ctx)
		opts.Sinks = append(opts.Sinks, lk)
		opts.Notifier = lk
	} else {
		logger.Info("link: disabled (no proxy address configured)")
	}

	go func() {
		if err := observability.StartMetricsServer(ctx, cfg.MetricsPort); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	d := dispatcher.New(decoder, opts, logger)
	srv := server.New(d, server.Options{
		MaxFrameSize: cfg.MaxFrameSize,
		ReadTimeout:  cfg.ReadTimeout,
	}, logger)

	if err := srv.Start(ctx, ":"+cfg.TCPPort); err != nil {
		logger.Error("TCP server failed", "error", err)
		return err
	}
	logger.Info("retranslator-svr stopped")
	return nil
}
