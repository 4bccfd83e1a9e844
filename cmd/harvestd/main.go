// harvestd runs the negotiation engine: the call signaling service, the
// in-process agent dispatcher, and the HTTP control plane.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/hezronokwach/harvest/internal/actor"
	"github.com/hezronokwach/harvest/internal/config"
	"github.com/hezronokwach/harvest/internal/metrics"
	"github.com/hezronokwach/harvest/internal/server"
	"github.com/hezronokwach/harvest/internal/signaling"
	"github.com/hezronokwach/harvest/internal/state"
)

var configPath = flag.String("config", "", "path to a YAML config file")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("harvestd failed")
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	httpLog := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		httpLog.SetLevel(level)
	}

	logger, err := buildLogger(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	store, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build session store: %w", err)
	}
	defer store.Close()

	collector := metrics.NewCollector()

	// The scripted demo generators stand in for live speech agents.
	sellerGen := func() actor.Generator {
		return actor.NewScriptedGenerator(actor.DemoSellerScript(), actor.WithStepDelay(500*time.Millisecond))
	}
	buyerGen := func() actor.Generator {
		return actor.NewScriptedGenerator(actor.DemoBuyerScript(), actor.WithStepDelay(500*time.Millisecond))
	}

	dispatcher := signaling.NewInProcessDispatcher(
		cfg.Negotiation,
		cfg.Policy,
		sellerGen,
		buyerGen,
		signaling.WithDispatcherLogger(logger),
		signaling.WithSessionStore(store),
		signaling.WithObserver(collector),
		signaling.WithProduct(cfg.Product),
	)
	defer dispatcher.Close()

	svc := signaling.NewService(dispatcher, logger)
	defer svc.Close()

	srv := server.New(cfg, svc, dispatcher, store, collector, httpLog)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func buildStore(cfg *config.Config, logger *zap.Logger) (state.SessionStore, error) {
	if !cfg.Redis.Enabled {
		return state.NewInMemorySessionStore(), nil
	}
	return state.NewRedisSessionStore(&cfg.Store, logger)
}
