package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/app"
	"github.com/vladislavdragonenkov/sales/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level, format string) error {
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return err
	}
	log.SetLevel(parsed)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unsupported log format %q", format)
	}
	return nil
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.WithError(err).Fatal("invalid logger configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"version":      version.String(),
	}).Info("запускаем SalesService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("SalesService остановлен")
}
