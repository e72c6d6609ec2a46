// Package app собирает sales-service из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
	"github.com/vladislavdragonenkov/sales/internal/version"
)

const grpcStopTimeout = 5 * time.Second

// Run запускает сервис и блокируется до отмены ctx или фатальной ошибки
// одного из компонентов. Корректная остановка по ctx возвращает nil.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := log.WithField("component", "app")
	salesMetrics := metrics.NewSalesMetrics()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return fmt.Errorf("init kafka producer: %w", err)
	}
	defer closeKafka(producer, logger)

	publisher, worker := buildPublisher(cfg, deps, producer, logger)

	service := sales.NewService(deps.catalog, deps.orders, publisher, serviceOptions(cfg, deps, publisher, logger, salesMetrics)...)

	var consumer *kafka.Consumer
	if producer != nil {
		consumer, err = initKafkaConsumer(cfg, kafka.NewDispatcher(cfg.Topics, service), producer, salesMetrics)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("SALES_KAFKA_BROKERS is empty, consumer disabled; events stay in the outbox")
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.store != nil {
		healthHandler.Register("postgres", healthcheck.Critical(deps.store.Ping), healthcheck.TagReady)
	}
	if producer != nil {
		healthHandler.Register("kafka", healthcheck.Critical(producer.Ping), healthcheck.TagReady)
	}
	if cfg.PublishMode == PublishModeOutbox && cfg.OutboxMaxLag > 0 {
		healthHandler.Register("outbox", healthcheck.OutboxBacklog(deps.outboxRepo, cfg.OutboxMaxLag))
	}

	grpcServer, healthServer := newGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		return nil
	})

	if consumer != nil {
		if err := consumer.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return consumer.Stop()
		})
	}
	if worker != nil {
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	logger.WithFields(log.Fields{
		"storage":      cfg.StorageDriver,
		"catalog":      cfg.CatalogSource,
		"publish_mode": cfg.PublishMode,
		"version":      version.GetVersion(),
	}).Info("sales service started")

	err = g.Wait()
	logger.Info("sales service stopped")
	return err
}

// serviceOptions включает transactional outbox, когда события идут через outbox.
func serviceOptions(cfg Config, deps *runtimeDependencies, publisher domain.EventPublisher, logger *log.Entry, m *metrics.SalesMetrics) []sales.Option {
	opts := []sales.Option{
		sales.WithLogger(logger),
		sales.WithMetrics(m),
		sales.WithStatusRetry(cfg.StatusMaxAttempts, 0, 0),
	}
	if p, ok := publisher.(*outbox.Publisher); ok && deps.orderOutbox != nil {
		opts = append(opts, sales.WithTransactionalOutbox(deps.orderOutbox, p.Message))
	}
	return opts
}

// buildPublisher выбирает публикацию OrderSubmitted. Без брокера события
// копятся в outbox, worker не запускается.
func buildPublisher(cfg Config, deps *runtimeDependencies, producer *kafka.Producer, logger *log.Entry) (domain.EventPublisher, *outbox.Worker) {
	if producer == nil {
		return outbox.NewPublisher(deps.outboxRepo, cfg.Topics.OrderSubmitted), nil
	}
	if cfg.PublishMode != PublishModeOutbox {
		return kafka.NewEventPublisher(producer, cfg.Topics.OrderSubmitted), nil
	}

	worker := outbox.NewWorker(
		deps.outboxRepo,
		kafka.NewOutboxPublisher(producer, cfg.Topics.OrderSubmitted),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.Topics.DeadLetter)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	return outbox.NewPublisher(deps.outboxRepo, cfg.Topics.OrderSubmitted), worker
}

// newGRPCServer создаёт gRPC-сервер с health, reflection и prometheus-интерсепторами.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grpcStopTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}
