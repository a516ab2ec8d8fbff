package main

import (
	"context"
	"embed"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/auth"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/config"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/hub"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/infrastructure/events"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/infrastructure/repository"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/service"
	"github.com/lexora/legal-marketplace-api/services/realtime-service/internal/ws"
	"github.com/lexora/legal-marketplace-api/shared/contracts"
	"github.com/lexora/legal-marketplace-api/shared/logging"
	"github.com/lexora/legal-marketplace-api/shared/messaging"
	"github.com/lexora/legal-marketplace-api/shared/metrics"
	"github.com/lexora/legal-marketplace-api/shared/migration"
	"github.com/lexora/legal-marketplace-api/shared/monitoring"
	"github.com/lexora/legal-marketplace-api/shared/postgres"
	"github.com/lexora/legal-marketplace-api/shared/recovery"
	"github.com/lexora/legal-marketplace-api/shared/redis"
)

const serviceName = "realtime-service"

//go:embed migrations/*.sql
var migrationFiles embed.FS

func main() {
	log := logging.NewLogger(logging.DefaultConfig(serviceName))

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	if err := monitoring.InitSentry(&monitoring.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		ServiceName: serviceName,
	}); err != nil {
		log.WithError(err).Warn("failed to initialize sentry")
	}
	defer monitoring.FlushSentry(2 * time.Second)

	if err := runMigrations(cfg, log); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	pg, err := postgres.NewPostgres(cfg.Postgres)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pg.Close()

	rd, err := redis.NewRedis(cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer rd.Close()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), 5*time.Second)
	if err := pg.HealthCheck(healthCtx); err != nil {
		cancelHealth()
		log.WithError(err).Fatal("postgres health check failed")
	}
	if err := rd.HealthCheck(healthCtx); err != nil {
		cancelHealth()
		log.WithError(err).Fatal("redis health check failed")
	}
	cancelHealth()

	m := metrics.NewMetrics("lexora", "realtime")

	// The realtime plane must stay up when the broker is down, so AMQP
	// failures degrade to a nil client instead of aborting startup.
	var amqpClient contracts.AMQPClient
	if cfg.AMQPEnable {
		rmq, err := messaging.NewRabbitMQ(cfg.RabbitMQ)
		if err != nil {
			log.WithError(err).Warn("rabbitmq unavailable, event publishing disabled")
		} else {
			exchanges, queues, bindings := events.Topology()
			if err := rmq.SetupInfrastructure(exchanges, queues, bindings); err != nil {
				log.WithError(err).Warn("failed to declare amqp topology, event publishing disabled")
				rmq.Close()
			} else {
				amqpClient = rmq
				defer rmq.Close()
			}
		}
	}

	repo := repository.NewRepository(pg, rd)
	publisher := events.NewPublisher(amqpClient, log, m)

	registry := hub.NewRegistry(log, m)
	chatSvc := service.NewChatService(repo, registry, publisher, log, m)
	bookingSvc := service.NewBookingService(repo, registry, publisher, log, m)

	panics := recovery.NewPanicHandler(
		recovery.WithPanicCallback(func(recovered interface{}, stack []byte) {
			log.WithFields(map[string]interface{}{
				"panic": fmt.Sprintf("%v", recovered),
				"stack": string(stack),
			}).Error("recovered panic in frame handler")
		}),
	)

	presenceTTL := 2 * cfg.Heartbeat.Interval
	router := ws.NewRouter(chatSvc, bookingSvc, repo, presenceTTL, panics, log, m)
	verifier := auth.NewVerifier([]byte(cfg.JWTSecret))
	server := ws.NewServer(registry, router, verifier, repo, ws.ServerConfig{
		ReadLimit:   cfg.WS.ReadLimit,
		FrameRate:   cfg.WS.FrameRate,
		FrameBurst:  cfg.WS.FrameBurst,
		PresenceTTL: presenceTTL,
	}, log, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	heartbeat := hub.NewHeartbeat(registry, cfg.Heartbeat.Interval, log, m)
	heartbeat.OnEvict(func(c hub.Conn) {
		if err := repo.SetOffline(context.Background(), c.UserID()); err != nil {
			log.WithError(err).WithField("user_id", c.UserID()).Debug("failed to clear presence on eviction")
		}
	})
	go heartbeat.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.HandleWS)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("realtime service listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server terminated")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown did not complete cleanly")
	}
	registry.CloseAll()

	log.Info("shutdown complete")
	os.Exit(0)
}

func runMigrations(cfg *config.Config, log *logging.Logger) error {
	migrator, err := migration.NewMigrator(&migration.Config{
		DatabaseURL: cfg.Postgres.DSN(),
		Service:     serviceName,
		SchemaName:  "realtime",
		Migrations:  migrationFiles,
	})
	if err != nil {
		return err
	}
	defer migrator.Close()

	if err := migrator.Migrate(); err != nil {
		return err
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		log.WithError(err).Debug("could not read migration version")
		return nil
	}
	log.WithFields(map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	}).Info("migrations applied")
	return nil
}
