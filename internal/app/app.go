package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/osync/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/osync/internal/health"
	"github.com/vladislavdragonenkov/osync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/osync/internal/storage/postgres"
	"github.com/vladislavdragonenkov/osync/internal/version"
)

// Run собирает сервис и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	// Архив снапшотов опционален: без postgres кеш живёт только в памяти.
	var pgStore *postgres.Store
	var archive domain.SnapshotArchive
	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return err
		}
		pgStore = store
		archive = postgres.NewSnapshotRepository(store)
		logger.Info("архив снапшотов подключен")
	}
	defer func() {
		if pgStore != nil {
			_ = pgStore.Close()
		}
	}()

	deps := NewDependencies(cfg, logger, archive)

	healthHandler := healthcheck.NewHandler(version.String())
	if pgStore != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			return pgStore.Ping(context.Background())
		}))
	}

	// Прогрев: сначала архив (переживает рестарт), затем бэкенд.
	if err := deps.Engine.WarmFromArchive(ctx, cfg.CustomerID); err != nil {
		logger.WithError(err).Warn("не удалось прогреть кеш из архива")
	}
	if err := deps.Engine.Bootstrap(ctx); err != nil {
		logger.WithError(err).Warn("не удалось загрузить заказы с бэкенда, продолжаем с кешем")
	}

	// Push-канал опционален: без Kafka остаются pull-refresh и действия клиента.
	var channel *kafka.Channel
	if len(cfg.KafkaBrokers) > 0 {
		ch, err := kafka.Connect(ctx, cfg.KafkaBrokers, cfg.KafkaGroupID, deps.Credentials)
		if err != nil {
			logger.WithError(err).Warn("push-канал недоступен, продолжаем без него")
		} else {
			channel = ch
			deps.Engine.Attach(channel)
			healthHandler.RegisterChecker("push-channel", healthcheck.NewChannelChecker("push-channel", func() (bool, string) {
				state := channel.ConnectionState()
				return state == kafka.StateConnected, state.String()
			}))
			logger.WithField("brokers", cfg.KafkaBrokers).Info("push-канал подключен")
		}
	}
	defer func() {
		if channel != nil {
			if err := channel.Close(); err != nil {
				logger.WithError(err).Warn("ошибка при закрытии push-канала")
			}
		}
	}()

	go deps.Engine.Run(ctx)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	<-ctx.Done()
	logger.Info("получен сигнал остановки")
	shutdownHTTP(metricsSrv, logger)
	return ctx.Err()
}

// startMetricsServer запускает HTTP-обработчики /metrics и health checks.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
