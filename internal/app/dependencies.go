package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/osync/internal/domain"
	"github.com/vladislavdragonenkov/osync/internal/metrics"
	"github.com/vladislavdragonenkov/osync/internal/service/orderapi"
	syncsvc "github.com/vladislavdragonenkov/osync/internal/service/sync"
	"github.com/vladislavdragonenkov/osync/internal/storage/memory"
)

// staticCredentials отдаёт токен, заданный конфигурацией при старте.
type staticCredentials struct {
	token string
}

func (c staticCredentials) Token(ctx context.Context) (string, error) {
	return c.token, nil
}

var _ domain.CredentialProvider = staticCredentials{}

// Dependencies содержит собранный граф компонентов сервиса.
type Dependencies struct {
	Store       domain.SnapshotStore
	Credentials domain.CredentialProvider
	API         domain.OrderAPI
	Metrics     *metrics.SyncMetrics
	Engine      *syncsvc.Engine
	Logger      *log.Entry
}

// NewDependencies собирает кеш, REST-клиент и движок reconciliation.
// Внешние системы (postgres, kafka) подключаются отдельно в Run:
// их отсутствие не мешает собрать ядро.
func NewDependencies(cfg Config, logger *log.Entry, archive domain.SnapshotArchive) *Dependencies {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	store := memory.NewSnapshotStore()
	credentials := staticCredentials{token: cfg.APIToken}
	api := orderapi.NewClient(cfg.APIBaseURL, credentials,
		orderapi.WithLogger(logger.WithField("component", "order-api")))
	syncMetrics := metrics.NewSyncMetrics()

	engine := syncsvc.NewEngine(store, api,
		syncsvc.WithLogger(logger.WithField("component", "sync-engine")),
		syncsvc.WithMetrics(syncMetrics),
		syncsvc.WithArchive(archive),
	)

	return &Dependencies{
		Store:       store,
		Credentials: credentials,
		API:         api,
		Metrics:     syncMetrics,
		Engine:      engine,
		Logger:      logger,
	}
}
