package sync

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/osync/internal/domain"
	"github.com/vladislavdragonenkov/osync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/osync/internal/metrics"
)

const (
	defaultDebounce       = 250 * time.Millisecond
	defaultRefreshTimeout = 10 * time.Second
	defaultCorroboration  = 15 * time.Second
	defaultSweepInterval  = 1 * time.Second
)

// OrderSyncState — состояние сходимости одного отслеживаемого заказа.
type OrderSyncState int

const (
	// StateSynced — локальный снапшот считается сходящимся с бэкендом.
	StateSynced OrderSyncState = iota
	// StateStale — зафиксировано подозрение на расхождение; refresh запланирован.
	StateStale
	// StateRefreshing — полный снапшот запрошен и ещё не получен.
	StateRefreshing
)

func (s OrderSyncState) String() string {
	switch s {
	case StateSynced:
		return "SYNCED"
	case StateStale:
		return "STALE"
	case StateRefreshing:
		return "REFRESHING"
	default:
		return "UNKNOWN"
	}
}

// EventSource — подписочная поверхность push-канала, нужная движку.
// Реализуется *kafka.Channel.
type EventSource interface {
	On(event kafka.EventName, handler kafka.EventHandler)
	NotifyStateChange(handler kafka.StateHandler)
}

// Options задаёт параметры движка reconciliation.
type Options struct {
	Logger *log.Entry
	// Metrics опциональны: nil отключает инструментирование.
	Metrics *metrics.SyncMetrics
	// Archive опционален: nil отключает долговременное сохранение снапшотов.
	Archive domain.SnapshotArchive
	// Debounce — окно слияния повторных пометок STALE в один refresh.
	Debounce time.Duration
	// RefreshTimeout ограничивает время одного полного запроса снапшота.
	RefreshTimeout time.Duration
	// Corroboration — допустимое ожидание подтверждающего события после
	// оптимистичного применения.
	Corroboration time.Duration
	// SweepInterval — частота проверки просроченных окон подтверждения.
	SweepInterval time.Duration
}

// Option настраивает Engine.
type Option func(*Options)

// WithLogger задаёт logger для движка.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics подключает метрики синхронизации.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithArchive подключает долговременное хранилище снапшотов.
func WithArchive(archive domain.SnapshotArchive) Option {
	return func(opts *Options) {
		opts.Archive = archive
	}
}

// WithDebounce задаёт окно дебаунса refresh.
func WithDebounce(d time.Duration) Option {
	return func(opts *Options) {
		opts.Debounce = d
	}
}

// WithRefreshTimeout задаёт таймаут полного запроса снапшота.
func WithRefreshTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.RefreshTimeout = d
	}
}

// WithCorroboration задаёт окно ожидания подтверждающего события.
func WithCorroboration(d time.Duration) Option {
	return func(opts *Options) {
		opts.Corroboration = d
	}
}

// WithSweepInterval задаёт частоту фонового sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(opts *Options) {
		opts.SweepInterval = d
	}
}

// trackedOrder — перекрёстное состояние сходимости одного заказа.
type trackedOrder struct {
	state OrderSyncState
	// refreshPending истинно от планирования refresh до его завершения;
	// повторные пометки STALE в этом окне схлопываются.
	refreshPending bool
	// staleAgain помечает события, пришедшие во время REFRESHING: их
	// дельты отбрасываются, но после приземления снапшота нужен ещё
	// один refresh.
	staleAgain bool
	// awaitingSince — момент оптимистичного применения; нулевое значение
	// означает, что окно подтверждения не открыто.
	awaitingSince time.Time
}

// Engine сводит локальный кеш заказов с бэкендом: применяет дельты
// из push-канала, а при любом подозрении на расхождение планирует
// полный refresh. Authoritative-снапшот всегда выигрывает у локальных
// оптимистичных изменений.
type Engine struct {
	store   domain.SnapshotStore
	api     domain.OrderAPI
	archive domain.SnapshotArchive
	logger  *log.Entry
	metrics *metrics.SyncMetrics

	debounce       time.Duration
	refreshTimeout time.Duration
	corroboration  time.Duration
	sweepInterval  time.Duration

	mu           sync.Mutex
	tracked      map[string]*trackedOrder
	channelState kafka.ConnectionState
}

// NewEngine создаёт движок reconciliation поверх кеша и REST-клиента.
func NewEngine(store domain.SnapshotStore, api domain.OrderAPI, options ...Option) *Engine {
	opts := Options{
		Debounce:       defaultDebounce,
		RefreshTimeout: defaultRefreshTimeout,
		Corroboration:  defaultCorroboration,
		SweepInterval:  defaultSweepInterval,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sync-engine")
	}

	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	if opts.Corroboration <= 0 {
		opts.Corroboration = defaultCorroboration
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}

	return &Engine{
		store:          store,
		api:            api,
		archive:        opts.Archive,
		logger:         logger,
		metrics:        opts.Metrics,
		debounce:       opts.Debounce,
		refreshTimeout: opts.RefreshTimeout,
		corroboration:  opts.Corroboration,
		sweepInterval:  opts.SweepInterval,
		tracked:        make(map[string]*trackedOrder),
		channelState:   kafka.StateDisconnected,
	}
}

// Attach подписывает движок на события и смену состояния канала.
func (e *Engine) Attach(source EventSource) {
	for _, name := range kafka.LifecycleEvents() {
		source.On(name, e.HandleEvent)
	}
	source.NotifyStateChange(e.HandleChannelState)
}

// Track ставит заказ на отслеживание. Заказ без снапшота в кеше сразу
// помечается STALE и ждёт refresh.
func (e *Engine) Track(orderID string) {
	_, err := e.store.Get(orderID)

	e.mu.Lock()
	if _, ok := e.tracked[orderID]; ok {
		e.mu.Unlock()
		return
	}
	t := &trackedOrder{state: StateSynced}
	e.tracked[orderID] = t
	count := len(e.tracked)
	if err != nil {
		e.markStaleLocked(orderID, t, "no local snapshot")
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SetTrackedOrders(count)
	}
}

// Untrack снимает заказ с отслеживания. Результаты уже запущенных
// refresh для него отбрасываются при прибытии.
func (e *Engine) Untrack(orderID string) {
	e.mu.Lock()
	delete(e.tracked, orderID)
	count := len(e.tracked)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.SetTrackedOrders(count)
	}
}

// State возвращает состояние сходимости заказа и флаг отслеживания.
func (e *Engine) State(orderID string) (OrderSyncState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tracked[orderID]
	if !ok {
		return StateSynced, false
	}
	return t.state, true
}

// TrackedCount возвращает число отслеживаемых заказов.
func (e *Engine) TrackedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracked)
}

// HandleEvent обрабатывает одно событие push-канала: пытается применить
// дельту напрямую, а при любом сомнении деградирует к полному refresh.
func (e *Engine) HandleEvent(event *kafka.OrderEvent) {
	if e.metrics != nil {
		e.metrics.RecordEventReceived(string(event.Event))
	}
	logger := e.logger.WithFields(log.Fields{
		"event":    event.Event,
		"order_id": event.OrderID,
	})

	e.mu.Lock()
	t, ok := e.tracked[event.OrderID]
	if !ok {
		if event.Event == kafka.EventOrderCreated {
			// Новый заказ клиента, созданный с другого устройства:
			// берём на отслеживание и запрашиваем полный снапшот.
			t = &trackedOrder{state: StateSynced}
			e.tracked[event.OrderID] = t
			e.markStaleLocked(event.OrderID, t, "order created elsewhere")
		}
		e.mu.Unlock()
		return
	}
	if t.state == StateRefreshing {
		// Дельта старее снапшота в полёте; после его приземления
		// понадобится ещё один refresh.
		t.staleAgain = true
		e.mu.Unlock()
		logger.Debug("event during refresh, deferred")
		return
	}
	e.mu.Unlock()

	if event.Event == kafka.EventOrderCreated {
		// Заказ создан этим же процессом: событие лишь подтверждает
		// оптимистично закоммиченный снапшот.
		e.corroborate(event.OrderID)
		return
	}

	patch, ok := e.eventPatch(event)
	if !ok {
		e.markStale(event.OrderID, "thin event payload")
		return
	}

	merged, err := e.store.Merge(event.OrderID, patch)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordMergeRejected()
		}
		logger.WithError(err).Warn("event merge rejected, scheduling refresh")
		e.markStale(event.OrderID, "merge rejected")
		return
	}

	if e.metrics != nil {
		e.metrics.RecordMergeApplied()
	}
	e.corroborate(event.OrderID)
	e.archiveSnapshot(merged)
}

// eventPatch строит patch из дельты события. false означает, что payload
// слишком тонкий для прямого применения и нужен полный refresh.
func (e *Engine) eventPatch(event *kafka.OrderEvent) (domain.Patch, bool) {
	switch event.Event {
	case kafka.EventVendorOrderProposed:
		if event.Proposal == nil {
			return domain.Patch{}, false
		}
		return domain.Patch{NewProposals: []domain.Proposal{*event.Proposal}}, true

	case kafka.EventProposalAccepted:
		if event.ProposalID == "" {
			return domain.Patch{}, false
		}
		order, err := e.store.Get(event.OrderID)
		if err != nil {
			return domain.Patch{}, false
		}
		patch, err := domain.ResolveAccept(&order, event.ProposalID)
		if err != nil {
			return domain.Patch{}, false
		}
		return patch, true

	case kafka.EventProposalRejected:
		if event.ProposalID == "" {
			return domain.Patch{}, false
		}
		order, err := e.store.Get(event.OrderID)
		if err != nil {
			return domain.Patch{}, false
		}
		patch, err := domain.ResolveReject(&order, event.ProposalID, event.CancelEntireOrder)
		if err != nil {
			return domain.Patch{}, false
		}
		return patch, true

	case kafka.EventOrderCancelled:
		if event.SubOrderID != "" {
			return domain.Patch{
				SubOrderStatuses: map[string]domain.SubOrderStatus{
					event.SubOrderID: domain.SubOrderStatusCancelled,
				},
			}, true
		}
		// Отмена всего заказа: собираем patch по текущему снапшоту.
		order, err := e.store.Get(event.OrderID)
		if err != nil {
			return domain.Patch{}, false
		}
		statuses := make(map[string]domain.SubOrderStatus)
		for i := range order.SubOrders {
			sub := &order.SubOrders[i]
			if sub.Status == domain.SubOrderStatusCancelled || sub.Status == domain.SubOrderStatusDelivered {
				continue
			}
			statuses[sub.ID] = domain.SubOrderStatusCancelled
		}
		if len(statuses) == 0 {
			return domain.Patch{}, true
		}
		return domain.Patch{SubOrderStatuses: statuses}, true

	default:
		status := event.SubOrderStatus
		if status == "" {
			status = impliedSubOrderStatus(event.Event)
		}
		if event.SubOrderID == "" || status == "" {
			return domain.Patch{}, false
		}
		return domain.Patch{
			SubOrderStatuses: map[string]domain.SubOrderStatus{event.SubOrderID: status},
		}, true
	}
}

// impliedSubOrderStatus выводит статус части заказа из имени события,
// когда payload не несёт его явно.
func impliedSubOrderStatus(event kafka.EventName) domain.SubOrderStatus {
	switch event {
	case kafka.EventOrderConfirmed:
		return domain.SubOrderStatusConfirmed
	case kafka.EventOrderReady:
		return domain.SubOrderStatusReady
	case kafka.EventOrderPickedUp:
		return domain.SubOrderStatusPickedUp
	case kafka.EventOrderOnTheWay:
		return domain.SubOrderStatusOnTheWay
	case kafka.EventOrderDelivered:
		return domain.SubOrderStatusDelivered
	default:
		return ""
	}
}

// HandleChannelState реагирует на смену состояния push-канала. Любой
// переход в CONNECTED означает возможный пропуск событий: все
// отслеживаемые заказы помечаются STALE.
func (e *Engine) HandleChannelState(state kafka.ConnectionState) {
	e.mu.Lock()
	prev := e.channelState
	e.channelState = state
	if state != kafka.StateConnected || prev == kafka.StateConnected {
		e.mu.Unlock()
		return
	}
	for orderID, t := range e.tracked {
		if t.state == StateRefreshing {
			t.staleAgain = true
			continue
		}
		e.markStaleLocked(orderID, t, "channel reconnected")
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordChannelReconnect()
	}
	e.logger.WithField("state", state.String()).Info("push channel connected, marked tracked orders stale")
}

// markStale помечает заказ STALE и планирует дебаунсированный refresh.
func (e *Engine) markStale(orderID, reason string) {
	e.mu.Lock()
	t, ok := e.tracked[orderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if t.state == StateRefreshing {
		t.staleAgain = true
		e.mu.Unlock()
		return
	}
	e.markStaleLocked(orderID, t, reason)
	e.mu.Unlock()
}

// markStaleLocked выполняет пометку под уже взятым e.mu.
func (e *Engine) markStaleLocked(orderID string, t *trackedOrder, reason string) {
	t.state = StateStale
	if t.refreshPending {
		// Refresh уже запланирован; повторная пометка схлопывается.
		return
	}
	t.refreshPending = true
	if e.metrics != nil {
		e.metrics.RecordRefreshScheduled()
	}
	e.logger.WithFields(log.Fields{
		"order_id": orderID,
		"reason":   reason,
	}).Debug("order marked stale")
	time.AfterFunc(e.debounce, func() {
		e.refresh(orderID)
	})
}

// refresh запрашивает полный authoritative-снапшот и безусловно
// замещает им локальное состояние.
func (e *Engine) refresh(orderID string) {
	e.mu.Lock()
	t, ok := e.tracked[orderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	t.state = StateRefreshing
	e.mu.Unlock()

	logger := e.logger.WithField("order_id", orderID)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), e.refreshTimeout)
	order, err := e.api.GetOrder(ctx, orderID)
	cancel()

	e.mu.Lock()
	t, ok = e.tracked[orderID]
	if !ok {
		// Заказ сняли с отслеживания, пока refresh был в полёте.
		e.mu.Unlock()
		logger.Debug("refresh result for untracked order discarded")
		return
	}
	t.refreshPending = false

	if err != nil {
		if domain.IsNotFound(err) {
			// Бэкенд больше не знает заказ: выбрасываем его.
			delete(e.tracked, orderID)
			count := len(e.tracked)
			e.mu.Unlock()
			e.store.Remove(orderID)
			e.archiveDelete(orderID)
			if e.metrics != nil {
				e.metrics.SetTrackedOrders(count)
			}
			logger.Info("order gone on backend, dropped from cache")
			return
		}
		t.state = StateStale
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.RecordRefreshFailed()
		}
		logger.WithError(err).Warn("order refresh failed")
		return
	}
	e.mu.Unlock()

	committed, rerr := e.store.Replace(order)
	if rerr != nil {
		e.markStale(orderID, "snapshot replace failed")
		if e.metrics != nil {
			e.metrics.RecordRefreshFailed()
		}
		logger.WithError(rerr).Warn("failed to commit refreshed snapshot")
		return
	}
	// Снапшот бэкенда authoritative и коммитится в любом случае, но нарушения
	// доменных инвариантов в нём — повод для сигнала в логах.
	for _, verr := range committed.ValidateInvariants() {
		logger.WithError(verr).Warn("refreshed snapshot violates order invariant")
	}

	e.mu.Lock()
	t, ok = e.tracked[orderID]
	if ok {
		t.state = StateSynced
		// Authoritative-снапшот закрывает окно подтверждения.
		t.awaitingSince = time.Time{}
		if t.staleAgain {
			t.staleAgain = false
			e.markStaleLocked(orderID, t, "events arrived during refresh")
		}
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordRefreshCompleted(time.Since(start))
	}
	e.archiveSnapshot(committed)
	logger.WithField("duration", time.Since(start)).Debug("order refreshed")
}

// expectCorroboration открывает окно ожидания подтверждающего события
// после оптимистичного применения.
func (e *Engine) expectCorroboration(orderID string) {
	e.mu.Lock()
	if t, ok := e.tracked[orderID]; ok {
		t.awaitingSince = time.Now()
	}
	e.mu.Unlock()
}

// corroborate закрывает окно подтверждения: событие канала сошлось с
// локальным состоянием.
func (e *Engine) corroborate(orderID string) {
	e.mu.Lock()
	if t, ok := e.tracked[orderID]; ok {
		t.awaitingSince = time.Time{}
	}
	e.mu.Unlock()
}

// Run запускает фоновый sweeper окон подтверждения до отмены ctx.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepOnce()
		}
	}
}

// SweepOnce проверяет просроченные окна подтверждения: оптимистичное
// применение без подтверждающего события в срок лечится полным refresh.
func (e *Engine) SweepOnce() {
	now := time.Now()
	expired := make([]string, 0)

	e.mu.Lock()
	for orderID, t := range e.tracked {
		if t.awaitingSince.IsZero() {
			continue
		}
		if now.Sub(t.awaitingSince) < e.corroboration {
			continue
		}
		t.awaitingSince = time.Time{}
		expired = append(expired, orderID)
	}
	e.mu.Unlock()

	for _, orderID := range expired {
		if e.metrics != nil {
			e.metrics.RecordSelfHeal()
		}
		e.logger.WithField("order_id", orderID).Warn("optimistic apply not corroborated, scheduling refresh")
		e.markStale(orderID, "corroboration window expired")
	}
}

// Bootstrap прогревает кеш списком заказов клиента и ставит на
// отслеживание незавершённые. Сводки тоньше полных снапшотов, поэтому
// каждый незавершённый заказ сразу помечается STALE.
func (e *Engine) Bootstrap(ctx context.Context) error {
	orders, err := e.api.ListMyOrders(ctx)
	if err != nil {
		return err
	}

	for i := range orders {
		order := orders[i]
		if _, err := e.store.Replace(order); err != nil {
			e.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to seed order snapshot")
			continue
		}
		if order.Status == domain.OrderStatusCompleted || order.Status == domain.OrderStatusCancelled {
			continue
		}
		e.Track(order.ID)
		e.markStale(order.ID, "bootstrap summary")
	}

	e.logger.WithField("orders", len(orders)).Info("order cache bootstrapped")
	return nil
}

// WarmFromArchive восстанавливает кеш из долговременного хранилища
// после рестарта процесса.
func (e *Engine) WarmFromArchive(ctx context.Context, customerID string) error {
	if e.archive == nil {
		return nil
	}
	orders, err := e.archive.List(ctx, customerID)
	if err != nil {
		return err
	}
	for i := range orders {
		order := orders[i]
		if _, err := e.store.Replace(order); err != nil {
			e.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to restore archived snapshot")
			continue
		}
		if order.Status == domain.OrderStatusCompleted || order.Status == domain.OrderStatusCancelled {
			continue
		}
		e.Track(order.ID)
		// Архив мог отстать от бэкенда за время простоя.
		e.markStale(order.ID, "restored from archive")
	}
	e.logger.WithField("orders", len(orders)).Info("order cache restored from archive")
	return nil
}

func (e *Engine) archiveSnapshot(order domain.CompositeOrder) {
	if e.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.refreshTimeout)
	defer cancel()
	if err := e.archive.Save(ctx, order); err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to archive snapshot")
	}
}

func (e *Engine) archiveDelete(orderID string) {
	if e.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.refreshTimeout)
	defer cancel()
	if err := e.archive.Delete(ctx, orderID); err != nil {
		e.logger.WithError(err).WithField("order_id", orderID).Warn("failed to delete archived snapshot")
	}
}
