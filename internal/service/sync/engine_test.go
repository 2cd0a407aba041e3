package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/osync/internal/domain"
	"github.com/vladislavdragonenkov/osync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/osync/internal/storage/memory"
)

type stubOrderAPI struct {
	mu sync.Mutex

	orders map[string]domain.CompositeOrder

	createResult domain.CompositeOrder
	createErr    error
	getErr       error
	cancelErr    error
	acceptErr    error
	rejectErr    error

	// gate, если задан, блокирует GetOrder до закрытия канала.
	gate chan struct{}

	createCnt int
	getCnt    map[string]int
	cancelCnt int
	acceptCnt int
	rejectCnt int

	lastCancelEntireOrder bool
}

func newStubOrderAPI() *stubOrderAPI {
	return &stubOrderAPI{
		orders: make(map[string]domain.CompositeOrder),
		getCnt: make(map[string]int),
	}
}

func (s *stubOrderAPI) CreateOrder(ctx context.Context, draft domain.OrderDraft) (domain.CompositeOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCnt++
	return s.createResult, s.createErr
}

func (s *stubOrderAPI) ListMyOrders(ctx context.Context) ([]domain.CompositeOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]domain.CompositeOrder, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *stubOrderAPI) GetOrder(ctx context.Context, orderID string) (domain.CompositeOrder, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCnt[orderID]++
	if s.getErr != nil {
		return domain.CompositeOrder{}, s.getErr
	}
	order, ok := s.orders[orderID]
	if !ok {
		return domain.CompositeOrder{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *stubOrderAPI) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelCnt++
	return s.cancelErr
}

func (s *stubOrderAPI) AcceptProposal(ctx context.Context, proposalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acceptCnt++
	return s.acceptErr
}

func (s *stubOrderAPI) RejectProposal(ctx context.Context, proposalID string, cancelEntireOrder bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectCnt++
	s.lastCancelEntireOrder = cancelEntireOrder
	return s.rejectErr
}

func (s *stubOrderAPI) gets(orderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCnt[orderID]
}

var _ domain.OrderAPI = (*stubOrderAPI)(nil)

func twoVendorOrder(id string) domain.CompositeOrder {
	now := time.Now().UTC()
	order := domain.CompositeOrder{
		ID:         id,
		CustomerID: "customer-1",
		SubOrders: []domain.SubOrder{
			{
				ID:         id + "-sub-1",
				VendorID:   "vendor-1",
				VendorName: "Fresh Market",
				Status:     domain.SubOrderStatusConfirmed,
				Items: []domain.OrderItem{{
					ID:             id + "-item-1",
					ProductID:      "product-1",
					ProductName:    "Espresso Beans",
					Quantity:       2,
					UnitPriceMinor: 150,
				}},
			},
			{
				ID:         id + "-sub-2",
				VendorID:   "vendor-2",
				VendorName: "Bakery Corner",
				Status:     domain.SubOrderStatusConfirmed,
				Items: []domain.OrderItem{{
					ID:             id + "-item-2",
					ProductID:      "product-2",
					ProductName:    "Sourdough Loaf",
					Quantity:       4,
					UnitPriceMinor: 100,
				}},
			},
		},
		DeliveryFeeMinor: 200,
		DeliveryAddress:  "10 Main St",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	order.RecomputeTotals()
	order.Status = domain.DeriveStatus(&order)
	return order
}

func newTestEngine(t *testing.T, api *stubOrderAPI, options ...Option) (*Engine, domain.SnapshotStore) {
	t.Helper()

	store := memory.NewSnapshotStore()
	base := []Option{
		WithLogger(log.New().WithField("test", t.Name())),
		WithDebounce(5 * time.Millisecond),
		WithSweepInterval(5 * time.Millisecond),
	}
	engine := NewEngine(store, api, append(base, options...)...)
	return engine, store
}

func seedTracked(t *testing.T, engine *Engine, store domain.SnapshotStore, order domain.CompositeOrder) {
	t.Helper()

	_, err := store.Replace(order)
	require.NoError(t, err)
	engine.Track(order.ID)

	state, tracked := engine.State(order.ID)
	require.True(t, tracked)
	require.Equal(t, StateSynced, state)
}

func TestEngine_DirectMergeAppliesDelta(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api)
	order := twoVendorOrder("order-1")
	seedTracked(t, engine, store, order)

	engine.HandleEvent(&kafka.OrderEvent{
		Event:          kafka.EventOrderReady,
		OrderID:        order.ID,
		SubOrderID:     order.SubOrders[0].ID,
		SubOrderStatus: domain.SubOrderStatusReady,
	})

	updated, err := store.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubOrderStatusReady, updated.SubOrders[0].Status)

	state, _ := engine.State(order.ID)
	require.Equal(t, StateSynced, state)
	require.Equal(t, 0, api.gets(order.ID))
}

func TestEngine_ImpliedStatusFromEventName(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api)
	order := twoVendorOrder("order-1")
	seedTracked(t, engine, store, order)

	// Payload несёт только subOrderId; статус выводится из имени события.
	engine.HandleEvent(&kafka.OrderEvent{
		Event:      kafka.EventOrderDelivered,
		OrderID:    order.ID,
		SubOrderID: order.SubOrders[1].ID,
	})

	updated, err := store.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubOrderStatusDelivered, updated.SubOrders[1].Status)
}

func TestEngine_IllegalMergeTriggersSingleRefresh(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api)
	order := twoVendorOrder("order-1")
	order.SubOrders[0].Status = domain.SubOrderStatusDelivered
	order.Status = domain.DeriveStatus(&order)
	seedTracked(t, engine, store, order)

	authoritative := twoVendorOrder("order-1")
	authoritative.SubOrders[0].Status = domain.SubOrderStatusDelivered
	authoritative.SubOrders[1].Status = domain.SubOrderStatusDelivered
	authoritative.Status = domain.DeriveStatus(&authoritative)
	api.mu.Lock()
	api.orders[order.ID] = authoritative
	api.mu.Unlock()

	// Регрессия DELIVERED -> CONFIRMED недопустима: merge отклоняется.
	engine.HandleEvent(&kafka.OrderEvent{
		Event:          kafka.EventOrderConfirmed,
		OrderID:        order.ID,
		SubOrderID:     order.SubOrders[0].ID,
		SubOrderStatus: domain.SubOrderStatusConfirmed,
	})

	kept, err := store.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubOrderStatusDelivered, kept.SubOrders[0].Status)

	require.Eventually(t, func() bool {
		state, _ := engine.State(order.ID)
		return state == StateSynced && api.gets(order.ID) == 1
	}, time.Second, 5*time.Millisecond)

	refreshed, err := store.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCompleted, refreshed.Status)
	require.Equal(t, 1, api.gets(order.ID))
}

func TestEngine_ThinEventTriggersRefresh(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api)
	order := twoVendorOrder("order-1")
	seedTracked(t, engine, store, order)
	api.mu.Lock()
	api.orders[order.ID] = order
	api.mu.Unlock()

	// VENDOR_ORDER_PROPOSED без payload proposal — только полный refresh.
	engine.HandleEvent(&kafka.OrderEvent{
		Event:   kafka.EventVendorOrderProposed,
		OrderID: order.ID,
	})

	require.Eventually(t, func() bool {
		return api.gets(order.ID) == 1
	}, time.Second, 5*time.Millisecond)
}

// Снапшот бэкенда с нарушенными доменными инвариантами всё равно коммитится
// (бэкенд authoritative), но движок пишет предупреждение в лог.
func TestEngine_RefreshWarnsOnInvariantViolation(t *testing.T) {
	api := newStubOrderAPI()
	logger, hook := logtest.NewNullLogger()
	engine, store := newTestEngine(t, api, WithLogger(logger.WithField("test", t.Name())))

	order := twoVendorOrder("order-1")
	seedTracked(t, engine, store, order)

	// Отменённая часть с нерешённым proposal — нелегальное сочетание.
	broken := order.Clone()
	broken.SubOrders[0].Status = domain.SubOrderStatusCancelled
	broken.SubOrders[0].Proposals = []domain.Proposal{{
		ID:         "proposal-1",
		SubOrderID: broken.SubOrders[0].ID,
		ItemID:     broken.SubOrders[0].Items[0].ID,
		Type:       domain.ProposalTypeUnavailable,
		Status:     domain.ProposalStatusPending,
	}}
	api.mu.Lock()
	api.orders[order.ID] = broken
	api.mu.Unlock()

	engine.HandleEvent(&kafka.OrderEvent{
		Event:   kafka.EventVendorOrderProposed,
		OrderID: order.ID,
	})

	require.Eventually(t, func() bool {
		state, ok := engine.State(order.ID)
		return ok && state == StateSynced
	}, time.Second, 5*time.Millisecond)

	committed, err := store.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubOrderStatusCancelled, committed.SubOrders[0].Status)
	require.NotEmpty(t, committed.SubOrders[0].Proposals)

	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.WarnLevel && entry.Message == "refreshed snapshot violates order invariant" {
			warned = true
		}
	}
	require.True(t, warned, "expected an invariant warning in the log")
}

func TestEngine_VendorProposalEventAddsProposal(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api)
	order := twoVendorOrder("order-1")
	seedTracked(t, engine, store, order)

	engine.HandleEvent(&kafka.OrderEvent{
		Event:   kafka.EventVendorOrderProposed,
		OrderID: order.ID,
		Proposal: &domain.Proposal{
			ID:               "proposal-1",
			SubOrderID:       order.SubOrders[0].ID,
			ItemID:           order.SubOrders[0].Items[0].ID,
			Type:             domain.ProposalTypeQuantityReduced,
			ProposedQuantity: 1,
			Status:           domain.ProposalStatusPending,
		},
	})

	updated, err := store.Get(order.ID)
	require.NoError(t, err)
	require.Len(t, updated.SubOrders[0].Proposals, 1)
	require.Equal(t, domain.OrderStatusWaitingCustomerDecision, updated.Status)
	require.Equal(t, 0, api.gets(order.ID))
}

func TestEngine_ReconnectMarksAllTrackedStale(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api, WithDebounce(30*time.Millisecond))

	ids := []string{"order-1", "order-2", "order-3"}
	for _, id := range ids {
		order := twoVendorOrder(id)
		seedTracked(t, engine, store, order)
		api.mu.Lock()
		api.orders[id] = order
		api.mu.Unlock()
	}

	engine.HandleChannelState(kafka.StateConnected)

	for _, id := range ids {
		state, tracked := engine.State(id)
		require.True(t, tracked)
		require.NotEqual(t, StateSynced, state)
	}

	// Каждый заказ обновляется ровно один раз: повторных refresh нет.
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if api.gets(id) != 1 {
				return false
			}
			if state, _ := engine.State(id); state != StateSynced {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	for _, id := range ids {
		require.Equal(t, 1, api.gets(id))
	}
}

func TestEngine_RepeatedConnectedStateIsNoOp(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api)
	order := twoVendorOrder("order-1")
	seedTracked(t, engine, store, order)
	api.mu.Lock()
	api.orders[order.ID] = order
	api.mu.Unlock()

	engine.HandleChannelState(kafka.StateConnected)
	engine.HandleChannelState(kafka.StateConnected)

	require.Eventually(t, func() bool {
		state, _ := engine.State(order.ID)
		return state == StateSynced
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, api.gets(order.ID))
}

func TestEngine_UntrackDiscardsPendingRefresh(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api, WithDebounce(20*time.Millisecond))
	order := twoVendorOrder("order-1")
	seedTracked(t, engine, store, order)
	api.mu.Lock()
	api.orders[order.ID] = order
	api.mu.Unlock()

	engine.HandleEvent(&kafka.OrderEvent{
		Event:   kafka.EventVendorOrderProposed,
		OrderID: order.ID,
	})
	engine.Untrack(order.ID)

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 0, api.gets(order.ID))
}

func TestEngine_EventDuringRefreshSchedulesAnother(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api)
	order := twoVendorOrder("order-1")
	seedTracked(t, engine, store, order)
	api.mu.Lock()
	api.orders[order.ID] = order
	api.gate = make(chan struct{})
	gate := api.gate
	api.mu.Unlock()

	engine.HandleEvent(&kafka.OrderEvent{
		Event:   kafka.EventVendorOrderProposed,
		OrderID: order.ID,
	})

	require.Eventually(t, func() bool {
		state, _ := engine.State(order.ID)
		return state == StateRefreshing
	}, time.Second, time.Millisecond)

	// Событие во время refresh: его дельта отбрасывается, но после
	// приземления снапшота планируется ещё один refresh.
	engine.HandleEvent(&kafka.OrderEvent{
		Event:          kafka.EventOrderReady,
		OrderID:        order.ID,
		SubOrderID:     order.SubOrders[0].ID,
		SubOrderStatus: domain.SubOrderStatusReady,
	})

	close(gate)
	api.mu.Lock()
	api.gate = nil
	api.mu.Unlock()

	require.Eventually(t, func() bool {
		return api.gets(order.ID) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_OrderGoneOnBackendDropsFromCache(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api)
	order := twoVendorOrder("order-1")
	seedTracked(t, engine, store, order)
	// Бэкенд заказ не знает: api.orders пуст.

	engine.markStale(order.ID, "test")

	require.Eventually(t, func() bool {
		_, tracked := engine.State(order.ID)
		return !tracked
	}, time.Second, 5*time.Millisecond)

	_, err := store.Get(order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestEngine_OrderCreatedTracksUnknownOrder(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api)
	order := twoVendorOrder("order-9")
	api.mu.Lock()
	api.orders[order.ID] = order
	api.mu.Unlock()

	engine.HandleEvent(&kafka.OrderEvent{
		Event:   kafka.EventOrderCreated,
		OrderID: order.ID,
	})

	require.Eventually(t, func() bool {
		state, tracked := engine.State(order.ID)
		return tracked && state == StateSynced
	}, time.Second, 5*time.Millisecond)

	restored, err := store.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, restored.ID)
}

func TestEngine_UnknownOrderEventIgnored(t *testing.T) {
	api := newStubOrderAPI()
	engine, _ := newTestEngine(t, api)

	engine.HandleEvent(&kafka.OrderEvent{
		Event:          kafka.EventOrderReady,
		OrderID:        "order-unknown",
		SubOrderID:     "sub-1",
		SubOrderStatus: domain.SubOrderStatusReady,
	})

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, api.gets("order-unknown"))
	require.Equal(t, 0, engine.TrackedCount())
}

func TestEngine_SweepSelfHealsExpiredCorroboration(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api, WithCorroboration(10*time.Millisecond))
	order := twoVendorOrder("order-1")
	seedTracked(t, engine, store, order)
	api.mu.Lock()
	api.orders[order.ID] = order
	api.mu.Unlock()

	engine.expectCorroboration(order.ID)
	time.Sleep(20 * time.Millisecond)
	engine.SweepOnce()

	require.Eventually(t, func() bool {
		return api.gets(order.ID) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_CorroboratedApplyIsNotSwept(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api, WithCorroboration(10*time.Millisecond))
	order := twoVendorOrder("order-1")
	seedTracked(t, engine, store, order)

	engine.expectCorroboration(order.ID)
	// Подтверждающее событие пришло вовремя.
	engine.HandleEvent(&kafka.OrderEvent{
		Event:          kafka.EventOrderReady,
		OrderID:        order.ID,
		SubOrderID:     order.SubOrders[0].ID,
		SubOrderStatus: domain.SubOrderStatusReady,
	})

	time.Sleep(20 * time.Millisecond)
	engine.SweepOnce()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, api.gets(order.ID))
}

func TestEngine_BootstrapTracksActiveOrders(t *testing.T) {
	api := newStubOrderAPI()
	engine, store := newTestEngine(t, api)

	active := twoVendorOrder("order-1")
	done := twoVendorOrder("order-2")
	done.SubOrders[0].Status = domain.SubOrderStatusDelivered
	done.SubOrders[1].Status = domain.SubOrderStatusDelivered
	done.Status = domain.DeriveStatus(&done)
	api.mu.Lock()
	api.orders[active.ID] = active
	api.orders[done.ID] = done
	api.mu.Unlock()

	require.NoError(t, engine.Bootstrap(context.Background()))

	_, tracked := engine.State(active.ID)
	require.True(t, tracked)
	_, tracked = engine.State(done.ID)
	require.False(t, tracked)

	// Завершённый заказ всё равно остаётся в кеше для истории.
	_, err := store.Get(done.ID)
	require.NoError(t, err)
}
