package sync

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/osync/internal/domain"
)

// PlaceOrder создаёт заказ на бэкенде и сразу коммитит возвращённый
// снапшот в кеш как authoritative. Заказ ставится на отслеживание.
func (e *Engine) PlaceOrder(ctx context.Context, draft domain.OrderDraft) (domain.CompositeOrder, error) {
	order, err := e.api.CreateOrder(ctx, draft)
	if err != nil {
		return domain.CompositeOrder{}, err
	}

	committed, err := e.store.Replace(order)
	if err != nil {
		return domain.CompositeOrder{}, fmt.Errorf("failed to commit created order: %w", err)
	}

	e.Track(committed.ID)
	// ORDER_CREATED из канала подтвердит снапшот; до тех пор держим
	// окно подтверждения открытым.
	e.expectCorroboration(committed.ID)
	e.archiveSnapshot(committed)

	e.logger.WithField("order_id", committed.ID).Info("order placed")
	return committed, nil
}

// CancelOrder отменяет заказ целиком: сначала команда бэкенду, затем
// оптимистичная отмена всех незавершённых частей локально.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (domain.CompositeOrder, error) {
	order, err := e.store.Get(orderID)
	if err != nil {
		return domain.CompositeOrder{}, err
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
		return order, nil
	}

	if err := e.api.CancelOrder(ctx, orderID); err != nil {
		// Локальное состояние не трогаем: команда не прошла.
		return domain.CompositeOrder{}, err
	}

	return e.applyOptimistic(orderID, domain.Patch{SubOrderStatuses: statuses})
}

// AcceptProposal принимает proposal вендора: легальность проверяется
// локально до команды, затем patch применяется оптимистично в ожидании
// подтверждающего события.
func (e *Engine) AcceptProposal(ctx context.Context, orderID, proposalID string) (domain.CompositeOrder, error) {
	order, err := e.store.Get(orderID)
	if err != nil {
		return domain.CompositeOrder{}, err
	}

	patch, err := domain.ResolveAccept(&order, proposalID)
	if err != nil {
		return domain.CompositeOrder{}, err
	}

	if err := e.api.AcceptProposal(ctx, proposalID); err != nil {
		return domain.CompositeOrder{}, err
	}

	return e.applyOptimistic(orderID, patch)
}

// RejectProposal отклоняет proposal вендора; cancelEntireOrder расширяет
// отказ до отмены всех незавершённых частей заказа.
func (e *Engine) RejectProposal(ctx context.Context, orderID, proposalID string, cancelEntireOrder bool) (domain.CompositeOrder, error) {
	order, err := e.store.Get(orderID)
	if err != nil {
		return domain.CompositeOrder{}, err
	}

	patch, err := domain.ResolveReject(&order, proposalID, cancelEntireOrder)
	if err != nil {
		return domain.CompositeOrder{}, err
	}

	if err := e.api.RejectProposal(ctx, proposalID, cancelEntireOrder); err != nil {
		return domain.CompositeOrder{}, err
	}

	return e.applyOptimistic(orderID, patch)
}

// applyOptimistic коммитит локальный patch после успешной команды и
// открывает окно подтверждения. Отказ merge при уже прошедшей команде
// означает расхождение кеша — лечится полным refresh.
func (e *Engine) applyOptimistic(orderID string, patch domain.Patch) (domain.CompositeOrder, error) {
	merged, err := e.store.Merge(orderID, patch)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordMergeRejected()
		}
		e.logger.WithError(err).WithField("order_id", orderID).Warn("optimistic apply rejected, scheduling refresh")
		e.markStale(orderID, "optimistic apply rejected")
		return e.store.Get(orderID)
	}

	if e.metrics != nil {
		e.metrics.RecordOptimisticApply()
	}
	e.expectCorroboration(orderID)
	e.archiveSnapshot(merged)
	return merged, nil
}
