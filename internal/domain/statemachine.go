package domain

import "fmt"

// subOrderRank задаёт монотонный порядок жизненного цикла части заказа.
// CANCELLED в порядок не входит: он достижим из любого нетерминального статуса.
var subOrderRank = map[SubOrderStatus]int{
	SubOrderStatusPending:   0,
	SubOrderStatusConfirmed: 1,
	SubOrderStatusPreparing: 2,
	SubOrderStatusReady:     3,
	SubOrderStatusPickedUp:  4,
	SubOrderStatusOnTheWay:  5,
	SubOrderStatusDelivered: 6,
}

// CanTransition сообщает, допустим ли переход статуса части заказа.
// Переход в тот же статус допустим как no-op: push-канал может доставить
// одно и то же событие повторно после reconnect.
func CanTransition(from, to SubOrderStatus) bool {
	if from == to {
		return true
	}
	// Из терминальных статусов выхода нет.
	if from == SubOrderStatusCancelled || from == SubOrderStatusDelivered {
		return false
	}
	if to == SubOrderStatusCancelled {
		return true
	}
	fromRank, okFrom := subOrderRank[from]
	toRank, okTo := subOrderRank[to]
	if !okFrom || !okTo {
		return false
	}
	// Пропуск статусов вперёд допустим: события могли потеряться на reconnect.
	return toRank > fromRank
}

// ValidateTransition возвращает ErrIllegalTransition для недопустимого перехода.
func ValidateTransition(from, to SubOrderStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// DeriveStatus выводит агрегированный статус заказа из статусов его частей.
// Порядок правил значим: отмена и ожидание решения клиента доминируют
// над остальными. Результат не зависит от порядка частей в срезе.
func DeriveStatus(o *CompositeOrder) CompositeOrderStatus {
	if len(o.SubOrders) == 0 {
		return OrderStatusCancelled
	}

	allCancelled := true
	anyPendingProposal := false
	anyPendingSub := false
	allDelivered := true
	anyInTransit := false

	for i := range o.SubOrders {
		sub := &o.SubOrders[i]
		if sub.Status != SubOrderStatusCancelled {
			allCancelled = false
		} else {
			continue
		}
		if sub.HasPendingProposals() {
			anyPendingProposal = true
		}
		switch sub.Status {
		case SubOrderStatusPending:
			anyPendingSub = true
			allDelivered = false
		case SubOrderStatusPickedUp, SubOrderStatusOnTheWay:
			anyInTransit = true
			allDelivered = false
		case SubOrderStatusDelivered:
			// учитывается в allDelivered
		default:
			allDelivered = false
		}
	}

	switch {
	case allCancelled:
		return OrderStatusCancelled
	case anyPendingProposal:
		return OrderStatusWaitingCustomerDecision
	case anyPendingSub:
		return OrderStatusPendingVendorConfirmation
	case allDelivered:
		return OrderStatusCompleted
	case anyInTransit:
		return OrderStatusInDelivery
	default:
		return OrderStatusReady
	}
}
