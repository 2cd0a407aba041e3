package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order id is required")
	// Ошибка заказа без единой вендорской части.
	ErrSubOrdersRequired = errors.New("order must contain at least one sub-order")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total amount must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отменённой части с нерешёнными proposals.
	ErrCancelledWithPending = errors.New("cancelled sub-order holds pending proposals")

	// ErrOrderNotFound возвращается, если заказ не найден в кеше или архиве.
	ErrOrderNotFound = errors.New("order not found")
	// ErrSubOrderNotFound возвращается, если patch ссылается на неизвестную часть заказа.
	ErrSubOrderNotFound = errors.New("sub-order not found")
	// ErrProposalNotFound возвращается при разрешении неизвестного proposal.
	ErrProposalNotFound = errors.New("proposal not found")
	// ErrItemNotFound возвращается, если patch ссылается на неизвестную позицию.
	ErrItemNotFound = errors.New("order item not found")

	// ErrIllegalTransition — state machine отклонила переход статуса.
	// Восстановимо через authoritative refetch, наружу не поднимается.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrInvalidProposalState — расхождение между proposal и его частью заказа.
	// Поднимается вызывающему, автоматически не чинится.
	ErrInvalidProposalState = errors.New("invalid proposal state")
	// ErrMalformedProposal — тип proposal не согласован с proposedQuantity.
	ErrMalformedProposal = errors.New("malformed proposal")
	// ErrRemoteCommandFailed — REST-команда accept/reject/cancel не прошла;
	// локальное состояние не меняется, повтор — решение вызывающего.
	ErrRemoteCommandFailed = errors.New("remote command failed")
	// ErrChannelDisconnected — push-канал недоступен; носит advisory-характер.
	ErrChannelDisconnected = errors.New("event channel disconnected")
)

// IsIllegalTransition проверяет, является ли ошибка отклонённым переходом статуса.
func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}

// IsNotFound проверяет, указывает ли ошибка на отсутствующий заказ либо его фрагмент.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrSubOrderNotFound) ||
		errors.Is(err, ErrProposalNotFound) ||
		errors.Is(err, ErrItemNotFound)
}
