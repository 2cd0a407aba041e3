package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/osync/internal/domain"
)

// EventName определяет имя события жизненного цикла заказа.
type EventName string

const (
	EventOrderCreated        EventName = "ORDER_CREATED"
	EventOrderConfirmed      EventName = "ORDER_CONFIRMED"
	EventOrderCancelled      EventName = "ORDER_CANCELLED"
	EventOrderReady          EventName = "ORDER_READY"
	EventOrderPickedUp       EventName = "ORDER_PICKED_UP"
	EventOrderOnTheWay       EventName = "ORDER_ON_THE_WAY"
	EventOrderDelivered      EventName = "ORDER_DELIVERED"
	EventVendorOrderProposed EventName = "VENDOR_ORDER_PROPOSED"
	EventProposalAccepted    EventName = "PROPOSAL_ACCEPTED"
	EventProposalRejected    EventName = "PROPOSAL_REJECTED"
)

// Topics для Kafka
const (
	TopicOrderEvents = "orders.customer.events"
)

// OrderTopics — фиксированный набор topics сессии; список статичен,
// подключение подписывает на все сразу.
func OrderTopics() []string {
	return []string{TopicOrderEvents}
}

// LifecycleEvents возвращает полный набор имён событий заказа.
func LifecycleEvents() []EventName {
	return []EventName{
		EventOrderCreated,
		EventOrderConfirmed,
		EventOrderCancelled,
		EventOrderReady,
		EventOrderPickedUp,
		EventOrderOnTheWay,
		EventOrderDelivered,
		EventVendorOrderProposed,
		EventProposalAccepted,
		EventProposalRejected,
	}
}

// OrderEvent представляет push-событие по заказу. Обязателен только OrderID;
// остальные поля — опциональная дельта для прямого merge без refetch.
type OrderEvent struct {
	Event   EventName `json:"event"`
	OrderID string    `json:"orderId"`
	// SubOrderID и SubOrderStatus присутствуют в событиях статуса части заказа.
	SubOrderID     string                `json:"subOrderId,omitempty"`
	SubOrderStatus domain.SubOrderStatus `json:"subOrderStatus,omitempty"`
	// Proposal присутствует в VENDOR_ORDER_PROPOSED.
	Proposal *domain.Proposal `json:"proposal,omitempty"`
	// ProposalID и CancelEntireOrder присутствуют в событиях разрешения proposal.
	ProposalID        string    `json:"proposalId,omitempty"`
	CancelEntireOrder bool      `json:"cancelEntireOrder,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// ParseOrderEvent парсит OrderEvent из сообщения Kafka.
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("order event without event name")
	}
	if event.OrderID == "" {
		return nil, fmt.Errorf("order event %s without order id", event.Event)
	}
	return &event, nil
}
