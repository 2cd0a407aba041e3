package domain

import "time"

// CompositeOrderStatus описывает агрегированный статус мультивендорного заказа.
// Статус всегда выводится из статусов sub-order'ов (см. DeriveStatus)
// и никогда не хранится как независимый источник истины.
type CompositeOrderStatus string

const (
	// OrderStatusPendingVendorConfirmation — хотя бы один магазин ещё не подтвердил свою часть.
	OrderStatusPendingVendorConfirmation CompositeOrderStatus = "PENDING_VENDOR_CONFIRMATION"
	// OrderStatusWaitingCustomerDecision — есть нерешённые proposals, требуется реакция клиента.
	OrderStatusWaitingCustomerDecision CompositeOrderStatus = "WAITING_CUSTOMER_DECISION"
	// OrderStatusReady — все части подтверждены, заказ готовится или готов к выдаче.
	OrderStatusReady CompositeOrderStatus = "READY"
	// OrderStatusInDelivery — хотя бы одна часть передана курьеру.
	OrderStatusInDelivery CompositeOrderStatus = "IN_DELIVERY"
	// OrderStatusCompleted — все неотменённые части доставлены.
	OrderStatusCompleted CompositeOrderStatus = "COMPLETED"
	// OrderStatusCancelled — все части заказа отменены.
	OrderStatusCancelled CompositeOrderStatus = "CANCELLED"
)

// SubOrderStatus описывает жизненный цикл части заказа у одного вендора.
type SubOrderStatus string

const (
	SubOrderStatusPending   SubOrderStatus = "PENDING"
	SubOrderStatusConfirmed SubOrderStatus = "CONFIRMED"
	SubOrderStatusPreparing SubOrderStatus = "PREPARING"
	SubOrderStatusReady     SubOrderStatus = "READY"
	SubOrderStatusPickedUp  SubOrderStatus = "PICKED_UP"
	SubOrderStatusOnTheWay  SubOrderStatus = "ON_THE_WAY"
	SubOrderStatusDelivered SubOrderStatus = "DELIVERED"
	SubOrderStatusCancelled SubOrderStatus = "CANCELLED"
)

// ProposalType описывает тип изменения, предложенного вендором.
type ProposalType string

const (
	// ProposalTypeUnavailable — позиция недоступна, вендор предлагает убрать её из заказа.
	ProposalTypeUnavailable ProposalType = "UNAVAILABLE"
	// ProposalTypeQuantityReduced — вендор предлагает уменьшить количество позиции.
	ProposalTypeQuantityReduced ProposalType = "QUANTITY_REDUCED"
)

// ProposalStatus описывает состояние предложения. ACCEPTED и REJECTED терминальны.
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "PENDING"
	ProposalStatusAccepted ProposalStatus = "ACCEPTED"
	ProposalStatusRejected ProposalStatus = "REJECTED"
)

// OrderItem представляет одну позицию в части заказа.
type OrderItem struct {
	// ID позиции нужен для привязки proposals и аудита.
	ID string `json:"id"`
	// ProductID — внешний идентификатор товара в каталоге.
	ProductID string `json:"productId"`
	// ProductName — отображаемое имя на момент оформления.
	ProductName string `json:"productName"`
	// Quantity — количество единиц; меняется только через принятый proposal.
	Quantity int32 `json:"quantity"`
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах.
	UnitPriceMinor int64 `json:"unitPrice"`
	// TotalPriceMinor — qty * price; пересчитывается при изменении количества.
	TotalPriceMinor int64 `json:"totalPrice"`
}

// Proposal — инициированный вендором запрос на изменение одной позиции.
type Proposal struct {
	ID         string `json:"id"`
	SubOrderID string `json:"subOrderId"`
	ItemID     string `json:"itemId"`
	// Type определяет семантику: убрать позицию или уменьшить количество.
	Type ProposalType `json:"type"`
	// ProposedQuantity присутствует только для QUANTITY_REDUCED и должно быть > 0.
	ProposedQuantity int32 `json:"proposedQuantity,omitempty"`
	// Status терминален после ACCEPTED/REJECTED; повторное разрешение идемпотентно.
	Status    ProposalStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Terminal сообщает, разрешён ли proposal окончательно.
func (p Proposal) Terminal() bool {
	return p.Status == ProposalStatusAccepted || p.Status == ProposalStatusRejected
}

// SubOrder — часть композитного заказа у одного вендора.
type SubOrder struct {
	ID         string         `json:"id"`
	VendorID   string         `json:"vendorId"`
	VendorName string         `json:"vendorName"`
	Status     SubOrderStatus `json:"status"`
	Items      []OrderItem    `json:"items"`
	Proposals  []Proposal     `json:"proposals"`
	// SubtotalMinor — сумма позиций части; пересчитывается при применении patch.
	SubtotalMinor int64 `json:"subtotal"`
}

// HasPendingProposals сообщает, есть ли у части нерешённые proposals.
func (s SubOrder) HasPendingProposals() bool {
	for _, p := range s.Proposals {
		if p.Status == ProposalStatusPending {
			return true
		}
	}
	return false
}

// CompositeOrder агрегирует части заказа по всем вендорам.
type CompositeOrder struct {
	ID         string               `json:"id"`
	CustomerID string               `json:"customerId"`
	Status     CompositeOrderStatus `json:"status"`
	// SubOrders хранятся в порядке создания вендорских частей.
	SubOrders []SubOrder `json:"subOrders"`
	// SubtotalMinor учитывает только неотменённые части.
	SubtotalMinor    int64  `json:"subtotal"`
	DeliveryFeeMinor int64  `json:"deliveryFee"`
	TotalAmountMinor int64  `json:"totalAmount"`
	DeliveryAddress  string `json:"deliveryAddress"`
	// Version инкрементируется хранилищем при каждом коммите.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SubOrder возвращает часть заказа по её идентификатору.
func (o *CompositeOrder) SubOrder(subOrderID string) *SubOrder {
	for i := range o.SubOrders {
		if o.SubOrders[i].ID == subOrderID {
			return &o.SubOrders[i]
		}
	}
	return nil
}

// FindProposal возвращает proposal и владеющую им часть заказа.
func (o *CompositeOrder) FindProposal(proposalID string) (*SubOrder, *Proposal) {
	for i := range o.SubOrders {
		sub := &o.SubOrders[i]
		for j := range sub.Proposals {
			if sub.Proposals[j].ID == proposalID {
				return sub, &sub.Proposals[j]
			}
		}
	}
	return nil, nil
}

// FindItem возвращает позицию и владеющую часть заказа по id позиции.
func (o *CompositeOrder) FindItem(itemID string) (*SubOrder, *OrderItem) {
	for i := range o.SubOrders {
		sub := &o.SubOrders[i]
		for j := range sub.Items {
			if sub.Items[j].ID == itemID {
				return sub, &sub.Items[j]
			}
		}
	}
	return nil, nil
}

// Clone возвращает глубокую копию заказа. Хранилище отдаёт и принимает
// только копии, чтобы избежать непредсказуемых мутаций извне.
func (o CompositeOrder) Clone() CompositeOrder {
	clone := o
	clone.SubOrders = make([]SubOrder, len(o.SubOrders))
	for i, sub := range o.SubOrders {
		cs := sub
		cs.Items = append([]OrderItem(nil), sub.Items...)
		cs.Proposals = append([]Proposal(nil), sub.Proposals...)
		clone.SubOrders[i] = cs
	}
	return clone
}

// RecomputeTotals пересчитывает суммы позиций, частей и итог заказа.
// Отменённые части не участвуют в итоговой сумме.
func (o *CompositeOrder) RecomputeTotals() {
	var subtotal int64
	for i := range o.SubOrders {
		sub := &o.SubOrders[i]
		var subSum int64
		for j := range sub.Items {
			item := &sub.Items[j]
			item.TotalPriceMinor = int64(item.Quantity) * item.UnitPriceMinor
			subSum += item.TotalPriceMinor
		}
		sub.SubtotalMinor = subSum
		if sub.Status != SubOrderStatusCancelled {
			subtotal += subSum
		}
	}
	o.SubtotalMinor = subtotal
	o.TotalAmountMinor = subtotal + o.DeliveryFeeMinor
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *CompositeOrder) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if len(o.SubOrders) == 0 {
		errs = append(errs, ErrSubOrdersRequired)
	}
	if o.TotalAmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	for _, sub := range o.SubOrders {
		for _, item := range sub.Items {
			if item.Quantity <= 0 {
				errs = append(errs, ErrItemQtyInvalid)
			}
			if item.UnitPriceMinor < 0 {
				errs = append(errs, ErrItemPriceInvalid)
			}
		}
		// Отменённая часть не может держать нерешённые proposals.
		if sub.Status == SubOrderStatusCancelled && sub.HasPendingProposals() {
			errs = append(errs, ErrCancelledWithPending)
		}
	}

	return errs
}
