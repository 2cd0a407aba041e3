package domain

import "fmt"

// Patch описывает частичное обновление заказа. Хранилище применяет patch
// атомарно: либо все изменения валидны и закоммичены, либо заказ не тронут.
type Patch struct {
	// SubOrderStatuses — новые статусы частей заказа (subOrderID -> статус).
	SubOrderStatuses map[string]SubOrderStatus
	// ProposalStatuses — терминальные разрешения proposals (proposalID -> статус).
	ProposalStatuses map[string]ProposalStatus
	// ItemQuantities — новые количества позиций (itemID -> qty).
	// Нулевое количество означает удаление позиции (семантика UNAVAILABLE).
	ItemQuantities map[string]int32
	// NewProposals — поднятые вендором proposals (событие VENDOR_ORDER_PROPOSED).
	NewProposals []Proposal
}

// IsEmpty сообщает, несёт ли patch хоть одно изменение.
func (p Patch) IsEmpty() bool {
	return len(p.SubOrderStatuses) == 0 && len(p.ProposalStatuses) == 0 &&
		len(p.ItemQuantities) == 0 && len(p.NewProposals) == 0
}

// Apply применяет patch к заказу и пересчитывает суммы и агрегированный статус.
// Вызывающий обязан работать с копией: при ошибке заказ может быть
// изменён частично, и такую копию следует отбросить.
func (p Patch) Apply(o *CompositeOrder) error {
	for i := range p.NewProposals {
		if err := applyNewProposal(o, p.NewProposals[i]); err != nil {
			return err
		}
	}

	// Сначала разрешаем proposals: отмена части ниже автоматически
	// отклоняет её оставшиеся PENDING proposals.
	for proposalID, status := range p.ProposalStatuses {
		if err := applyProposalStatus(o, proposalID, status); err != nil {
			return err
		}
	}

	for itemID, qty := range p.ItemQuantities {
		if err := applyItemQuantity(o, itemID, qty); err != nil {
			return err
		}
	}

	for subOrderID, status := range p.SubOrderStatuses {
		if err := applySubOrderStatus(o, subOrderID, status); err != nil {
			return err
		}
	}

	o.RecomputeTotals()
	o.Status = DeriveStatus(o)
	return nil
}

func applyNewProposal(o *CompositeOrder, p Proposal) error {
	sub := o.SubOrder(p.SubOrderID)
	if sub == nil {
		return fmt.Errorf("%w: sub-order %s", ErrSubOrderNotFound, p.SubOrderID)
	}
	if sub.Status == SubOrderStatusCancelled || sub.Status == SubOrderStatusDelivered {
		return fmt.Errorf("%w: proposal on %s sub-order %s", ErrIllegalTransition, sub.Status, sub.ID)
	}
	if _, existing := o.FindProposal(p.ID); existing != nil {
		// Повторная доставка того же события — no-op.
		return nil
	}
	if err := ValidateProposal(p); err != nil {
		return err
	}
	sub.Proposals = append(sub.Proposals, p)
	return nil
}

func applyProposalStatus(o *CompositeOrder, proposalID string, status ProposalStatus) error {
	_, proposal := o.FindProposal(proposalID)
	if proposal == nil {
		return fmt.Errorf("%w: proposal %s", ErrProposalNotFound, proposalID)
	}
	if proposal.Status == status {
		// Повторная доставка того же разрешения — no-op.
		return nil
	}
	if proposal.Terminal() {
		return fmt.Errorf("%w: proposal %s already %s", ErrIllegalTransition, proposalID, proposal.Status)
	}
	proposal.Status = status
	return nil
}

func applyItemQuantity(o *CompositeOrder, itemID string, qty int32) error {
	if qty < 0 {
		return fmt.Errorf("%w: negative quantity for item %s", ErrIllegalTransition, itemID)
	}

	sub, item := o.FindItem(itemID)
	if item == nil {
		if qty == 0 {
			// Позиция уже удалена предыдущим применением того же patch.
			return nil
		}
		return fmt.Errorf("%w: item %s", ErrItemNotFound, itemID)
	}

	if qty == 0 {
		for i := range sub.Items {
			if sub.Items[i].ID == itemID {
				sub.Items = append(sub.Items[:i], sub.Items[i+1:]...)
				break
			}
		}
		return nil
	}

	item.Quantity = qty
	return nil
}

func applySubOrderStatus(o *CompositeOrder, subOrderID string, status SubOrderStatus) error {
	sub := o.SubOrder(subOrderID)
	if sub == nil {
		return fmt.Errorf("%w: sub-order %s", ErrSubOrderNotFound, subOrderID)
	}
	if err := ValidateTransition(sub.Status, status); err != nil {
		return err
	}
	sub.Status = status

	// Инвариант: отменённая часть не держит нерешённых proposals.
	if status == SubOrderStatusCancelled {
		for i := range sub.Proposals {
			if sub.Proposals[i].Status == ProposalStatusPending {
				sub.Proposals[i].Status = ProposalStatusRejected
			}
		}
	}
	return nil
}
