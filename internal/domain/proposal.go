package domain

import "fmt"

// CanAccept сообщает, можно ли принять proposal.
func CanAccept(p Proposal) bool {
	return p.Status == ProposalStatusPending
}

// CanReject сообщает, можно ли отклонить proposal.
func CanReject(p Proposal) bool {
	return p.Status == ProposalStatusPending
}

// ValidateProposal проверяет согласованность типа proposal и proposedQuantity.
// QUANTITY_REDUCED с нулевым количеством — это семантика UNAVAILABLE,
// и такой payload отклоняется как malformed.
func ValidateProposal(p Proposal) error {
	switch p.Type {
	case ProposalTypeQuantityReduced:
		if p.ProposedQuantity <= 0 {
			return fmt.Errorf("%w: %s quantity must be positive, got %d", ErrMalformedProposal, p.Type, p.ProposedQuantity)
		}
	case ProposalTypeUnavailable:
		if p.ProposedQuantity != 0 {
			return fmt.Errorf("%w: %s must not carry a quantity", ErrMalformedProposal, p.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedProposal, p.Type)
	}
	return nil
}

// ResolveAccept строит patch принятия proposal: статус ACCEPTED плюс
// корректировка количества позиции (или её удаление для UNAVAILABLE).
// Повторное принятие уже принятого proposal возвращает тот же patch —
// дубликаты доставки от нестабильной сети не считаются ошибкой.
func ResolveAccept(o *CompositeOrder, proposalID string) (Patch, error) {
	_, proposal, err := resolvable(o, proposalID, ProposalStatusAccepted)
	if err != nil {
		return Patch{}, err
	}

	if err := ValidateProposal(*proposal); err != nil {
		return Patch{}, err
	}

	patch := Patch{
		ProposalStatuses: map[string]ProposalStatus{proposal.ID: ProposalStatusAccepted},
		ItemQuantities:   map[string]int32{},
	}
	switch proposal.Type {
	case ProposalTypeUnavailable:
		patch.ItemQuantities[proposal.ItemID] = 0
	case ProposalTypeQuantityReduced:
		patch.ItemQuantities[proposal.ItemID] = proposal.ProposedQuantity
	}
	return patch, nil
}

// ResolveReject строит patch отклонения proposal. Отклонение всегда
// отменяет часть заказа, владеющую proposal; при cancelEntireOrder
// дополнительно отменяются все остальные нетерминальные части.
// Уже доставленные части (DELIVERED) отмене не подлежат.
func ResolveReject(o *CompositeOrder, proposalID string, cancelEntireOrder bool) (Patch, error) {
	sub, proposal, err := resolvable(o, proposalID, ProposalStatusRejected)
	if err != nil {
		return Patch{}, err
	}

	patch := Patch{
		ProposalStatuses: map[string]ProposalStatus{proposal.ID: ProposalStatusRejected},
		SubOrderStatuses: map[string]SubOrderStatus{sub.ID: SubOrderStatusCancelled},
	}

	if cancelEntireOrder {
		for i := range o.SubOrders {
			other := &o.SubOrders[i]
			if other.ID == sub.ID {
				continue
			}
			if other.Status == SubOrderStatusCancelled || other.Status == SubOrderStatusDelivered {
				continue
			}
			patch.SubOrderStatuses[other.ID] = SubOrderStatusCancelled
		}
	}
	return patch, nil
}

// resolvable находит proposal и проверяет допустимость его разрешения в target.
// Повторное разрешение в тот же терминальный статус допустимо (идемпотентность),
// конфликтующее терминальное состояние — это расхождение данных.
func resolvable(o *CompositeOrder, proposalID string, target ProposalStatus) (*SubOrder, *Proposal, error) {
	sub, proposal := o.FindProposal(proposalID)
	if proposal == nil {
		return nil, nil, fmt.Errorf("%w: proposal %s", ErrProposalNotFound, proposalID)
	}

	if proposal.Terminal() {
		if proposal.Status == target {
			return sub, proposal, nil
		}
		return nil, nil, fmt.Errorf("%w: proposal %s already %s, cannot resolve as %s",
			ErrInvalidProposalState, proposalID, proposal.Status, target)
	}

	// PENDING proposal у отменённой части — расхождение данных: отмена части
	// обязана была отклонить её proposals. Сообщаем, не чиним молча.
	if sub.Status == SubOrderStatusCancelled {
		return nil, nil, fmt.Errorf("%w: sub-order %s is cancelled but proposal %s is still pending",
			ErrInvalidProposalState, sub.ID, proposalID)
	}

	return sub, proposal, nil
}
