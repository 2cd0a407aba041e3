package domain

import "context"

// ListFilter ограничивает выборку заказов из кеша.
type ListFilter struct {
	// CustomerID фильтрует по клиенту; пустое значение — без фильтра.
	CustomerID string
	// Statuses ограничивает выборку агрегированными статусами; пустой срез — все.
	Statuses []CompositeOrderStatus
	// Limit ограничивает количество (если > 0).
	Limit int
}

// Matches сообщает, проходит ли заказ фильтр.
func (f ListFilter) Matches(o *CompositeOrder) bool {
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// SnapshotStore — канонический локальный кеш композитных заказов.
// Все мутации для одного order id сериализуются; чтения видят только
// полностью закоммиченные снапшоты.
type SnapshotStore interface {
	// Get возвращает копию заказа или ErrOrderNotFound.
	Get(orderID string) (CompositeOrder, error)
	// List перевыводит выборку из текущего состояния кеша при каждом вызове.
	List(filter ListFilter) ([]CompositeOrder, error)
	// Merge применяет частичное обновление через валидацию state machine.
	// Недопустимый patch отклоняется целиком, заказ остаётся прежним.
	Merge(orderID string, patch Patch) (CompositeOrder, error)
	// Replace безусловно устанавливает authoritative снапшот заказа.
	Replace(order CompositeOrder) (CompositeOrder, error)
	// Remove выбрасывает заказ из кеша; отсутствие записи — не ошибка.
	Remove(orderID string)
}

// CredentialProvider отдаёт непрозрачный токен для REST и push-канала.
// Хранение и обновление токена — забота внешнего слоя аутентификации.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// OrderDraftItem — позиция создаваемого заказа.
type OrderDraftItem struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

// OrderDraft — payload создания заказа клиентом.
type OrderDraft struct {
	DeliveryAddress string           `json:"deliveryAddress"`
	Items           []OrderDraftItem `json:"items"`
}

// OrderAPI описывает REST-коллаборатора бэкенда заказов.
// Ошибки команд оборачиваются в ErrRemoteCommandFailed; локальное
// состояние при неудаче не меняется.
type OrderAPI interface {
	CreateOrder(ctx context.Context, draft OrderDraft) (CompositeOrder, error)
	ListMyOrders(ctx context.Context) ([]CompositeOrder, error)
	GetOrder(ctx context.Context, orderID string) (CompositeOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
	AcceptProposal(ctx context.Context, proposalID string) error
	RejectProposal(ctx context.Context, proposalID string, cancelEntireOrder bool) error
}

// SnapshotArchive — долговременное хранилище последних authoritative
// снапшотов; используется для прогрева кеша после рестарта процесса.
type SnapshotArchive interface {
	Save(ctx context.Context, order CompositeOrder) error
	Get(ctx context.Context, orderID string) (CompositeOrder, error)
	List(ctx context.Context, customerID string) ([]CompositeOrder, error)
	Delete(ctx context.Context, orderID string) error
}
