package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/osync/internal/domain"
)

// snapshotStoreInMemory — каноническая in-memory реализация SnapshotStore.
// Мутации сериализуются общим мьютексом, чтения видят только полностью
// закоммиченные снапшоты.
type snapshotStoreInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.CompositeOrder
}

// NewSnapshotStore возвращает пустой кеш заказов.
func NewSnapshotStore() domain.SnapshotStore {
	return &snapshotStoreInMemory{
		items: make(map[string]domain.CompositeOrder),
	}
}

// Get возвращает копию заказа или ErrOrderNotFound, если его нет.
func (s *snapshotStoreInMemory) Get(orderID string) (domain.CompositeOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.items[orderID]
	if !ok {
		return domain.CompositeOrder{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// List перевыводит выборку из текущего состояния кеша при каждом вызове.
func (s *snapshotStoreInMemory) List(filter domain.ListFilter) ([]domain.CompositeOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CompositeOrder, 0, len(s.items))
	for _, order := range s.items {
		if !filter.Matches(&order) {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

// Merge применяет частичное обновление к копии заказа и коммитит её только
// при полной валидности patch; при ошибке кеш остаётся прежним.
func (s *snapshotStoreInMemory) Merge(orderID string, patch domain.Patch) (domain.CompositeOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[orderID]
	if !ok {
		return domain.CompositeOrder{}, domain.ErrOrderNotFound
	}

	next := current.Clone()
	if err := patch.Apply(&next); err != nil {
		return domain.CompositeOrder{}, err
	}

	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.items[orderID] = next
	return next.Clone(), nil
}

// Replace безусловно устанавливает authoritative снапшот заказа.
func (s *snapshotStoreInMemory) Replace(order domain.CompositeOrder) (domain.CompositeOrder, error) {
	if order.ID == "" {
		return domain.CompositeOrder{}, domain.ErrOrderIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := order.Clone()
	// Снапшот бэкенда — источник истины, включая суммы и статус:
	// тонкий summary без позиций и частей устанавливается как есть.
	if current, ok := s.items[order.ID]; ok {
		next.Version = current.Version + 1
	}
	// UpdatedAt authoritative-снапшота принадлежит бэкенду и не переписывается.
	s.items[order.ID] = next
	return next.Clone(), nil
}

// Remove выбрасывает заказ из кеша; отсутствие записи — не ошибка.
func (s *snapshotStoreInMemory) Remove(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, orderID)
}

var _ domain.SnapshotStore = (*snapshotStoreInMemory)(nil)
