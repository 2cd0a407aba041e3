package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/osync/internal/domain"
)

const opTimeout = 5 * time.Second

// snapshotRepository хранит последние authoritative-снапшоты заказов в
// JSONB. Колонки customer_id, status и updated_at дублируют поля
// снапшота ради индексируемых выборок.
type snapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository создаёт PostgreSQL-реализацию SnapshotArchive.
func NewSnapshotRepository(store *Store) domain.SnapshotArchive {
	return &snapshotRepository{db: store.DB()}
}

var _ domain.SnapshotArchive = (*snapshotRepository)(nil)

func (r *snapshotRepository) Save(ctx context.Context, order domain.CompositeOrder) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order snapshot: %w", err)
	}

	_, err = r.db.ExecContext(opCtx, `
		INSERT INTO order_snapshots (order_id, customer_id, status, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			status = EXCLUDED.status,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`, order.ID, order.CustomerID, string(order.Status), payload, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert order snapshot: %w", err)
	}

	return nil
}

func (r *snapshotRepository) Get(ctx context.Context, orderID string) (domain.CompositeOrder, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var payload []byte
	err := r.db.QueryRowContext(opCtx, `
		SELECT snapshot FROM order_snapshots WHERE order_id = $1
	`, orderID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CompositeOrder{}, domain.ErrOrderNotFound
		}
		return domain.CompositeOrder{}, fmt.Errorf("select order snapshot: %w", err)
	}

	return decodeSnapshot(payload)
}

func (r *snapshotRepository) List(ctx context.Context, customerID string) ([]domain.CompositeOrder, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT snapshot FROM order_snapshots
		ORDER BY updated_at DESC
	`
	args := []interface{}{}
	if customerID != "" {
		query = `
			SELECT snapshot FROM order_snapshots
			WHERE customer_id = $1
			ORDER BY updated_at DESC
		`
		args = append(args, customerID)
	}

	rows, err := r.db.QueryContext(opCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select order snapshots: %w", err)
	}
	defer rows.Close()

	var orders []domain.CompositeOrder
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan order snapshot: %w", err)
		}
		order, err := decodeSnapshot(payload)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order snapshots: %w", err)
	}

	return orders, nil
}

func (r *snapshotRepository) Delete(ctx context.Context, orderID string) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(opCtx, `
		DELETE FROM order_snapshots WHERE order_id = $1
	`, orderID); err != nil {
		return fmt.Errorf("delete order snapshot: %w", err)
	}

	return nil
}

func decodeSnapshot(payload []byte) (domain.CompositeOrder, error) {
	var order domain.CompositeOrder
	if err := json.Unmarshal(payload, &order); err != nil {
		return domain.CompositeOrder{}, fmt.Errorf("unmarshal order snapshot: %w", err)
	}
	return order, nil
}
