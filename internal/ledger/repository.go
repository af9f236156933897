package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockledger/stockledger/internal/platform/db"
)

// BalanceSnapshot is the SKU state read under lock at the start of a write.
type BalanceSnapshot struct {
	SKUID         int64
	Code          string
	Name          string
	CurrentStock  int64
	MinStockLevel int64
}

// TxRepository exposes the operations available inside a write transaction.
type TxRepository interface {
	// GetSKUForUpdate locks the SKU row for the rest of the transaction,
	// serialising concurrent writers of the same SKU.
	GetSKUForUpdate(ctx context.Context, skuID int64) (BalanceSnapshot, error)
	UpdateSKUStock(ctx context.Context, skuID, newStock int64) error
	InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error)
}

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListAdjustments(ctx context.Context, f Filter, sort Sort, limit, offset int) ([]Entry, int, error)
	GetAdjustment(ctx context.Context, id int64) (Entry, error)
	StatsByType(ctx context.Context, r DateRange) ([]TypeStats, error)
}

// Repository persists the adjustment ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction. The SKU mutation
// and the ledger append commit together or not at all.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (t *txRepo) GetSKUForUpdate(ctx context.Context, skuID int64) (BalanceSnapshot, error) {
	var snap BalanceSnapshot
	err := t.tx.QueryRow(ctx,
		`SELECT id, code, name, current_stock, min_stock_level FROM skus WHERE id = $1 FOR UPDATE`, skuID).
		Scan(&snap.SKUID, &snap.Code, &snap.Name, &snap.CurrentStock, &snap.MinStockLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		return BalanceSnapshot{}, ErrSKUNotFound
	}
	return snap, err
}

func (t *txRepo) UpdateSKUStock(ctx context.Context, skuID, newStock int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE skus SET current_stock = $1, updated_at = NOW() WHERE id = $2`, newStock, skuID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSKUNotFound
	}
	return nil
}

func (t *txRepo) InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO stock_adjustments (sku_id, adjustment_type, quantity, reason, notes, actor_id, previous_stock, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING id, created_at`,
		adj.SKUID, string(adj.Type), adj.Quantity, string(adj.Reason), adj.Notes, adj.ActorID, adj.PreviousStock).
		Scan(&adj.ID, &adj.CreatedAt)
	if err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}

// ListAdjustments returns one page of ledger entries plus the total
// count computed from the same predicate.
func (r *Repository) ListAdjustments(ctx context.Context, f Filter, sort Sort, limit, offset int) ([]Entry, int, error) {
	countQuery, countArgs := buildCountQuery(f)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, db.WrapUnavailable(err)
	}

	query, args, err := buildListQuery(f, sort, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.WrapUnavailable(err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// GetAdjustment fetches one entry with its references resolved.
func (r *Repository) GetAdjustment(ctx context.Context, id int64) (Entry, error) {
	row := r.pool.QueryRow(ctx, listSelect+` WHERE a.id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrAdjustmentNotFound
	}
	return e, db.WrapUnavailable(err)
}

// StatsByType groups ledger entries by type within the optional range.
// Types with no matching entries yield no row.
func (r *Repository) StatsByType(ctx context.Context, dr DateRange) ([]TypeStats, error) {
	query := `SELECT adjustment_type, COUNT(*), COALESCE(SUM(quantity), 0) FROM stock_adjustments WHERE 1=1`
	var args []any
	if !dr.From.IsZero() {
		args = append(args, dr.From)
		query += ` AND created_at >= $1`
	}
	if !dr.To.IsZero() {
		args = append(args, dr.To)
		if len(args) == 1 {
			query += ` AND created_at <= $1`
		} else {
			query += ` AND created_at <= $2`
		}
	}
	query += ` GROUP BY adjustment_type`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, db.WrapUnavailable(err)
	}
	defer rows.Close()

	var stats []TypeStats
	for rows.Next() {
		var s TypeStats
		var typ string
		if err := rows.Scan(&typ, &s.Count, &s.TotalQuantity); err != nil {
			return nil, err
		}
		s.Type = AdjustmentType(typ)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var typ, reason string
	err := row.Scan(&e.Adjustment.ID, &e.Adjustment.SKUID, &typ, &e.Adjustment.Quantity, &reason,
		&e.Adjustment.Notes, &e.Adjustment.ActorID, &e.Adjustment.PreviousStock, &e.Adjustment.CreatedAt,
		&e.SKU.Code, &e.SKU.Name, &e.Actor.Name, &e.Actor.Email)
	if err != nil {
		return Entry{}, err
	}
	e.Adjustment.Type = AdjustmentType(typ)
	e.Adjustment.Reason = Reason(reason)
	e.SKU.ID = e.Adjustment.SKUID
	e.Actor.ID = e.Adjustment.ActorID
	return e, nil
}
