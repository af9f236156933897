package ledger

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/stockledger/stockledger/internal/platform/db"
	"github.com/stockledger/stockledger/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// maxWriteAttempts bounds the automatic retry on serialization
// failures. Validation failures are never retried.
const maxWriteAttempts = 3

// Service coordinates ledger writes and reads.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	cache  *Cache
	alerts AlertPort
	flight singleflight.Group
}

// NewService builds Service. audit, cache and alerts may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cache *Cache, alerts AlertPort) *Service {
	return &Service{repo: repo, audit: audit, cache: cache, alerts: alerts}
}

func validateInput(in AdjustmentInput) error {
	if in.SKUID <= 0 {
		return ErrSKUNotFound
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	if in.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !in.Reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, in.Reason)
	}
	return nil
}

// RecordAdjustment validates the request, then applies the balance
// mutation and the ledger append as one atomic unit. The SKU row is
// locked for the duration, so two concurrent adjustments of the same
// SKU never validate against the same balance snapshot. Nothing is
// mutated on any failure path.
func (s *Service) RecordAdjustment(ctx context.Context, in AdjustmentInput) (Adjustment, error) {
	if err := validateInput(in); err != nil {
		return Adjustment{}, err
	}

	var created Adjustment
	var snap BalanceSnapshot
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Adjustment{}, err
		}
		lastErr = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			snap, err = tx.GetSKUForUpdate(ctx, in.SKUID)
			if err != nil {
				return err
			}
			newStock := snap.CurrentStock + in.Quantity
			if in.Type == AdjustmentDecrease {
				newStock = snap.CurrentStock - in.Quantity
			}
			if newStock < 0 {
				return fmt.Errorf("%w: sku %s has %d, requested decrease of %d",
					ErrInsufficientStock, snap.Code, snap.CurrentStock, in.Quantity)
			}
			created, err = tx.InsertAdjustment(ctx, Adjustment{
				SKUID:         in.SKUID,
				Type:          in.Type,
				Quantity:      in.Quantity,
				Reason:        in.Reason,
				Notes:         in.Notes,
				ActorID:       in.ActorID,
				PreviousStock: snap.CurrentStock,
			})
			if err != nil {
				return err
			}
			snap.CurrentStock = newStock
			return tx.UpdateSKUStock(ctx, in.SKUID, newStock)
		})
		if lastErr == nil {
			break
		}
		if !db.IsSerializationFailure(lastErr) {
			return Adjustment{}, lastErr
		}
	}
	if lastErr != nil {
		return Adjustment{}, fmt.Errorf("%w: %v", ErrConflict, lastErr)
	}

	s.afterCommit(ctx, created, snap)
	return created, nil
}

// afterCommit runs best-effort side effects. The write already
// committed, so failures here are swallowed rather than surfaced.
func (s *Service) afterCommit(ctx context.Context, adj Adjustment, snap BalanceSnapshot) {
	if s.cache != nil {
		_ = s.cache.Bump(ctx)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  adj.ActorID,
			Action:   fmt.Sprintf("ledger:%s", adj.Type),
			Entity:   "stock_adjustment",
			EntityID: strconv.FormatInt(adj.ID, 10),
			Meta: map[string]any{
				"sku_id":         adj.SKUID,
				"quantity":       adj.Quantity,
				"reason":         string(adj.Reason),
				"previous_stock": adj.PreviousStock,
				"new_stock":      snap.CurrentStock,
			},
		})
	}
	if s.alerts != nil && snap.CurrentStock < snap.MinStockLevel {
		_ = s.alerts.LowStock(ctx, LowStockEvent{
			SKUID:         adj.SKUID,
			SKUCode:       snap.Code,
			CurrentStock:  snap.CurrentStock,
			MinStockLevel: snap.MinStockLevel,
		})
	}
}

// RecordBulk applies each item independently and reports a positional
// outcome per item. One item failing never blocks or rolls back its
// siblings. When the context is cancelled mid-batch, completed items
// stay committed and the remainder is reported as not attempted.
func (s *Service) RecordBulk(ctx context.Context, in BulkInput) []BulkOutcome {
	outcomes := make([]BulkOutcome, len(in.Items))
	for i, item := range in.Items {
		outcomes[i].Index = i
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = fmt.Errorf("%w: %v", ErrNotAttempted, err)
			continue
		}
		adj, err := s.RecordAdjustment(ctx, AdjustmentInput{
			SKUID:    item.SKUID,
			Type:     in.Type,
			Quantity: item.Quantity,
			Reason:   in.Reason,
			Notes:    in.Notes,
			ActorID:  in.ActorID,
		})
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		outcomes[i].Adjustment = &adj
	}
	return outcomes
}

// List returns a page of ledger entries with resolved references plus
// pagination metadata consistent with the filter.
func (s *Service) List(ctx context.Context, f Filter, sort Sort, page Page) ([]Entry, shared.Pagination, error) {
	if _, ok := sortColumns[sort.Field]; !ok {
		return nil, shared.Pagination{}, fmt.Errorf("%w: %q", ErrInvalidSort, sort.Field)
	}
	norm := shared.NewPagination(page.Number, page.Size, 0)
	entries, total, err := s.repo.ListAdjustments(ctx, f, sort, norm.PerPage, norm.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(norm.Page, norm.PerPage, total), nil
}

// Get fetches one ledger entry by ID.
func (s *Service) Get(ctx context.Context, id int64) (Entry, error) {
	if id <= 0 {
		return Entry{}, ErrAdjustmentNotFound
	}
	return s.repo.GetAdjustment(ctx, id)
}

// StatsByType aggregates entries by type within the optional range.
// Results are cached until the next committed write; concurrent
// requests for the same range share one computation.
func (s *Service) StatsByType(ctx context.Context, dr DateRange) ([]TypeStats, error) {
	key, err := s.cache.BuildKey(ctx, statsKey(dr)...)
	if err != nil {
		return nil, err
	}
	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		var stats []TypeStats
		err := s.cache.FetchJSON(ctx, key, &stats, func(ctx context.Context) (interface{}, error) {
			return s.repo.StatsByType(ctx, dr)
		})
		return stats, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]TypeStats), nil
}
