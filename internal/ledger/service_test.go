package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/stockledger/stockledger/internal/shared"
)

// memoryRepo implements RepositoryPort in memory. The mutex held across
// WithTx mirrors the per-SKU row lock: concurrent writers serialise and
// each sees the balance left by the previous commit.
type memoryRepo struct {
	mu       sync.Mutex
	skus     map[int64]*BalanceSnapshot
	adjs     []Adjustment
	nextID   int64
	failTxs  int
	downErr  error
	statsErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{skus: make(map[int64]*BalanceSnapshot)}
}

func (r *memoryRepo) addSKU(id int64, code, name string, stock, minLevel int64) {
	r.skus[id] = &BalanceSnapshot{SKUID: id, Code: code, Name: name, CurrentStock: stock, MinStockLevel: minLevel}
}

type memoryTx struct {
	repo        *memoryRepo
	adjInserted bool
	prevStocks  map[int64]int64
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.downErr != nil {
		return r.downErr
	}
	if r.failTxs > 0 {
		r.failTxs--
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	tx := &memoryTx{repo: r, prevStocks: make(map[int64]int64)}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (tx *memoryTx) rollback() {
	if tx.adjInserted {
		tx.repo.adjs = tx.repo.adjs[:len(tx.repo.adjs)-1]
	}
	for id, stock := range tx.prevStocks {
		tx.repo.skus[id].CurrentStock = stock
	}
}

func (tx *memoryTx) GetSKUForUpdate(ctx context.Context, skuID int64) (BalanceSnapshot, error) {
	s, ok := tx.repo.skus[skuID]
	if !ok {
		return BalanceSnapshot{}, ErrSKUNotFound
	}
	return *s, nil
}

func (tx *memoryTx) UpdateSKUStock(ctx context.Context, skuID, newStock int64) error {
	s, ok := tx.repo.skus[skuID]
	if !ok {
		return ErrSKUNotFound
	}
	if _, staged := tx.prevStocks[skuID]; !staged {
		tx.prevStocks[skuID] = s.CurrentStock
	}
	s.CurrentStock = newStock
	return nil
}

func (tx *memoryTx) InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error) {
	tx.repo.nextID++
	adj.ID = tx.repo.nextID
	adj.CreatedAt = time.Now().UTC()
	tx.repo.adjs = append(tx.repo.adjs, adj)
	tx.adjInserted = true
	return adj, nil
}

func (r *memoryRepo) matches(a Adjustment, f Filter) bool {
	if f.SKUID != 0 && a.SKUID != f.SKUID {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && a.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.CreatedAt.After(f.To) {
		return false
	}
	if f.Search != "" {
		s := r.skus[a.SKUID]
		needle := strings.ToLower(f.Search)
		if s == nil || (!strings.Contains(strings.ToLower(s.Name), needle) && !strings.Contains(strings.ToLower(s.Code), needle)) {
			return false
		}
	}
	return true
}

func (r *memoryRepo) entry(a Adjustment) Entry {
	e := Entry{Adjustment: a}
	if s := r.skus[a.SKUID]; s != nil {
		e.SKU = SKUSummary{ID: s.SKUID, Code: s.Code, Name: s.Name}
	}
	e.Actor = ActorSummary{ID: a.ActorID}
	return e
}

func (r *memoryRepo) ListAdjustments(ctx context.Context, f Filter, s Sort, limit, offset int) ([]Entry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.downErr != nil {
		return nil, 0, r.downErr
	}
	var matched []Adjustment
	for _, a := range r.adjs {
		if r.matches(a, f) {
			matched = append(matched, a)
		}
	}
	// Insertion order doubles as createdAt order here.
	sort.SliceStable(matched, func(i, j int) bool {
		if s.Desc {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	entries := make([]Entry, len(matched))
	for i, a := range matched {
		entries[i] = r.entry(a)
	}
	return entries, total, nil
}

func (r *memoryRepo) GetAdjustment(ctx context.Context, id int64) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.downErr != nil {
		return Entry{}, r.downErr
	}
	for _, a := range r.adjs {
		if a.ID == id {
			return r.entry(a), nil
		}
	}
	return Entry{}, ErrAdjustmentNotFound
}

func (r *memoryRepo) StatsByType(ctx context.Context, dr DateRange) ([]TypeStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.downErr != nil {
		return nil, r.downErr
	}
	if r.statsErr != nil {
		return nil, r.statsErr
	}
	byType := map[AdjustmentType]*TypeStats{}
	for _, a := range r.adjs {
		if !dr.From.IsZero() && a.CreatedAt.Before(dr.From) {
			continue
		}
		if !dr.To.IsZero() && a.CreatedAt.After(dr.To) {
			continue
		}
		st, ok := byType[a.Type]
		if !ok {
			st = &TypeStats{Type: a.Type}
			byType[a.Type] = st
		}
		st.Count++
		st.TotalQuantity += a.Quantity
	}
	var out []TypeStats
	for _, st := range byType {
		out = append(out, *st)
	}
	return out, nil
}

func TestRecordAdjustmentScenario(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, "WID-001", "Widget", 10, 0)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	adj, err := svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentIncrease, Quantity: 5, Reason: ReasonFound, ActorID: 7})
	require.NoError(t, err)
	require.EqualValues(t, 10, adj.PreviousStock)
	require.EqualValues(t, 15, adj.NewStock())
	require.EqualValues(t, 15, repo.skus[1].CurrentStock)

	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentDecrease, Quantity: 20, Reason: ReasonDamaged, ActorID: 7})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.EqualValues(t, 15, repo.skus[1].CurrentStock)
	require.Len(t, repo.adjs, 1)
}

func TestRecordAdjustmentValidation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, "WID-001", "Widget", 10, 0)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: "transfer", Quantity: 1, Reason: ReasonOther})
	require.ErrorIs(t, err, ErrInvalidType)

	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentIncrease, Quantity: 0, Reason: ReasonOther})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentIncrease, Quantity: -4, Reason: ReasonOther})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentIncrease, Quantity: 1, Reason: "shrinkage"})
	require.ErrorIs(t, err, ErrInvalidReason)

	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 99, Type: AdjustmentIncrease, Quantity: 1, Reason: ReasonOther})
	require.ErrorIs(t, err, ErrSKUNotFound)

	require.Empty(t, repo.adjs)
	require.EqualValues(t, 10, repo.skus[1].CurrentStock)
}

func TestConcurrentAdjustmentsNoLostUpdate(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, "WID-001", "Widget", 100, 0)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	const writers = 10
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentDecrease, Quantity: 5, Reason: ReasonDamaged})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 50, repo.skus[1].CurrentStock)
	require.Len(t, repo.adjs, writers)

	// Audit fidelity: every adjustment captured a distinct balance.
	seen := map[int64]bool{}
	for _, a := range repo.adjs {
		require.False(t, seen[a.PreviousStock], "duplicate previousStock %d", a.PreviousStock)
		seen[a.PreviousStock] = true
	}
}

func TestBalanceIdentity(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, "WID-001", "Widget", 40, 0)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	steps := []struct {
		typ AdjustmentType
		qty int64
	}{
		{AdjustmentIncrease, 10},
		{AdjustmentDecrease, 25},
		{AdjustmentIncrease, 3},
		{AdjustmentDecrease, 8},
	}
	for _, step := range steps {
		_, err := svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: step.typ, Quantity: step.qty, Reason: ReasonInventoryCount})
		require.NoError(t, err)
	}

	var signed int64
	for _, a := range repo.adjs {
		if a.Type == AdjustmentIncrease {
			signed += a.Quantity
		} else {
			signed -= a.Quantity
		}
	}
	require.EqualValues(t, 40+signed, repo.skus[1].CurrentStock)
}

func TestRetryOnSerializationFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, "WID-001", "Widget", 10, 0)
	repo.failTxs = 2
	svc := NewService(repo, nil, nil, nil)

	adj, err := svc.RecordAdjustment(context.Background(), AdjustmentInput{SKUID: 1, Type: AdjustmentIncrease, Quantity: 1, Reason: ReasonFound})
	require.NoError(t, err)
	require.EqualValues(t, 10, adj.PreviousStock)

	repo.failTxs = maxWriteAttempts
	_, err = svc.RecordAdjustment(context.Background(), AdjustmentInput{SKUID: 1, Type: AdjustmentIncrease, Quantity: 1, Reason: ReasonFound})
	require.ErrorIs(t, err, ErrConflict)
}

func TestStoreUnavailableNotRetried(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, "WID-001", "Widget", 10, 0)
	repo.downErr = fmt.Errorf("%w: dial tcp 127.0.0.1:5432: connect: connection refused", shared.ErrUnavailable)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentIncrease, Quantity: 1, Reason: ReasonFound})
	require.ErrorIs(t, err, shared.ErrUnavailable)
	require.NotErrorIs(t, err, ErrConflict)

	_, _, err = svc.List(ctx, Filter{}, Sort{Field: "createdAt", Desc: true}, Page{Number: 1, Size: 10})
	require.ErrorIs(t, err, shared.ErrUnavailable)

	_, err = svc.StatsByType(ctx, DateRange{})
	require.ErrorIs(t, err, shared.ErrUnavailable)
}

func TestBulkIndependence(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, "A-1", "Alpha", 50, 0)
	repo.addSKU(2, "B-1", "Beta", 3, 0)
	repo.addSKU(3, "C-1", "Gamma", 50, 0)
	svc := NewService(repo, nil, nil, nil)

	outcomes := svc.RecordBulk(context.Background(), BulkInput{
		Items: []BulkItem{
			{SKUID: 1, Quantity: 10},
			{SKUID: 2, Quantity: 10}, // would go negative
			{SKUID: 3, Quantity: 10},
			{SKUID: 99, Quantity: 10}, // missing SKU
			{SKUID: 1, Quantity: 5},
		},
		Type:   AdjustmentDecrease,
		Reason: ReasonDamaged,
	})

	require.Len(t, outcomes, 5)
	require.NoError(t, outcomes[0].Err)
	require.ErrorIs(t, outcomes[1].Err, ErrInsufficientStock)
	require.NoError(t, outcomes[2].Err)
	require.ErrorIs(t, outcomes[3].Err, ErrSKUNotFound)
	require.NoError(t, outcomes[4].Err)

	require.EqualValues(t, 35, repo.skus[1].CurrentStock)
	require.EqualValues(t, 3, repo.skus[2].CurrentStock)
	require.EqualValues(t, 40, repo.skus[3].CurrentStock)
	require.Len(t, repo.adjs, 3)
}

func TestBulkCancellation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, "A-1", "Alpha", 50, 0)
	svc := NewService(repo, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := svc.RecordBulk(ctx, BulkInput{
		Items:  []BulkItem{{SKUID: 1, Quantity: 1}, {SKUID: 1, Quantity: 1}},
		Type:   AdjustmentDecrease,
		Reason: ReasonDamaged,
	})
	require.Len(t, outcomes, 2)
	for _, out := range outcomes {
		require.ErrorIs(t, out.Err, ErrNotAttempted)
	}
	require.Empty(t, repo.adjs)
	require.EqualValues(t, 50, repo.skus[1].CurrentStock)
}

func TestStatsByType(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, "A-1", "Alpha", 100, 0)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	for _, qty := range []int64{5, 3, 2} {
		_, err := svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentIncrease, Quantity: qty, Reason: ReasonFound})
		require.NoError(t, err)
	}
	_, err := svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentDecrease, Quantity: 4, Reason: ReasonDamaged})
	require.NoError(t, err)

	stats, err := svc.StatsByType(ctx, DateRange{})
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byType := map[AdjustmentType]TypeStats{}
	for _, s := range stats {
		byType[s.Type] = s
	}
	require.EqualValues(t, 3, byType[AdjustmentIncrease].Count)
	require.EqualValues(t, 10, byType[AdjustmentIncrease].TotalQuantity)
	require.EqualValues(t, 1, byType[AdjustmentDecrease].Count)
	require.EqualValues(t, 4, byType[AdjustmentDecrease].TotalQuantity)
}

func TestListPaginationConsistency(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, "A-1", "Alpha", 1000, 0)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentIncrease, Quantity: 1, Reason: ReasonFound})
		require.NoError(t, err)
	}

	entries, pg, err := svc.List(ctx, Filter{SKUID: 1}, Sort{Field: "createdAt", Desc: true}, Page{Number: 2, Size: 3})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, 7, pg.Total)
	require.Equal(t, 3, pg.TotalPages)
	require.Equal(t, 2, pg.Page)

	_, _, err = svc.List(ctx, Filter{}, Sort{Field: "nonsense"}, Page{Number: 1, Size: 10})
	require.ErrorIs(t, err, ErrInvalidSort)
}

func TestLowStockAlertEmitted(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, "A-1", "Alpha", 12, 10)
	var got []LowStockEvent
	alerts := alertFunc(func(ctx context.Context, evt LowStockEvent) error {
		got = append(got, evt)
		return nil
	})
	svc := NewService(repo, nil, nil, alerts)
	ctx := context.Background()

	_, err := svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentDecrease, Quantity: 1, Reason: ReasonDamaged})
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{SKUID: 1, Type: AdjustmentDecrease, Quantity: 5, Reason: ReasonDamaged})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.EqualValues(t, 6, got[0].CurrentStock)
	require.EqualValues(t, 10, got[0].MinStockLevel)
	require.Equal(t, "A-1", got[0].SKUCode)
}

type alertFunc func(ctx context.Context, evt LowStockEvent) error

func (f alertFunc) LowStock(ctx context.Context, evt LowStockEvent) error { return f(ctx, evt) }
