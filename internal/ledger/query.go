package ledger

import (
	"fmt"
	"strconv"
)

// Listing queries join the SKU row for search/display and the user row
// for actor display. The count query shares the exact predicate so the
// reported total always matches the rows.
const (
	listSelect = `SELECT a.id, a.sku_id, a.adjustment_type, a.quantity, a.reason, a.notes, a.actor_id, a.previous_stock, a.created_at,
	s.code, s.name, COALESCE(u.name, ''), COALESCE(u.email, '')
FROM stock_adjustments a
JOIN skus s ON s.id = a.sku_id
LEFT JOIN users u ON u.id = a.actor_id`

	countSelect = `SELECT COUNT(*)
FROM stock_adjustments a
JOIN skus s ON s.id = a.sku_id`
)

// sortColumns whitelists the fields a listing may be ordered by.
var sortColumns = map[string]string{
	"":               "a.created_at",
	"createdAt":      "a.created_at",
	"quantity":       "a.quantity",
	"adjustmentType": "a.adjustment_type",
	"reason":         "a.reason",
	"previousStock":  "a.previous_stock",
	"id":             "a.id",
}

func buildWhere(f Filter) (string, []any) {
	where := " WHERE 1=1"
	var args []any

	if f.SKUID != 0 {
		args = append(args, f.SKUID)
		where += " AND a.sku_id = $" + strconv.Itoa(len(args))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where += " AND a.adjustment_type = $" + strconv.Itoa(len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where += " AND a.created_at >= $" + strconv.Itoa(len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where += " AND a.created_at <= $" + strconv.Itoa(len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		p := "$" + strconv.Itoa(len(args))
		where += " AND (s.name ILIKE " + p + " OR s.code ILIKE " + p + ")"
	}
	return where, args
}

// buildListQuery composes the paged listing query. Unknown sort fields
// are refused rather than passed through to the database.
func buildListQuery(f Filter, sort Sort, limit, offset int) (string, []any, error) {
	col, ok := sortColumns[sort.Field]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidSort, sort.Field)
	}
	dir := "ASC"
	if sort.Desc {
		dir = "DESC"
	}

	where, args := buildWhere(f)
	query := listSelect + where + " ORDER BY " + col + " " + dir + ", a.id " + dir

	args = append(args, limit)
	query += " LIMIT $" + strconv.Itoa(len(args))
	args = append(args, offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	return query, args, nil
}

// buildCountQuery composes the matching-count query from the same predicate.
func buildCountQuery(f Filter) (string, []any) {
	where, args := buildWhere(f)
	return countSelect + where, args
}
