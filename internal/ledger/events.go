package ledger

import "context"

// LowStockEvent is emitted when a committed adjustment leaves a SKU
// below its minimum stock level.
type LowStockEvent struct {
	SKUID         int64  `json:"sku_id"`
	SKUCode       string `json:"sku_code"`
	CurrentStock  int64  `json:"current_stock"`
	MinStockLevel int64  `json:"min_stock_level"`
}

// AlertPort receives low stock events for asynchronous handling.
type AlertPort interface {
	LowStock(ctx context.Context, evt LowStockEvent) error
}
