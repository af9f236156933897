package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/stockledger/stockledger/internal/ledger"
	"github.com/stockledger/stockledger/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeLowStockAlert is emitted when a SKU drops below its minimum level.
	TaskTypeLowStockAlert = "stock:low_alert"
)

// NewLowStockAlertTask constructs an Asynq task from the ledger event.
func NewLowStockAlertTask(evt ledger.LowStockEvent) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStockAlert, data), nil
}

// LowStockHandler processes low stock alert tasks. It records the alert
// in the audit trail and logs it for operators; notification fan-out
// can hang off the same handler later.
type LowStockHandler struct {
	logger *slog.Logger
	audit  *shared.AuditLogger
}

// NewLowStockHandler constructs the handler. audit may be nil.
func NewLowStockHandler(logger *slog.Logger, audit *shared.AuditLogger) *LowStockHandler {
	return &LowStockHandler{logger: logger, audit: audit}
}

// Handle implements asynq.Handler for TaskTypeLowStockAlert.
func (h *LowStockHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var evt ledger.LowStockEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	h.logger.Warn("sku below minimum stock level",
		slog.Int64("sku_id", evt.SKUID),
		slog.String("sku_code", evt.SKUCode),
		slog.Int64("current_stock", evt.CurrentStock),
		slog.Int64("min_stock_level", evt.MinStockLevel))
	if h.audit != nil {
		if err := h.audit.Record(ctx, shared.AuditLog{
			Action:   "stock:low_alert",
			Entity:   "sku",
			EntityID: strconv.FormatInt(evt.SKUID, 10),
			Meta: map[string]any{
				"sku_code":        evt.SKUCode,
				"current_stock":   evt.CurrentStock,
				"min_stock_level": evt.MinStockLevel,
			},
		}); err != nil {
			return err
		}
	}
	return nil
}
