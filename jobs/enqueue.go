package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/stockledger/stockledger/internal/ledger"
)

// Enqueuer pushes ledger events onto the background queue. It satisfies
// ledger.AlertPort.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer wraps an Asynq client.
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// LowStock enqueues a low stock alert task.
func (e *Enqueuer) LowStock(ctx context.Context, evt ledger.LowStockEvent) error {
	task, err := NewLowStockAlertTask(evt)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}
