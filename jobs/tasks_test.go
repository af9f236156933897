package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/stockledger/stockledger/internal/ledger"
)

func TestLowStockAlertRoundTrip(t *testing.T) {
	evt := ledger.LowStockEvent{SKUID: 3, SKUCode: "WID-003", CurrentStock: 2, MinStockLevel: 10}
	task, err := NewLowStockAlertTask(evt)
	require.NoError(t, err)
	require.Equal(t, TaskTypeLowStockAlert, task.Type())

	var decoded ledger.LowStockEvent
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, evt, decoded)

	h := NewLowStockHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.NoError(t, h.Handle(context.Background(), task))
}

func TestLowStockHandlerBadPayload(t *testing.T) {
	h := NewLowStockHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	err := h.Handle(context.Background(), asynq.NewTask(TaskTypeLowStockAlert, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
