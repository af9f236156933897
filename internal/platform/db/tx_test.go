package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/stockledger/stockledger/internal/shared"
)

func TestIsSerializationFailure(t *testing.T) {
	require.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40P01"}))
	require.True(t, IsSerializationFailure(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40001"})))
	require.False(t, IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsSerializationFailure(errors.New("plain")))
	require.False(t, IsSerializationFailure(nil))
}

func TestIsUnavailable(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	require.True(t, IsUnavailable(dialErr))
	require.True(t, IsUnavailable(fmt.Errorf("connect: %w", dialErr)))

	// A statement failure reached the database; not an outage.
	require.False(t, IsUnavailable(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsUnavailable(errors.New("plain")))
	require.False(t, IsUnavailable(nil))

	// Cancellation belongs to the caller.
	require.False(t, IsUnavailable(context.Canceled))
	require.False(t, IsUnavailable(fmt.Errorf("query: %w", context.DeadlineExceeded)))
}

func TestWrapUnavailable(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	wrapped := WrapUnavailable(dialErr)
	require.ErrorIs(t, wrapped, shared.ErrUnavailable)

	// Idempotent: never double-wraps.
	require.Equal(t, wrapped, WrapUnavailable(wrapped))

	stmtErr := &pgconn.PgError{Code: "23505"}
	require.Equal(t, error(stmtErr), WrapUnavailable(stmtErr))
	require.NoError(t, WrapUnavailable(nil))
}
