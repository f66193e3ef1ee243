package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/apperrors"
	"storefront/internal/orders"
)

func writeConflict() error {
	return mongo.CommandError{
		Code:   112,
		Name:   "WriteConflict",
		Labels: []string{labelTransient},
	}
}

func TestRetryTxRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := retryTx(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return writeConflict()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryTxGivesUpWithConflict(t *testing.T) {
	calls := 0
	err := retryTx(context.Background(), 4, time.Millisecond, func() error {
		calls++
		return fmt.Errorf("mark order paid: %w", orders.ErrStaleWrite)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.True(t, apperrors.Retryable(err))
}

func TestRetryTxDoesNotRetryDomainErrors(t *testing.T) {
	calls := 0
	domain := apperrors.InsufficientStock("p1", "Oil", 1, 2)
	err := retryTx(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return domain
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, domain, err)
}

func TestRetryTxMapsDriverFailuresToFatal(t *testing.T) {
	calls := 0
	err := retryTx(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return errors.New("connection refused")
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, apperrors.ErrFatal)
}

func TestRetryTxStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryTx(ctx, 50, 10*time.Millisecond, func() error {
		calls++
		cancel()
		return writeConflict()
	})
	require.Error(t, err)
	assert.Less(t, calls, 50)
}

func TestCommitRetryIsBounded(t *testing.T) {
	unknown := mongo.CommandError{Name: "NetworkTimeout", Labels: []string{labelUnknownCommit}}
	calls := 0
	err := commitWithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return unknown
	})
	assert.Equal(t, 3, calls)
	assert.True(t, hasLabel(err, labelUnknownCommit))
}

func TestCommitRetryStopsOnOtherErrors(t *testing.T) {
	calls := 0
	err := commitWithRetry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls == 1 {
			return mongo.CommandError{Labels: []string{labelUnknownCommit}}
		}
		return writeConflict()
	})
	assert.Equal(t, 2, calls)
	assert.True(t, hasLabel(err, labelTransient))

	calls = 0
	err = commitWithRetry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestTransientClassification(t *testing.T) {
	assert.True(t, transient(writeConflict()))
	assert.True(t, transient(mongo.CommandError{Labels: []string{labelUnknownCommit}}))
	assert.True(t, transient(fmt.Errorf("wrapped: %w", orders.ErrStaleWrite)))
	assert.False(t, transient(mongo.CommandError{Code: 11000}))
	assert.False(t, transient(errors.New("boom")))
}
