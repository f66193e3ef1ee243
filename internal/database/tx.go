package database

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"

	"storefront/internal/apperrors"
	"storefront/internal/metrics"
	"storefront/internal/orders"
)

const (
	labelTransient     = "TransientTransactionError"
	labelUnknownCommit = "UnknownTransactionCommitResult"
)

// TxRunner runs callbacks in MongoDB transactions with a bounded number of
// attempts. Unlike Session.WithTransaction it never retries for longer than
// maxAttempts, so a hot document surfaces as a Conflict instead of blocking.
type TxRunner struct {
	client      *mongo.Client
	maxAttempts int
	initial     time.Duration
}

func NewTxRunner(client *mongo.Client, maxAttempts int) *TxRunner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &TxRunner{client: client, maxAttempts: maxAttempts, initial: 20 * time.Millisecond}
}

func txOptions() *options.TransactionOptions {
	return options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
}

// Run executes fn inside a transaction. fn receives a session context and
// must use it for every operation that belongs to the transaction.
func (r *TxRunner) Run(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return apperrors.Fatal(err)
	}
	defer session.EndSession(context.Background())

	return retryTx(ctx, r.maxAttempts, r.initial, func() error {
		return mongo.WithSession(ctx, session, func(sc mongo.SessionContext) error {
			if err := session.StartTransaction(txOptions()); err != nil {
				return err
			}
			if err := fn(sc); err != nil {
				_ = session.AbortTransaction(context.Background())
				return err
			}
			return commitWithRetry(sc, r.maxAttempts, r.initial, func() error {
				return session.CommitTransaction(sc)
			})
		})
	})
}

func retryPolicy(ctx context.Context, maxAttempts int, initial time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = 500 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
}

// commitWithRetry retries only the commit while its outcome is unknown, at
// most maxAttempts times. The last error is returned as is and the caller
// decides whether the whole transaction runs again.
func commitWithRetry(ctx context.Context, maxAttempts int, initial time.Duration, commit func() error) error {
	err := backoff.Retry(func() error {
		err := commit()
		if err == nil || hasLabel(err, labelUnknownCommit) {
			return err
		}
		return backoff.Permanent(err)
	}, retryPolicy(ctx, maxAttempts, initial))

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// retryTx calls attempt up to maxAttempts times while it fails with a
// transient error, then classifies the final error.
func retryTx(ctx context.Context, maxAttempts int, initial time.Duration, attempt func() error) error {
	policy := retryPolicy(ctx, maxAttempts, initial)

	tries := 0
	err := backoff.Retry(func() error {
		tries++
		if tries > 1 {
			metrics.TxRetries.Inc()
		}
		err := attempt()
		if err == nil || transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	switch {
	case isDomainError(err):
		return err
	case transient(err):
		zap.L().Warn("transaction retries exhausted", zap.Int("attempts", tries), zap.Error(err))
		return apperrors.Conflict(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return apperrors.Fatal(err)
	}
}

func transient(err error) bool {
	return errors.Is(err, orders.ErrStaleWrite) ||
		hasLabel(err, labelTransient) ||
		hasLabel(err, labelUnknownCommit)
}

func hasLabel(err error, label string) bool {
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorLabel(label)
	}
	return false
}

func isDomainError(err error) bool {
	var appErr *apperrors.Error
	return errors.As(err, &appErr)
}
