package service

import (
	"context"
	"fmt"
	"time"

	"github.com/eon/kore-relay/internal/models"
	"github.com/eon/kore-relay/internal/observability"
	"github.com/eon/kore-relay/internal/relayerrors"
	"github.com/eon/kore-relay/pkg/cache"
)

// TransactionReader reads Kore node transactions by transfer hash.
// Missing or expired transactions return a relayerrors.TransactionNotFoundError.
type TransactionReader interface {
	GetByTransferHash(ctx context.Context, transferHash string) (*models.Transaction, error)
}

// cachingTransactionReader wraps a TransactionReader with a positive-lookup cache.
type cachingTransactionReader struct {
	inner   TransactionReader
	cache   *cache.LoaderCache[*models.Transaction]
	metrics observability.RelayMetrics
	now     func() time.Time
}

// NewCachingTransactionReader returns a TransactionReader that caches found transactions.
// Lookup errors, including not found, are never cached so a transaction written after a miss
// is picked up on redelivery. A cached transaction is served only until its own ExpiresAt;
// transactions whose store did not report an expiry are not kept at all. metrics may be nil.
func NewCachingTransactionReader(
	inner TransactionReader, c *cache.LoaderCache[*models.Transaction], metrics observability.RelayMetrics,
) TransactionReader {
	return &cachingTransactionReader{inner: inner, cache: c, metrics: metrics, now: time.Now}
}

func (r *cachingTransactionReader) GetByTransferHash(ctx context.Context, transferHash string) (*models.Transaction, error) {
	tx, hit, err := r.cache.GetWithStats(ctx, transferHash, r.inner.GetByTransferHash)
	if err != nil {
		return nil, fmt.Errorf("get transaction by transfer hash: %w", err)
	}

	if r.metrics != nil {
		if hit {
			r.metrics.RecordCacheRequest(ctx, "hit")
		} else {
			r.metrics.RecordCacheRequest(ctx, "miss")
		}
	}

	switch {
	case tx == nil:
		r.cache.Invalidate(transferHash)

		return nil, relayerrors.NewTransactionNotFoundError(transferHash, relayerrors.ReasonMissing)
	case tx.Expired(r.now()):
		r.cache.Invalidate(transferHash)

		return nil, relayerrors.NewTransactionNotFoundError(transferHash, relayerrors.ReasonExpired)
	case tx.ExpiresAt.IsZero():
		r.cache.Invalidate(transferHash)
	}

	return tx, nil
}
