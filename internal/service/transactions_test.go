package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eon/kore-relay/internal/models"
	"github.com/eon/kore-relay/internal/relayerrors"
	"github.com/eon/kore-relay/pkg/cache"
)

func TestCachingTransactionReader(t *testing.T) {
	ctx := context.Background()
	inner := knownTransactions()
	metrics := &mockMetrics{}
	reader := NewCachingTransactionReader(inner, cache.NewLoaderCache[*models.Transaction](10, time.Minute), metrics)

	t.Run("second lookup is served from cache", func(t *testing.T) {
		tx, err := reader.GetByTransferHash(ctx, "0xfeed")
		require.NoError(t, err)
		assert.Equal(t, "ct-123", tx.CertificateToken)

		tx, err = reader.GetByTransferHash(ctx, "0xfeed")
		require.NoError(t, err)
		assert.Equal(t, "ct-123", tx.CertificateToken)

		assert.Equal(t, []string{"0xfeed"}, inner.calls)
		assert.Equal(t, []string{"miss", "hit"}, metrics.cache)
	})

	t.Run("not found is never cached", func(t *testing.T) {
		_, err := reader.GetByTransferHash(ctx, "0xlate")
		require.ErrorIs(t, err, relayerrors.ErrTransactionNotFound)

		inner.mu.Lock()
		inner.txs["0xlate"] = &models.Transaction{ID: "0xlate", CertificateToken: "ct-late", ExpiresAt: time.Now().Add(time.Hour)}
		inner.mu.Unlock()

		tx, err := reader.GetByTransferHash(ctx, "0xlate")
		require.NoError(t, err)
		assert.Equal(t, "ct-late", tx.CertificateToken)
	})
}

func TestCachingTransactionReader_expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	newReader := func(tx *models.Transaction) (*mockTransactionReader, *cachingTransactionReader) {
		inner := &mockTransactionReader{txs: map[string]*models.Transaction{"0xfeed": tx}}
		r := NewCachingTransactionReader(inner, cache.NewLoaderCache[*models.Transaction](10, models.TransactionTTL), nil).(*cachingTransactionReader)
		r.now = func() time.Time { return now }

		return inner, r
	}

	t.Run("cached entry is dropped at the record's expiry", func(t *testing.T) {
		inner, reader := newReader(&models.Transaction{ID: "0xfeed", ExpiresAt: now.Add(time.Minute)})

		_, err := reader.GetByTransferHash(ctx, "0xfeed")
		require.NoError(t, err)

		reader.now = func() time.Time { return now.Add(time.Minute) }

		_, err = reader.GetByTransferHash(ctx, "0xfeed")
		require.ErrorIs(t, err, relayerrors.ErrTransactionNotFound)

		var nf *relayerrors.TransactionNotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, relayerrors.ReasonExpired, nf.Reason)
		assert.Len(t, inner.calls, 1)
		assert.Equal(t, 0, reader.cache.Len(), "expired entry is evicted")
	})

	t.Run("record without expiry is read through every time", func(t *testing.T) {
		inner, reader := newReader(&models.Transaction{ID: "0xfeed", CertificateToken: "ct-1"})

		for range 2 {
			tx, err := reader.GetByTransferHash(ctx, "0xfeed")
			require.NoError(t, err)
			assert.Equal(t, "ct-1", tx.CertificateToken)
		}

		assert.Len(t, inner.calls, 2)
	})
}
