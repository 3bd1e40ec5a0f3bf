package repository

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eon/kore-relay/internal/relayerrors"
)

type fakeItemReader struct {
	value  []byte
	err    error
	gotIDs []string
}

func (f *fakeItemReader) ReadItem(
	_ context.Context, _ azcosmos.PartitionKey, itemID string, _ *azcosmos.ItemOptions,
) (azcosmos.ItemResponse, error) {
	f.gotIDs = append(f.gotIDs, itemID)
	if f.err != nil {
		return azcosmos.ItemResponse{}, f.err
	}

	return azcosmos.ItemResponse{Value: f.value}, nil
}

func TestCosmosTransactionsRepository_GetByTransferHash(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes item", func(t *testing.T) {
		reader := &fakeItemReader{value: []byte(`{"id":"0xfeed","certificateToken":"ct-1","_ts":1700000000,"ttl":86400}`)}
		repo := &CosmosTransactionsRepository{container: reader}

		tx, err := repo.GetByTransferHash(ctx, "0xfeed")
		require.NoError(t, err)
		assert.Equal(t, "0xfeed", tx.ID)
		assert.Equal(t, "ct-1", tx.CertificateToken)
		assert.Equal(t, time.Unix(1700000000+86400, 0), tx.ExpiresAt)
		assert.Equal(t, []string{"0xfeed"}, reader.gotIDs)
	})

	t.Run("expiry from write time and ttl", func(t *testing.T) {
		tests := []struct {
			name string
			item string
			want time.Time
		}{
			{name: "container default", item: `{"id":"a","_ts":1700000000}`, want: time.Unix(1700000000, 0).Add(24 * time.Hour)},
			{name: "item ttl", item: `{"id":"a","_ts":1700000000,"ttl":60}`, want: time.Unix(1700000060, 0)},
			{name: "never expires", item: `{"id":"a","_ts":1700000000,"ttl":-1}`, want: time.Time{}},
			{name: "no system timestamp", item: `{"id":"a"}`, want: time.Time{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				repo := &CosmosTransactionsRepository{container: &fakeItemReader{value: []byte(tt.item)}}

				tx, err := repo.GetByTransferHash(ctx, "a")
				require.NoError(t, err)
				assert.True(t, tt.want.Equal(tx.ExpiresAt), "ExpiresAt = %v, want %v", tx.ExpiresAt, tt.want)
			})
		}
	})

	t.Run("maps 404 to not found", func(t *testing.T) {
		reader := &fakeItemReader{err: &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "NotFound"}}
		repo := &CosmosTransactionsRepository{container: reader}

		_, err := repo.GetByTransferHash(ctx, "0xgone")
		require.Error(t, err)
		assert.ErrorIs(t, err, relayerrors.ErrTransactionNotFound)

		var nf *relayerrors.TransactionNotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "0xgone", nf.TransferHash)
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		reader := &fakeItemReader{err: &azcore.ResponseError{StatusCode: http.StatusTooManyRequests}}
		repo := &CosmosTransactionsRepository{container: reader}

		_, err := repo.GetByTransferHash(ctx, "0xbusy")
		require.Error(t, err)
		assert.NotErrorIs(t, err, relayerrors.ErrTransactionNotFound)
	})

	t.Run("transport errors are wrapped", func(t *testing.T) {
		reader := &fakeItemReader{err: errors.New("dial tcp: connection refused")}
		repo := &CosmosTransactionsRepository{container: reader}

		_, err := repo.GetByTransferHash(ctx, "0xfeed")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read transaction")
	})

	t.Run("empty transfer hash is not found without a read", func(t *testing.T) {
		reader := &fakeItemReader{}
		repo := &CosmosTransactionsRepository{container: reader}

		_, err := repo.GetByTransferHash(ctx, "")
		assert.ErrorIs(t, err, relayerrors.ErrTransactionNotFound)
		assert.Empty(t, reader.gotIDs)
	})

	t.Run("malformed item fails to decode", func(t *testing.T) {
		reader := &fakeItemReader{value: []byte(`{"id":`)}
		repo := &CosmosTransactionsRepository{container: reader}

		_, err := repo.GetByTransferHash(ctx, "0xfeed")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode transaction")
	})
}

func TestCosmosTransactionsRepository_Ping_withoutContainerRead(t *testing.T) {
	repo := &CosmosTransactionsRepository{container: &fakeItemReader{}}

	assert.NoError(t, repo.Ping(context.Background()))
}
