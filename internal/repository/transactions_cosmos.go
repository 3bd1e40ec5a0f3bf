package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"github.com/eon/kore-relay/internal/models"
	"github.com/eon/kore-relay/internal/relayerrors"
)

// cosmosItemReader is the subset of *azcosmos.ContainerClient used for point reads.
type cosmosItemReader interface {
	ReadItem(
		ctx context.Context, partitionKey azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions,
	) (azcosmos.ItemResponse, error)
}

// CosmosTransactionsRepository reads Kore node transactions from a Cosmos DB container
// partitioned by transfer hash (the item id equals its partition key).
type CosmosTransactionsRepository struct {
	container cosmosItemReader
}

// NewCosmosTransactionsRepository creates a repository over a container client.
func NewCosmosTransactionsRepository(container *azcosmos.ContainerClient) *CosmosTransactionsRepository {
	return &CosmosTransactionsRepository{container: container}
}

// NewCosmosContainer builds a key-authenticated client and returns the container client for
// database/container. Building the client does not contact the account.
func NewCosmosContainer(endpoint, key, database, container string) (*azcosmos.ContainerClient, error) {
	cred, err := azcosmos.NewKeyCredential(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cosmos key credential: %w", err)
	}

	client, err := azcosmos.NewClientWithKey(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cosmos client: %w", err)
	}

	c, err := client.NewContainer(database, container)
	if err != nil {
		return nil, fmt.Errorf("failed to open cosmos container %s/%s: %w", database, container, err)
	}

	return c, nil
}

// GetByTransferHash point-reads the transaction whose id and partition key are transferHash.
// Missing items, including ones removed by the container TTL, return a TransactionNotFoundError.
// ExpiresAt is derived from the item's _ts and ttl.
func (r *CosmosTransactionsRepository) GetByTransferHash(ctx context.Context, transferHash string) (*models.Transaction, error) {
	if transferHash == "" {
		return nil, relayerrors.NewTransactionNotFoundError("", relayerrors.ReasonEmptyHash)
	}

	resp, err := r.container.ReadItem(ctx, azcosmos.NewPartitionKeyString(transferHash), transferHash, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil, relayerrors.NewTransactionNotFoundError(transferHash, relayerrors.ReasonMissing)
		}

		return nil, fmt.Errorf("failed to read transaction: %w", err)
	}

	var item cosmosTransactionItem
	if err := json.Unmarshal(resp.Value, &item); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	return &models.Transaction{
		ID:               item.ID,
		CertificateToken: item.CertificateToken,
		ExpiresAt:        item.expiresAt(),
	}, nil
}

// cosmosTransactionItem is the stored document including the system timestamp and the
// optional per-item TTL override.
type cosmosTransactionItem struct {
	ID               string `json:"id"`
	CertificateToken string `json:"certificateToken"`
	// Ts is the last write time in epoch seconds (Cosmos "_ts").
	Ts int64 `json:"_ts"`
	// TTL overrides the container default in seconds; -1 never expires.
	TTL *int64 `json:"ttl,omitempty"`
}

// expiresAt applies the item TTL, or the container's 24h default, to the last write time.
func (i cosmosTransactionItem) expiresAt() time.Time {
	if i.Ts <= 0 {
		return time.Time{}
	}

	written := time.Unix(i.Ts, 0)

	switch {
	case i.TTL == nil:
		return written.Add(models.TransactionTTL)
	case *i.TTL < 0:
		return time.Time{}
	default:
		return written.Add(time.Duration(*i.TTL) * time.Second)
	}
}

// Ping reads the container properties to verify the account is reachable.
func (r *CosmosTransactionsRepository) Ping(ctx context.Context) error {
	c, ok := r.container.(interface {
		Read(ctx context.Context, o *azcosmos.ReadContainerOptions) (azcosmos.ContainerResponse, error)
	})
	if !ok {
		return nil
	}

	if _, err := c.Read(ctx, nil); err != nil {
		return fmt.Errorf("failed to read cosmos container: %w", err)
	}

	return nil
}
