package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eon/kore-relay/internal/models"
	"github.com/eon/kore-relay/internal/relayerrors"
)

// transactionsSchema creates the transactions table. expires_at mirrors the 24h TTL the
// document store applies; expired rows are invisible to reads until a sweep deletes them.
const transactionsSchema = `
	CREATE TABLE IF NOT EXISTS kore_node_transactions (
		id                TEXT PRIMARY KEY,
		certificate_token TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at        TIMESTAMPTZ NOT NULL DEFAULT now() + interval '24 hours'
	);
	CREATE INDEX IF NOT EXISTS kore_node_transactions_expires_at_idx ON kore_node_transactions (expires_at);
`

// PostgresTransactionsRepository reads Kore node transactions from PostgreSQL.
type PostgresTransactionsRepository struct {
	db *pgxpool.Pool
}

// NewPostgresTransactionsRepository creates a new transactions repository
func NewPostgresTransactionsRepository(db *pgxpool.Pool) *PostgresTransactionsRepository {
	return &PostgresTransactionsRepository{db: db}
}

// EnsureSchema creates the transactions table if it does not exist.
func (r *PostgresTransactionsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, transactionsSchema); err != nil {
		return fmt.Errorf("failed to create transactions schema: %w", err)
	}

	return nil
}

// GetByTransferHash retrieves a non-expired transaction by transfer hash
func (r *PostgresTransactionsRepository) GetByTransferHash(ctx context.Context, transferHash string) (*models.Transaction, error) {
	query := `
		SELECT id, certificate_token, expires_at
		FROM kore_node_transactions
		WHERE id = $1 AND expires_at > now()
	`

	var tx models.Transaction
	err := r.db.QueryRow(ctx, query, transferHash).Scan(&tx.ID, &tx.CertificateToken, &tx.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, relayerrors.NewTransactionNotFoundError(transferHash, relayerrors.ReasonMissing)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &tx, nil
}

// DeleteExpired removes expired rows and returns how many were deleted.
func (r *PostgresTransactionsRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM kore_node_transactions WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired transactions: %w", err)
	}

	return tag.RowsAffected(), nil
}

// Ping checks that the database is reachable.
func (r *PostgresTransactionsRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
