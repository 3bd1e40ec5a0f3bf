package models

import "time"

// Transaction is the Kore node transaction stored by the digital certificate app before
// a transfer is submitted. The relay only reads it; the store expires rows after 24h.
type Transaction struct {
	ID               string `json:"id"`
	CertificateToken string `json:"certificateToken"`
	// ExpiresAt is when the store drops the record; zero when the store did not report it.
	ExpiresAt time.Time `json:"-"`
}

// TransactionTTL is how long the store keeps a transaction before expiring it.
const TransactionTTL = 24 * time.Hour

// Expired reports whether the record is past its expiry at now.
// A record with unknown expiry is never reported as expired.
func (t *Transaction) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// ProcessMessageRequest is the body POSTed to the digital certificate app.
type ProcessMessageRequest struct {
	TransactionHash string `json:"transactionHash"`
	CT              string `json:"ct"`
}

// NewProcessMessageRequest builds the downstream body from a transaction.
func NewProcessMessageRequest(tx *Transaction) ProcessMessageRequest {
	return ProcessMessageRequest{
		TransactionHash: tx.ID,
		CT:              tx.CertificateToken,
	}
}
