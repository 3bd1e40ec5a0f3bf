package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateMessage_IsSuccess(t *testing.T) {
	assert.True(t, (&CertificateMessage{Status: "SUCCESS"}).IsSuccess())
	assert.False(t, (&CertificateMessage{Status: "success"}).IsSuccess(), "status comparison is case-sensitive")
	assert.False(t, (&CertificateMessage{Status: "FAILED"}).IsSuccess())
	assert.False(t, (&CertificateMessage{}).IsSuccess())
}

func TestNewProcessMessageRequest_wireFormat(t *testing.T) {
	req := NewProcessMessageRequest(&Transaction{ID: "0xabc", CertificateToken: "ct-1"})

	body, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"transactionHash":"0xabc","ct":"ct-1"}`, string(body))
}

func TestTransaction_Expired(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

	assert.False(t, (&Transaction{ExpiresAt: now.Add(time.Second)}).Expired(now))
	assert.True(t, (&Transaction{ExpiresAt: now}).Expired(now))
	assert.True(t, (&Transaction{ExpiresAt: now.Add(-time.Hour)}).Expired(now))
	assert.False(t, (&Transaction{}).Expired(now), "unknown expiry never expires")
}

func TestTransaction_expiryNotOnTheWire(t *testing.T) {
	body, err := json.Marshal(Transaction{ID: "0xabc", CertificateToken: "ct-1", ExpiresAt: time.Now()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"0xabc","certificateToken":"ct-1"}`, string(body))
}
