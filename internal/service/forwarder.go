package service

import (
	"context"

	"github.com/eon/kore-relay/internal/models"
)

// ForwardResult says whether a forward reached the digital certificate app or was queued.
type ForwardResult int

const (
	// ForwardDelivered means the app acknowledged the certificate token with a 2xx.
	ForwardDelivered ForwardResult = iota
	// ForwardEnqueued means a forward job was stored and will be delivered by a worker.
	ForwardEnqueued
)

// ForwardRequest is one certificate token headed to the digital certificate app.
type ForwardRequest struct {
	MessageID    string
	TransferHash string
	Body         models.ProcessMessageRequest
}

// Forwarder hands a certificate token to the digital certificate app, directly or via a queue.
type Forwarder interface {
	Forward(ctx context.Context, req ForwardRequest) (ForwardResult, error)
}

// DirectForwarder POSTs inline with the delivery being handled.
type DirectForwarder struct {
	sender ProcessMessageSender
}

// NewDirectForwarder creates a forwarder that calls sender synchronously.
func NewDirectForwarder(sender ProcessMessageSender) *DirectForwarder {
	return &DirectForwarder{sender: sender}
}

// Forward sends req.Body and reports ForwardDelivered on success.
func (f *DirectForwarder) Forward(ctx context.Context, req ForwardRequest) (ForwardResult, error) {
	return ForwardDelivered, f.sender.ProcessMessage(ctx, req.Body)
}
