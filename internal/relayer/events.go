package relayer

import (
	"context"
	"time"

	"go-relayer/internal/models"
)

// RequestEvent a persisted status transition of one request
type RequestEvent struct {
	RequestID       string               `json:"request_id"`
	Status          models.RequestStatus `json:"status"`
	PreviousStatus  models.RequestStatus `json:"previous_status"`
	Nonce           *uint64              `json:"nonce,omitempty"`
	TransactionHash string               `json:"transaction_hash,omitempty"`
	Reason          string               `json:"reason,omitempty"`
	Timestamp       time.Time            `json:"timestamp"`
}

// NewRequestEvent builds the event for a request that moved from previous to its current status
func NewRequestEvent(req *models.DelegateRequest, previous models.RequestStatus) RequestEvent {
	return RequestEvent{
		RequestID:       req.ID,
		Status:          req.Status,
		PreviousStatus:  previous,
		Nonce:           req.Nonce,
		TransactionHash: req.TransactionHash,
		Reason:          req.Reason,
		Timestamp:       time.Now().UTC(),
	}
}

// Notifier receives transitions after they are persisted
type Notifier interface {
	Notify(ctx context.Context, event RequestEvent) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, event RequestEvent) error

func (f NotifierFunc) Notify(ctx context.Context, event RequestEvent) error {
	return f(ctx, event)
}
