package gateway

import (
	"context"
	"errors"
)

// ErrGateway wraps every failure to obtain an order from the gateway.
var ErrGateway = errors.New("payment gateway error")

// Order is the gateway's handle for a checkout.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Client is the payment gateway as seen by the orchestrator and reconciliation.
type Client interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error)
	VerifySignature(payload []byte, signature, secret string) bool
	KeyID() string
}
