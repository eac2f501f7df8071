// Package gateway implements the outbound payment gateway contracts and
// the signed-callback verification used by payment reconciliation.
package gateway

import (
	"context"
	"encoding/json"
)

// PaymentRequest describes a payment to initiate with a gateway.
type PaymentRequest struct {
	CheckoutID int64
	Amount     float64
	OrderInfo  string
	ClientIP   string
}

// CallbackResult is the normalized, signature-verified content of a
// gateway callback. It is only produced after HMAC verification.
type CallbackResult struct {
	CheckoutID    int64
	Gateway       string
	Success       bool
	TransactionID string
	Amount        float64
	Details       json.RawMessage
}

// Ack is the gateway-specific acknowledgment body. Gateways retry the
// callback on any other shape.
type Ack map[string]interface{}

// Gateway is a payment gateway integration.
type Gateway interface {
	Name() string

	// CreatePayment returns the URL the customer is redirected to.
	CreatePayment(ctx context.Context, req PaymentRequest) (string, error)

	// VerifyCallback authenticates a raw callback payload and extracts
	// the reconciliation result. For redirect-style gateways the payload
	// is the raw query string; for webhook-style gateways the JSON body.
	VerifyCallback(payload []byte) (*CallbackResult, error)

	// AckSuccess is the acknowledgment for an accepted (or idempotently
	// re-delivered) callback.
	AckSuccess() Ack

	// AckFailure is the acknowledgment for a rejected callback.
	AckFailure(err error) Ack
}
