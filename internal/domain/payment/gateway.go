package payment

import (
	"context"
	"errors"

	"github.com/minicart/fulfillment/internal/domain/checkout"
)

var (
	ErrBadSignature  = errors.New("payment: invalid webhook signature")
	ErrSessionCreate = errors.New("payment: session creation failed")
)

// SessionInput describes the checkout handed to the external provider. The
// item snapshot travels through the gateway as opaque metadata and is echoed
// back unchanged on the completion event.
type SessionInput struct {
	BuyerID    string
	Items      []checkout.Item
	Total      int64
	SuccessURL string
	CancelURL  string
}

// Gateway is the external payment provider adapter. CreateSession opens a
// hosted checkout session; VerifyEvent authenticates a raw webhook delivery
// and decodes it into a typed event. Payloads must be verified byte-for-byte
// before any parsing, so VerifyEvent takes the unparsed body.
type Gateway interface {
	CreateSession(ctx context.Context, in SessionInput) (sessionID string, err error)
	VerifyEvent(payload []byte, signature string) (Event, error)
}
