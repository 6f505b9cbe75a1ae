package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/minicart/fulfillment/internal/domain/payment"
)

type eventEnvelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data"`
}

// decodeEvent maps a verified payload onto the closed event union. Kinds
// outside the union decode to UnknownEvent so the reconciler can acknowledge
// them without side effects.
func decodeEvent(payload []byte) (payment.Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("gateway: decode event envelope: %w", err)
	}

	switch env.Type {
	case payment.CheckoutCompleted{}.Kind():
		var e payment.CheckoutCompleted
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("gateway: decode %s: %w", env.Type, err)
		}
		if e.SessionID == "" {
			e.SessionID = env.SessionID
		}
		return e, nil
	case payment.CheckoutExpired{}.Kind():
		var e payment.CheckoutExpired
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("gateway: decode %s: %w", env.Type, err)
		}
		if e.SessionID == "" {
			e.SessionID = env.SessionID
		}
		return e, nil
	default:
		return payment.UnknownEvent{Type: env.Type, SessionID: env.SessionID}, nil
	}
}
