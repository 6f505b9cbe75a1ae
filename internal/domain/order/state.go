package order

import "errors"

// Phase tracks how far the fulfillment reconciliation of an order has
// progressed. It is persisted as an audit field so operators can query
// orders stuck in partial_failure.
type Phase string

const (
	PhaseReceived           Phase = "received"
	PhaseVerified           Phase = "verified"
	PhaseStockReserved      Phase = "stock_reserved"
	PhaseLedgerWritten      Phase = "ledger_written"
	PhaseNotificationSent   Phase = "notification_sent"
	PhaseDone               Phase = "done"
	PhaseVerificationFailed Phase = "verification_failed"
	PhaseStockConflict      Phase = "stock_conflict"
	PhasePartialFailure     Phase = "partial_failure"
)

var ErrInvalidPhaseTransition = errors.New("order: invalid fulfillment phase transition")

// fulfillmentState implements the state pattern for reconciliation phases.
type fulfillmentState interface {
	Phase() Phase
	OnVerified(o *Order) (fulfillmentState, error)
	OnStockReserved(o *Order, anomalies []StockAnomaly) (fulfillmentState, error)
	OnLedgerWritten(o *Order) (fulfillmentState, error)
	OnLedgerFailed(o *Order, reason string) (fulfillmentState, error)
	OnNotificationSent(o *Order) (fulfillmentState, error)
	OnNotificationFailed(o *Order, reason string) (fulfillmentState, error)
	OnCompleted(o *Order) (fulfillmentState, error)
}

func (o *Order) MarkVerified() error {
	return o.advance(func(s fulfillmentState) (fulfillmentState, error) { return s.OnVerified(o) })
}

func (o *Order) MarkStockReserved(anomalies []StockAnomaly) error {
	return o.advance(func(s fulfillmentState) (fulfillmentState, error) { return s.OnStockReserved(o, anomalies) })
}

func (o *Order) MarkLedgerWritten() error {
	return o.advance(func(s fulfillmentState) (fulfillmentState, error) { return s.OnLedgerWritten(o) })
}

func (o *Order) MarkLedgerFailed(reason string) error {
	return o.advance(func(s fulfillmentState) (fulfillmentState, error) { return s.OnLedgerFailed(o, reason) })
}

func (o *Order) MarkNotificationSent() error {
	return o.advance(func(s fulfillmentState) (fulfillmentState, error) { return s.OnNotificationSent(o) })
}

func (o *Order) MarkNotificationFailed(reason string) error {
	return o.advance(func(s fulfillmentState) (fulfillmentState, error) { return s.OnNotificationFailed(o, reason) })
}

// Complete settles the terminal phase: done for a clean run, stock_conflict
// when any decrement was clamped along the way.
func (o *Order) Complete() error {
	return o.advance(func(s fulfillmentState) (fulfillmentState, error) { return s.OnCompleted(o) })
}

func (o *Order) advance(step func(fulfillmentState) (fulfillmentState, error)) error {
	next, err := step(stateFor(o.Fulfillment))
	if err != nil {
		return err
	}
	o.Fulfillment = next.Phase()
	o.touch()
	return nil
}

func stateFor(p Phase) fulfillmentState {
	switch p {
	case PhaseVerified:
		return verifiedState{}
	case PhaseStockReserved:
		return stockReservedState{}
	case PhaseLedgerWritten:
		return ledgerWrittenState{}
	case PhaseNotificationSent:
		return notificationSentState{}
	case PhaseDone:
		return doneState{}
	case PhaseStockConflict:
		return stockConflictState{}
	case PhasePartialFailure:
		return partialFailureState{}
	default:
		return receivedState{}
	}
}

// baseState rejects every transition; concrete states override what they allow.
type baseState struct{}

func (baseState) Phase() Phase { return PhaseReceived }

func (baseState) OnVerified(*Order) (fulfillmentState, error) {
	return nil, ErrInvalidPhaseTransition
}

func (baseState) OnStockReserved(*Order, []StockAnomaly) (fulfillmentState, error) {
	return nil, ErrInvalidPhaseTransition
}

func (baseState) OnLedgerWritten(*Order) (fulfillmentState, error) {
	return nil, ErrInvalidPhaseTransition
}

func (baseState) OnLedgerFailed(*Order, string) (fulfillmentState, error) {
	return nil, ErrInvalidPhaseTransition
}

func (baseState) OnNotificationSent(*Order) (fulfillmentState, error) {
	return nil, ErrInvalidPhaseTransition
}

func (baseState) OnNotificationFailed(*Order, string) (fulfillmentState, error) {
	return nil, ErrInvalidPhaseTransition
}

func (baseState) OnCompleted(*Order) (fulfillmentState, error) {
	return nil, ErrInvalidPhaseTransition
}

type receivedState struct{ baseState }

func (receivedState) Phase() Phase { return PhaseReceived }

func (receivedState) OnVerified(o *Order) (fulfillmentState, error) {
	o.FailureReason = ""
	return verifiedState{}, nil
}

type verifiedState struct{ baseState }

func (verifiedState) Phase() Phase { return PhaseVerified }

func (verifiedState) OnStockReserved(o *Order, anomalies []StockAnomaly) (fulfillmentState, error) {
	o.Anomalies = append(o.Anomalies, anomalies...)
	return stockReservedState{}, nil
}

type stockReservedState struct{ baseState }

func (stockReservedState) Phase() Phase { return PhaseStockReserved }

func (stockReservedState) OnLedgerWritten(o *Order) (fulfillmentState, error) {
	o.FailureReason = ""
	return ledgerWrittenState{}, nil
}

func (stockReservedState) OnLedgerFailed(o *Order, reason string) (fulfillmentState, error) {
	o.FailureReason = reason
	return partialFailureState{}, nil
}

type ledgerWrittenState struct{ baseState }

func (ledgerWrittenState) Phase() Phase { return PhaseLedgerWritten }

func (ledgerWrittenState) OnNotificationSent(o *Order) (fulfillmentState, error) {
	o.FailureReason = ""
	return notificationSentState{}, nil
}

func (ledgerWrittenState) OnNotificationFailed(o *Order, reason string) (fulfillmentState, error) {
	o.FailureReason = reason
	return partialFailureState{}, nil
}

type notificationSentState struct{ baseState }

func (notificationSentState) Phase() Phase { return PhaseNotificationSent }

func (notificationSentState) OnCompleted(o *Order) (fulfillmentState, error) {
	if len(o.Anomalies) > 0 {
		return stockConflictState{}, nil
	}
	return doneState{}, nil
}

type doneState struct{ baseState }

func (doneState) Phase() Phase { return PhaseDone }

func (doneState) OnCompleted(*Order) (fulfillmentState, error) {
	return doneState{}, nil
}

type stockConflictState struct{ baseState }

func (stockConflictState) Phase() Phase { return PhaseStockConflict }

func (stockConflictState) OnCompleted(o *Order) (fulfillmentState, error) {
	return stockConflictState{}, nil
}

type partialFailureState struct{ baseState }

func (partialFailureState) Phase() Phase { return PhasePartialFailure }

func (partialFailureState) OnNotificationFailed(o *Order, reason string) (fulfillmentState, error) {
	o.FailureReason = reason
	return partialFailureState{}, nil
}
