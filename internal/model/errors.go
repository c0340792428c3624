package model

import (
	"errors"
	"fmt"
)

// Sentinel errors of the marketplace engine. Callers branch with errors.Is;
// the structured variants below carry the detail needed for user messages.
var (
	ErrInsufficientBalance    = errors.New("insufficient energy balance")
	ErrInvalidStateTransition = errors.New("invalid offer state transition")
	ErrDuplicateTransaction   = errors.New("transaction already processed")
	ErrNotFound               = errors.New("not found")
	ErrConsistencyFault       = errors.New("chain event contradicts off-chain record")
	ErrInvalidQuantity        = errors.New("quantity must be positive")
	ErrNotOfferOwner          = errors.New("offer belongs to another seller")
	ErrBadConfirmation        = errors.New("cancellation confirmation mismatch")
)

// InsufficientBalanceError reports by how much a requested quantity
// exceeds what the user can still commit to offers.
type InsufficientBalanceError struct {
	Requested int64
	Available int64
	Shortfall int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient energy balance: requested %d kWh, available %d kWh (short %d kWh)",
		e.Requested, e.Available, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidTransitionError names the offer and the rejected lifecycle edge.
type InvalidTransitionError struct {
	OfferID int64
	From    OfferStatus
	To      OfferStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("offer %d: cannot transition %s -> %s", e.OfferID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// ConsistencyFaultError describes a confirmed chain event that disagrees
// with the off-chain record. It is surfaced to an operator, never
// auto-resolved by overwriting.
type ConsistencyFaultError struct {
	OfferID int64
	TxHash  string
	Detail  string
}

func (e *ConsistencyFaultError) Error() string {
	return fmt.Sprintf("consistency fault on offer %d (tx %s): %s", e.OfferID, e.TxHash, e.Detail)
}

func (e *ConsistencyFaultError) Unwrap() error { return ErrConsistencyFault }
