package domain

import (
	"errors"
	"fmt"
)

// Pipeline error kinds. Handlers map these to transport status codes;
// nothing below collapses distinct causes into a generic failure.
var (
	ErrValidation          = errors.New("order validation failed")
	ErrRiskBlocked         = errors.New("risk limits exceeded")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrGatewayTimeout      = errors.New("execution venue timeout")
	ErrGatewayRejected     = errors.New("execution venue rejected order")
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotCancellable      = errors.New("order not cancellable")
	ErrAccountNotFound     = errors.New("account not found")
)

// Reject wraps a pipeline error kind with a user-displayable reason.
func Reject(kind error, reason string) error {
	return fmt.Errorf("%w: %s", kind, reason)
}
