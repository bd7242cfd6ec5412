package token

import (
	"errors"
	"fmt"
)

// ErrInvalidAmount is returned when a credit or debit amount is not a
// positive integer. Nothing is mutated and no ledger entry is written.
var ErrInvalidAmount = errors.New("amount must be a positive integer")

// InsufficientBalanceError is returned when a debit exceeds the available
// balance. It carries what the caller needed versus what the account holds
// so handlers can render a "need N more tokens" message.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient token balance: need %d, have %d", e.Required, e.Available)
}

// AsInsufficientBalance unwraps err into an InsufficientBalanceError.
func AsInsufficientBalance(err error) (*InsufficientBalanceError, bool) {
	var ibe *InsufficientBalanceError
	if errors.As(err, &ibe) {
		return ibe, true
	}
	return nil, false
}
