package lifecycle

import (
	"errors"
	"fmt"

	"github.com/joao-fontenele/kitchen-console/internal/domain"
)

var (
	// ErrInvalidState means the order is unknown, not pending, or the target
	// status is not reachable. Nothing was persisted.
	ErrInvalidState = errors.New("invalid order state for transition")
	// ErrPersistenceFailure means the status write failed. The in-memory order
	// keeps its previous status.
	ErrPersistenceFailure = errors.New("order status could not be persisted")
)

type TransitionError struct {
	Kind    error
	OrderID string
	From    domain.OrderStatus
	To      domain.OrderStatus
	Err     error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("transition order %s", e.OrderID)
	if e.From != "" {
		msg += fmt.Sprintf(" from %s", e.From)
	}
	msg += fmt.Sprintf(" to %s: %v", e.To, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransitionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
