package repositories

import "fmt"

// InventoryErrorCode enumerates failure causes for stock operations.
type InventoryErrorCode string

const (
	InventoryErrorUnknown         InventoryErrorCode = "inventory_unknown"
	InventoryErrorInvalidQuantity InventoryErrorCode = "inventory_invalid_quantity"
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
)

// InventoryError carries a machine readable code for stock failures.
type InventoryError struct {
	Op      string
	Code    InventoryErrorCode
	Message string
	Err     error
}

// NewInventoryError builds an InventoryError, defaulting the message to the code.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{Code: code, Message: message, Err: err}
}

func (e *InventoryError) Error() string {
	return formatCoded(e.Op, e.Message)
}

func (e *InventoryError) Unwrap() error { return e.Err }

func (e *InventoryError) IsNotFound() bool {
	return e != nil && e.Code == InventoryErrorProductNotFound
}

func (e *InventoryError) IsConflict() bool { return false }

func (e *InventoryError) IsUnavailable() bool { return false }

// CounterErrorCode enumerates failure causes for sequence allocation.
type CounterErrorCode string

const (
	CounterErrorUnknown      CounterErrorCode = "counter_unknown"
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorExhausted means the counter reached its configured maximum.
	CounterErrorExhausted CounterErrorCode = "counter_exhausted"
)

// CounterError carries a machine readable code for counter failures.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

// NewCounterError builds a CounterError, defaulting the message to the code.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

func (e *CounterError) Error() string {
	return formatCoded(e.Op, e.Message)
}

func (e *CounterError) Unwrap() error { return e.Err }

func formatCoded(op, message string) string {
	if op != "" {
		return fmt.Sprintf("%s: %s", op, message)
	}
	return message
}
