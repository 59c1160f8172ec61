package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error taxonomy for the billing pipeline. Every failure before
// settlement is side-effect-free on the wallet and the usage log.
var (
	// ErrBadRequest indicates missing or malformed request fields.
	ErrBadRequest = errors.New("bad request")

	// ErrUnauthorized indicates a missing, unknown or disabled API key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnsupportedModel indicates a model with no registered pricing
	// or provider.
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrInsufficientFunds indicates the wallet cannot cover the request.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrProvider indicates an upstream provider failure. The pipeline
	// does not retry; no charge is applied.
	ErrProvider = errors.New("provider error")

	// ErrKeyNotFound is returned by account stores when a key does not
	// exist. The pipeline surfaces it as ErrUnauthorized.
	ErrKeyNotFound = errors.New("API key not found")
)

// InsufficientFundsError carries the balance context the caller needs
// to top up or shrink the request. It matches ErrInsufficientFunds
// under errors.Is.
type InsufficientFundsError struct {
	Balance       decimal.Decimal
	EstimatedCost decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, estimated cost %s",
		e.Balance.String(), e.EstimatedCost.String())
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}
