package storage

import "errors"

var (
	// ErrAccountNotFound is returned when an account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrWalletNotFound is returned when an account has no wallet row.
	// Accounts and wallets are created together, so this indicates a
	// provisioning bug rather than a caller mistake.
	ErrWalletNotFound = errors.New("wallet not found")
)
