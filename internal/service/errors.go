package service

import "errors"

// Validation and insufficiency errors are rejected before any write; the
// API layer maps them to 4xx responses.
var (
	ErrMarketNotFound       = errors.New("market not found")
	ErrMarketNotActive      = errors.New("market is not active")
	ErrMarketNotBinary      = errors.New("market is not a binary market")
	ErrMarketNotMulti       = errors.New("market is not a multi-option market")
	ErrInvalidSide          = errors.New("side must be yes or no")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidPrice         = errors.New("price must be between 0 and 1")
	ErrInvalidOutcome       = errors.New("invalid outcome")
	ErrUnknownOption        = errors.New("unknown market option")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientShares   = errors.New("insufficient position shares")
	ErrInsufficientLPShares = errors.New("insufficient lp shares")
	ErrAlreadyResolved      = errors.New("market already resolved")
	ErrOrderNotFound        = errors.New("order not found")
	ErrNotOrderOwner        = errors.New("order belongs to another user")
)
