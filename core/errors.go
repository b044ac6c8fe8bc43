package core

import "errors"

// Storage-level sentinels.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by create-if-absent writes when the record
	// is already present. It is the anti-replay primitive: inventory
	// assignments and pending randomness requests rely on it.
	ErrAlreadyExists = errors.New("already exists")
)

// Authorization.
var (
	ErrUnauthorized = errors.New("unauthorized")
)

// Proof / crypto.
var (
	ErrInvalidMerkleProof = errors.New("invalid merkle proof")
	ErrMerkleProofTooDeep = errors.New("merkle proof depth exceeds maximum")
	ErrVrfNotFulfilled    = errors.New("randomness request not fulfilled or invalid")
	ErrInvalidSignature   = errors.New("invalid signature")
)

// State conflicts.
var (
	ErrAlreadyOpened            = errors.New("box already opened")
	ErrNotOpenedYet             = errors.New("box not opened yet")
	ErrInventoryAlreadyAssigned = errors.New("inventory item already assigned")
	ErrBuybackDisabled          = errors.New("buyback disabled or vault paused")
)

// Economic guards.
var (
	ErrSlippageExceeded     = errors.New("slippage tolerance exceeded")
	ErrTreasuryInsufficient = errors.New("treasury balance insufficient")
	ErrPriceStale           = errors.New("price data stale or missing")
	ErrArithmeticOverflow   = errors.New("arithmetic overflow")
	ErrInsufficientFunds    = errors.New("insufficient funds")
)

// Input validation.
var (
	ErrInvalidBatchId   = errors.New("invalid batch id")
	ErrInvalidPoolSize  = errors.New("invalid pool size")
	ErrInvalidMetadata  = errors.New("invalid metadata")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)
