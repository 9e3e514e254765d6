package bridge

import "errors"

// Header chain errors. Any of these aborts the enclosing state transition.
var (
	// ErrUnknownParent rejects a header whose previous-hash names no stored
	// record.
	ErrUnknownParent = errors.New("bridge: header parent is unknown")
	// ErrNotFound signals that the record for the current best tip is
	// missing. The store is corrupt; this is not a recoverable input error.
	ErrNotFound = errors.New("bridge: best tip record missing from header store")
	// ErrAncientFork rejects a header that would rewrite history older than
	// the confirmation window.
	ErrAncientFork = errors.New("bridge: fork is too deep to proceed")
	// ErrHeaderExists rejects re-submission of an already stored header.
	// Records are mutated in place only to flip the confirmed flag, so a
	// second insert would reset it.
	ErrHeaderExists = errors.New("bridge: header already recorded")
)

// Withdrawal ledger errors.
var (
	// ErrTokenNotWithdrawable rejects withdrawals of assets that settle on
	// this chain, including the native token.
	ErrTokenNotWithdrawable = errors.New("bridge: token is not withdrawable")
	// ErrAddressInvalid rejects a destination the address validator refused.
	ErrAddressInvalid = errors.New("bridge: destination address invalid")
	// ErrBelowMinimum rejects amounts under the asset's configured minimum.
	ErrBelowMinimum = errors.New("bridge: amount below withdrawal minimum")
	// ErrInsufficientFreeBalance rejects withdrawals exceeding the
	// applicant's free balance.
	ErrInsufficientFreeBalance = errors.New("bridge: free balance not enough for this account")
	// ErrApplicationNotFound rejects finishing an id with no pending node.
	ErrApplicationNotFound = errors.New("bridge: withdrawal application record not exist")
	// ErrNotApplicant rejects a revocation by anyone but the original
	// applicant.
	ErrNotApplicant = errors.New("bridge: caller is not the applicant")
	// ErrQueueCorrupted signals a dangling head, tail, or neighbor pointer
	// in the withdrawal queue. Store corruption, never a valid input.
	ErrQueueCorrupted = errors.New("bridge: withdrawal queue pointer is dangling")
)

var errNilState = errors.New("bridge: state not configured")
