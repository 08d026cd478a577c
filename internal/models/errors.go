package models

import "errors"

// Error taxonomy. Handlers map these to acknowledgement codes; anything
// not wrapping one of them is treated as an internal error.
var (
	// ErrValidation: bad amount, currency, slot or coefficient.
	// Rejected synchronously, no side effects.
	ErrValidation = errors.New("validation failed")

	// ErrStateConflict: wrong round status for the requested action,
	// duplicate slot, or already-terminal bet.
	ErrStateConflict = errors.New("state conflict")

	// ErrActiveSessionExists: a per-user placement lock or session is
	// already held; the client should not retry immediately.
	ErrActiveSessionExists = errors.New("active session exists")

	// ErrExternalRejected: the wallet declined a debit or credit. The
	// collaborator's message is surfaced verbatim; no local state changed.
	ErrExternalRejected = errors.New("rejected by wallet")

	// ErrRoundNotFound: no round projection exists for the game code.
	ErrRoundNotFound = errors.New("round not found")

	// ErrBetNotFound: no bet with the given playerGameId is visible.
	ErrBetNotFound = errors.New("bet not found")

	// ErrVersionConflict: the store's round version is ahead of the
	// in-memory copy; reload and replay.
	ErrVersionConflict = errors.New("round version conflict")
)

const (
	CodeOK              = "0000"
	CodeValidation      = "4001"
	CodeStateConflict   = "4002"
	CodeActiveSession   = "4003"
	CodeWalletRejected  = "4004"
	CodeNotFound        = "4040"
	CodeInternal        = "5000"
)

// CodeFor maps a taxonomy error to its acknowledgement code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrStateConflict), errors.Is(err, ErrVersionConflict):
		return CodeStateConflict
	case errors.Is(err, ErrActiveSessionExists):
		return CodeActiveSession
	case errors.Is(err, ErrExternalRejected):
		return CodeWalletRejected
	case errors.Is(err, ErrRoundNotFound), errors.Is(err, ErrBetNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
