package service

import (
	"errors"
	"fmt"
)

// The error taxonomy surfaced by the services. Expected errors (everything
// except the crypto-engine ones) are returned to the caller with enough
// detail to correct the input and are never retried. Wrapping preserves the
// sentinel, so callers classify with errors.Is or Kind.
var (
	// ErrAuthentication covers an unresolvable voter secret and a
	// verification-code/vote-secret mismatch.
	ErrAuthentication = errors.New("authentication failed")

	ErrEventNotFound  = errors.New("event not found")
	ErrBallotNotFound = errors.New("no ballot matches the verification code")

	// State errors: the event is not currently accepting votes, for one of
	// three distinguishable reasons.
	ErrVotingNotOpen      = errors.New("voting has not opened yet")
	ErrVotingWindowClosed = errors.New("voting window has closed")
	ErrVotingEnded        = errors.New("voting has ended")

	ErrInvalidSelection = errors.New("invalid candidate selection")
	ErrInvalidInput     = errors.New("invalid input")

	ErrAlreadyVoted = errors.New("voter already has a ballot for this event")

	ErrCryptoEngine = errors.New("crypto engine failure")
)

// ErrCryptoTimeout marks an engine call that missed its deadline. It wraps
// ErrCryptoEngine, so coarse classification still works while the timeout
// stays distinguishable.
var ErrCryptoTimeout = fmt.Errorf("crypto engine timed out: %w", ErrCryptoEngine)

// ErrSubmissionConflict is returned when a submission passed the idempotency
// pre-check but lost the race at insert time. It wraps ErrAlreadyVoted: as
// far as the voter is concerned a ballot exists either way.
var ErrSubmissionConflict = fmt.Errorf("submission lost a concurrent race: %w", ErrAlreadyVoted)

// Error kinds for the transport layer.
const (
	KindAuthentication = "AUTHENTICATION_ERROR"
	KindNotFound       = "NOT_FOUND"
	KindState          = "STATE_ERROR"
	KindValidation     = "VALIDATION_ERROR"
	KindIdempotency    = "IDEMPOTENCY_VIOLATION"
	KindCryptoEngine   = "CRYPTO_ENGINE_ERROR"
	KindInternal       = "INTERNAL_ERROR"
)

// Kind maps an error to exactly one taxonomy kind.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrEventNotFound), errors.Is(err, ErrBallotNotFound):
		return KindNotFound
	case errors.Is(err, ErrVotingNotOpen), errors.Is(err, ErrVotingWindowClosed), errors.Is(err, ErrVotingEnded):
		return KindState
	case errors.Is(err, ErrInvalidSelection), errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrAlreadyVoted):
		return KindIdempotency
	case errors.Is(err, ErrCryptoEngine):
		return KindCryptoEngine
	default:
		return KindInternal
	}
}
