package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the coordinator's error taxonomy. Callers should
// check these with errors.Is(); they are returned verbatim or wrapped with
// context via fmt.Errorf("%s: %w", ...).
var (
	// ErrInvalidInput marks a canonicalization or configuration validation
	// failure. No state is mutated when this is returned.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClaimLost marks a claim-guarded update that touched zero rows:
	// the caller no longer owns the domain and must stop work on it.
	ErrClaimLost = errors.New("claim lost")

	// ErrVersionConflict marks an optimistic-lock mismatch on release.
	// Callers retry with a refreshed version up to a small fixed number
	// of times before giving up.
	ErrVersionConflict = errors.New("version conflict")

	// ErrIllegalTransition marks a status transition not permitted by
	// the domain state machine. This indicates a contract bug in the
	// caller and should never occur for well-behaved code.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrStoreUnavailable marks a transient connectivity failure to the
	// relational or key/value store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrFatalConfig marks a configuration the session refuses to start
	// with, e.g. claim protocol enabled without smart scheduling.
	ErrFatalConfig = errors.New("fatal configuration error")

	// ErrNoDomainAvailable names the "nothing qualifies" outcome. Claim does
	// not return it: an empty batch comes back with a nil error, since it
	// is a normal outcome (§8.3 B1).
	ErrNoDomainAvailable = errors.New("no domain available to claim")
)

// Wrap attaches context to an error without discarding its identity, so
// errors.Is(wrapped, ErrClaimLost) still succeeds after wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf is Wrap with a formatted context string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
