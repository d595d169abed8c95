package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the orchestration core. Unit-level errors are captured
// into batch reports; precondition errors abort before any unit executes.
var (
	ErrInvalidCredentialFormat = errors.New("invalid credential format")
	ErrBinaryUnavailable       = errors.New("pocketd binary unavailable")
	ErrKeyringImportFailed     = errors.New("keyring import failed")
	ErrSequenceMismatch        = errors.New("account sequence mismatch")
	ErrRetriesExhausted        = errors.New("retries exhausted")
	ErrAlreadyClaimed          = errors.New("account already claimed")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrAccountNotFound         = errors.New("account not found")
	ErrNoClaimableAccounts     = errors.New("no claimable accounts")
	ErrTimeout                 = errors.New("pocketd invocation timed out")
	ErrSessionNotFound         = errors.New("session not found")
)

// AlreadyClaimedError carries the details extracted from pocketd's stderr
// when a source account was migrated in an earlier transaction.
type AlreadyClaimedError struct {
	MorseAddress   string
	ShannonAddress string
	ClaimHeight    int64
}

func (e *AlreadyClaimedError) Error() string {
	if e.MorseAddress == "" {
		return ErrAlreadyClaimed.Error()
	}
	return fmt.Sprintf("account %s already claimed by %s at height %d",
		e.MorseAddress, e.ShannonAddress, e.ClaimHeight)
}

func (e *AlreadyClaimedError) Unwrap() error { return ErrAlreadyClaimed }

// Retryable reports whether an error is in the one transient class the
// retry controller is allowed to act on.
func Retryable(err error) bool {
	return errors.Is(err, ErrSequenceMismatch)
}
