package pocketd

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
)

// Classification of pocketd's human-readable stderr is inherently fragile, so
// every pattern lives here and nowhere else. Retry and orchestration logic
// only ever see the domain errors this function produces.

const sequenceMismatchSignature = "account sequence mismatch"

var alreadyClaimedRegex = regexp.MustCompile(
	`(?s)morse (?:account|address) "?([0-9A-Fa-f]{40})"?.*already.*claimed.*height (\d+).*?(pokt1[0-9a-z]{38,})`)

// ClassifyStderr maps a pocketd stderr blob onto the domain error taxonomy.
// Returns nil when no known business-error shape matches; callers then fall
// back to the raw exit error.
func ClassifyStderr(stderr string) error {
	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, sequenceMismatchSignature):
		return domain.ErrSequenceMismatch

	case strings.Contains(lower, "already claimed") || strings.Contains(lower, "already been claimed"):
		if m := alreadyClaimedRegex.FindStringSubmatch(stderr); m != nil {
			height, _ := strconv.ParseInt(m[2], 10, 64)
			return &domain.AlreadyClaimedError{
				MorseAddress:   m[1],
				ShannonAddress: m[3],
				ClaimHeight:    height,
			}
		}
		return domain.ErrAlreadyClaimed

	case strings.Contains(lower, "insufficient funds"):
		return domain.ErrInsufficientFunds

	case strings.Contains(lower, "no claimable accounts") ||
		strings.Contains(lower, "no morse claimable account"):
		return domain.ErrNoClaimableAccounts

	case strings.Contains(lower, "account not found") ||
		strings.Contains(lower, "key not found"):
		return domain.ErrAccountNotFound
	}

	return nil
}

// ClassifyRunError inspects a runner failure. Non-zero exits get their stderr
// classified; everything else passes through untouched.
func ClassifyRunError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if classified := ClassifyStderr(exitErr.Result.Stderr); classified != nil {
			return classified
		}
	}
	return err
}
