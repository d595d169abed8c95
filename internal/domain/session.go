package domain

import (
	"fmt"
	"regexp"
	"time"
)

var sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateSessionID rejects ids that could escape the session directory tree
func ValidateSessionID(id string) error {
	if !sessionIDRegex.MatchString(id) {
		return fmt.Errorf("invalid session id: %q", id)
	}
	return nil
}

// SessionParams captures the request parameters a session was created with
type SessionParams struct {
	Network      string `json:"network"`
	ChainID      string `json:"chain_id,omitempty"`
	OwnerAddress string `json:"owner_address,omitempty"`
	UnitCount    int    `json:"unit_count"`
}

// Session is one batch operation: a migration run or a staking run.
// The descriptor is written once at creation and never mutated; per-unit
// progress lives in the session's artifact files.
type Session struct {
	ID        string        `json:"id"`
	Kind      SessionKind   `json:"kind"`
	Params    SessionParams `json:"params"`
	CreatedAt time.Time     `json:"created_at"`

	// WorkDir is the session root: <dataRoot>/<kind>/<id>
	WorkDir string `json:"-"`
}

// WorkUnit is one item inside a session: one node to stake, or the whole
// key-set of a single migration transaction.
type WorkUnit struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	InputRef string `json:"input_ref"`

	Status    UnitStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
}

// UnitResult is the per-unit entry in a batch report
type UnitResult struct {
	Index    int        `json:"index"`
	Name     string     `json:"name"`
	Status   UnitStatus `json:"status"`
	Attempts int        `json:"attempts"`
	Address  string     `json:"address,omitempty"`
	TxHash   string     `json:"tx_hash,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// BatchReport aggregates per-unit outcomes for a whole session run
type BatchReport struct {
	SessionID  string       `json:"session_id"`
	Kind       SessionKind  `json:"kind"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Units      []UnitResult `json:"units"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	// FallbackUnavailable is set when no caller credential was usable and
	// the fallback identity could not be established either.
	FallbackUnavailable bool `json:"fallback_unavailable,omitempty"`
}

// Add records a unit result and updates the counters
func (r *BatchReport) Add(res UnitResult) {
	r.Units = append(r.Units, res)
	switch res.Status {
	case UnitSucceeded:
		r.Succeeded++
	case UnitFailed:
		r.Failed++
	}
}
