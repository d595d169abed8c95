// Package orchestrator drives a session's work units one at a time: resolve
// the signing identity, run the unit's transaction with retry, record the
// outcome, then wait the inter-transaction delay before the next unit. A
// failing unit never aborts its siblings; only precondition failures abort
// the batch before any unit runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
	"github.com/pokt-foundation/shannon-orch/internal/keyring"
	"github.com/pokt-foundation/shannon-orch/internal/pocketd"
	"github.com/pokt-foundation/shannon-orch/internal/retry"
	"github.com/pokt-foundation/shannon-orch/internal/session"
)

// DefaultInterTxDelay separates consecutive transactions from the same signer
// so the chain sees each one with an up-to-date account sequence.
const DefaultInterTxDelay = 30 * time.Second

// IdentitySpec describes where the signing identity for a batch comes from.
// Precedence is override, then session owner, then the fallback identity.
type IdentitySpec struct {
	// OverrideName/OverrideCred import an explicit caller-supplied credential
	OverrideName string
	OverrideCred domain.Credential

	// OwnerName references an identity expected to exist in the keyring
	OwnerName string
}

// hasOverride reports whether an explicit credential was supplied
func (s IdentitySpec) hasOverride() bool {
	return s.OverrideCred.Type != domain.CredentialNone
}

// UnitOutcome is what a per-unit operation reports on success
type UnitOutcome struct {
	Address string
	TxHash  string
}

// UnitOp performs one work unit's transaction with the resolved signer
type UnitOp func(ctx context.Context, unit domain.WorkUnit, signer string) (UnitOutcome, error)

// EventKind identifies a progress event type
type EventKind string

const (
	EventUnitStarted   EventKind = "unit_started"
	EventUnitFinished  EventKind = "unit_finished"
	EventBatchFinished EventKind = "batch_finished"
)

// Event is a progress notification emitted while a batch runs
type Event struct {
	Kind      EventKind           `json:"kind"`
	SessionID string              `json:"session_id"`
	Unit      *domain.UnitResult  `json:"unit,omitempty"`
	Report    *domain.BatchReport `json:"report,omitempty"`
	Time      time.Time           `json:"time"`
}

// Orchestrator runs batches over a session's work units
type Orchestrator struct {
	store        *session.Store
	keys         *keyring.Manager
	retrier      *retry.Controller
	interTxDelay time.Duration

	// notify receives progress events; may be nil
	notify func(Event)

	// sleep is swappable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator over the given store and keyring manager
func New(store *session.Store, keys *keyring.Manager, retrier *retry.Controller, interTxDelay time.Duration) *Orchestrator {
	if interTxDelay <= 0 {
		interTxDelay = DefaultInterTxDelay
	}
	return &Orchestrator{
		store:        store,
		keys:         keys,
		retrier:      retrier,
		interTxDelay: interTxDelay,
		sleep:        sleepCtx,
	}
}

// SetNotify registers a progress event callback
func (o *Orchestrator) SetNotify(fn func(Event)) { o.notify = fn }

// SetSleep replaces the delay function. Test hook.
func (o *Orchestrator) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	o.sleep = fn
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) emit(ev Event) {
	if o.notify != nil {
		ev.Time = time.Now()
		o.notify(ev)
	}
}

// ResolveSigner establishes the signing identity for one unit and returns its
// keyring name. The keyring is external mutable state, so resolution happens
// fresh for every unit rather than once per batch.
func (o *Orchestrator) ResolveSigner(ctx context.Context, b *pocketd.Builder, spec IdentitySpec) (string, error) {
	switch {
	case spec.hasOverride():
		name := spec.OverrideName
		if name == "" {
			name = "override-signer"
		}
		if _, err := o.keys.EnsureIdentity(ctx, b, name, spec.OverrideCred); err != nil {
			return "", fmt.Errorf("establishing override identity: %w", err)
		}
		return name, nil
	case spec.OwnerName != "":
		keys, err := o.keys.ListIdentities(ctx, b)
		if err != nil {
			return "", err
		}
		for _, k := range keys {
			if k.Name == spec.OwnerName {
				return spec.OwnerName, nil
			}
		}
		log.Printf("[orchestrator] owner identity %q not in keyring, falling back", spec.OwnerName)
		fallthrough
	default:
		if _, err := o.keys.EnsureIdentity(ctx, b, o.keys.FallbackName(), domain.NoCredential()); err != nil {
			return "", fmt.Errorf("%w: fallback identity: %v", errFallbackUnavailable, err)
		}
		return o.keys.FallbackName(), nil
	}
}

var errFallbackUnavailable = errors.New("fallback identity unavailable")

// RunBatch executes the session's work units in index order. It returns a
// report enumerating every unit; the error return is reserved for
// preconditions that prevent the batch from starting at all.
func (o *Orchestrator) RunBatch(ctx context.Context, sess *domain.Session, b *pocketd.Builder, spec IdentitySpec, op UnitOp) (*domain.BatchReport, error) {
	units, err := o.store.ListWorkUnits(sess.ID)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("session %s has no work units", sess.ID)
	}

	report := &domain.BatchReport{
		SessionID: sess.ID,
		Kind:      sess.Kind,
		StartedAt: time.Now(),
	}

	for i, unit := range units {
		// Cancellation is honored between units, never mid-transaction
		if err := ctx.Err(); err != nil {
			report.Add(domain.UnitResult{
				Index: unit.Index, Name: unit.Name,
				Status: domain.UnitFailed, Error: "batch cancelled",
			})
			continue
		}

		o.emit(Event{Kind: EventUnitStarted, SessionID: sess.ID, Unit: &domain.UnitResult{
			Index: unit.Index, Name: unit.Name, Status: domain.UnitPending,
		}})

		res, unitErr := o.runUnit(ctx, unit, b, spec, op)
		if errors.Is(unitErr, errFallbackUnavailable) {
			report.FallbackUnavailable = true
		}
		report.Add(res)
		o.emit(Event{Kind: EventUnitFinished, SessionID: sess.ID, Unit: &res})

		log.Printf("[orchestrator] session %s unit %d/%d (%s): %s",
			sess.ID, i+1, len(units), unit.Name, res.Status)

		if i < len(units)-1 {
			if err := o.sleep(ctx, o.interTxDelay); err != nil {
				log.Printf("[orchestrator] session %s: delay interrupted: %v", sess.ID, err)
			}
		}
	}

	report.FinishedAt = time.Now()
	if err := o.store.WriteReport(sess, report); err != nil {
		log.Printf("[orchestrator] session %s: persisting report: %v", sess.ID, err)
	}
	o.emit(Event{Kind: EventBatchFinished, SessionID: sess.ID, Report: report})
	return report, nil
}

// runUnit resolves the signer and executes one unit with retry. The returned
// error duplicates res.Error for sentinel checks by the caller.
func (o *Orchestrator) runUnit(ctx context.Context, unit domain.WorkUnit, b *pocketd.Builder, spec IdentitySpec, op UnitOp) (domain.UnitResult, error) {
	res := domain.UnitResult{Index: unit.Index, Name: unit.Name}

	signer, err := o.ResolveSigner(ctx, b, spec)
	if err != nil {
		res.Status = domain.UnitFailed
		res.Attempts = 1
		res.Error = err.Error()
		return res, err
	}

	var outcome UnitOutcome
	attempts, err := o.retrier.Do(ctx, unit.Name, func(ctx context.Context) error {
		var opErr error
		outcome, opErr = op(ctx, unit, signer)
		return opErr
	})
	res.Attempts = attempts
	res.Address = outcome.Address
	res.TxHash = outcome.TxHash
	if err != nil {
		res.Status = domain.UnitFailed
		res.Error = err.Error()
		return res, err
	}
	res.Status = domain.UnitSucceeded
	return res, nil
}
