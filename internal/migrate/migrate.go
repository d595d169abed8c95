// Package migrate drives the claim-accounts flow: a batch of legacy-chain
// hex keys becomes one broadcast transaction that claims each account's
// balance on the successor chain.
package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
	"github.com/pokt-foundation/shannon-orch/internal/orchestrator"
	"github.com/pokt-foundation/shannon-orch/internal/pocketd"
	"github.com/pokt-foundation/shannon-orch/internal/session"
)

// Request is a shape-validated migration request. HexKeys is the raw
// caller-supplied key material; binary-facing validation happens here before
// any process is spawned.
type Request struct {
	SessionID          string // resume an existing session when set
	Network            string
	DestinationAddress string
	HexKeys            []string
	Identity           orchestrator.IdentitySpec
	TxParams           pocketd.TxParams

	// Unsigned switches to generate-only mode: the transaction is produced
	// for client-side signing instead of being broadcast.
	Unsigned bool
}

// AccountMapping pairs one legacy account with its successor-chain account
type AccountMapping struct {
	MorseAddress   string `json:"morse_address"`
	ShannonAddress string `json:"shannon_address"`
}

// ClaimResult is the parsed content of pocketd's claim output file
type ClaimResult struct {
	Mappings []AccountMapping `json:"mappings"`
	TxHash   string           `json:"tx_hash"`
	TxCode   int              `json:"tx_code"`
}

// Outcome bundles the batch report with the parsed claim result
type Outcome struct {
	Session *domain.Session     `json:"session"`
	Report  *domain.BatchReport `json:"report"`
	Claim   *ClaimResult        `json:"claim,omitempty"`

	// UnsignedTx holds the generate-only transaction JSON when requested
	UnsignedTx json.RawMessage `json:"unsigned_tx,omitempty"`
}

// Migrator orchestrates claim-accounts sessions
type Migrator struct {
	runner  pocketd.Runner
	store   *session.Store
	orch    *orchestrator.Orchestrator
	timeout time.Duration
}

// New creates a Migrator. timeout bounds the broadcast invocation and should
// be the longer broadcast limit, not the general command timeout.
func New(runner pocketd.Runner, store *session.Store, orch *orchestrator.Orchestrator, timeout time.Duration) *Migrator {
	if timeout <= 0 {
		timeout = 2 * pocketd.DefaultTimeout
	}
	return &Migrator{runner: runner, store: store, orch: orch, timeout: timeout}
}

// cleanKeys validates every key before any side effect and returns the
// normalized hex strings. A single malformed key aborts the whole batch.
func cleanKeys(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no keys supplied", domain.ErrInvalidCredentialFormat)
	}
	cleaned := make([]string, 0, len(raw))
	for i, k := range raw {
		cred, err := domain.NewRawHexCredential(k)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		cleaned = append(cleaned, cred.HexKey)
	}
	return cleaned, nil
}

// Run performs the migration batch and returns the aggregated outcome.
// Precondition failures (bad keys, missing session, unwritable input) abort
// before anything is broadcast.
func (m *Migrator) Run(ctx context.Context, b *pocketd.Builder, req Request) (*Outcome, error) {
	keys, err := cleanKeys(req.HexKeys)
	if err != nil {
		return nil, err
	}
	if err := req.TxParams.Validate(); err != nil {
		return nil, err
	}

	params := domain.SessionParams{
		Network:      req.Network,
		ChainID:      req.TxParams.ChainID,
		OwnerAddress: req.DestinationAddress,
		UnitCount:    len(keys),
	}
	var sess *domain.Session
	if req.SessionID != "" {
		sess, err = m.store.EnsureSession(req.SessionID, domain.KindMigration, params)
	} else {
		sess, err = m.store.CreateSession(domain.KindMigration, params)
	}
	if err != nil {
		return nil, err
	}

	inputPath := m.store.MigrationInputPath(sess.ID)
	outputPath := m.store.MigrationOutputPath(sess.ID)
	if err := writeInputFile(inputPath, keys); err != nil {
		return nil, err
	}
	// The input file holds private keys; it exists only for the duration of
	// the pocketd invocation.
	defer func() {
		if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
			log.Printf("[migrate] session %s: removing input file: %v", sess.ID, err)
		}
	}()

	outcome := &Outcome{Session: sess}

	report, err := m.orch.RunBatch(ctx, sess, b, req.Identity,
		func(ctx context.Context, unit domain.WorkUnit, signer string) (orchestrator.UnitOutcome, error) {
			return m.claim(ctx, b, req, signer, inputPath, outputPath, outcome)
		})
	if err != nil {
		return nil, err
	}
	outcome.Report = report
	return outcome, nil
}

// claim runs one claim-accounts invocation and parses its results
func (m *Migrator) claim(ctx context.Context, b *pocketd.Builder, req Request, signer, inputPath, outputPath string, outcome *Outcome) (orchestrator.UnitOutcome, error) {
	var (
		args []string
		err  error
	)
	if req.Unsigned {
		args, err = b.ClaimAccountsUnsigned(req.TxParams, signer, inputPath, outputPath)
	} else {
		args, err = b.ClaimAccounts(req.TxParams, signer, inputPath, outputPath)
	}
	if err != nil {
		return orchestrator.UnitOutcome{}, err
	}

	res, err := m.runner.Run(ctx, pocketd.Invocation{Args: args, Timeout: m.timeout})
	if err != nil {
		return orchestrator.UnitOutcome{}, pocketd.ClassifyRunError(err)
	}

	if req.Unsigned {
		outcome.UnsignedTx = json.RawMessage(res.Stdout)
		if _, err := m.store.RecordArtifact(outcome.Session, "claim-accounts", "unsigned-tx", []byte(res.Stdout)); err != nil {
			return orchestrator.UnitOutcome{}, err
		}
		return orchestrator.UnitOutcome{}, nil
	}

	claim, err := readClaimResult(outputPath)
	if err != nil {
		return orchestrator.UnitOutcome{}, err
	}
	if claim.TxCode != 0 {
		return orchestrator.UnitOutcome{}, fmt.Errorf("claim transaction failed with code %d", claim.TxCode)
	}
	outcome.Claim = claim
	return orchestrator.UnitOutcome{TxHash: claim.TxHash}, nil
}

func writeInputFile(path string, keys []string) error {
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing claim input file: %w", err)
	}
	return nil
}

// readClaimResult parses pocketd's output file. Some builds write a bare
// mapping array instead of the wrapped object.
func readClaimResult(path string) (*ClaimResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading claim output file: %w", err)
	}

	var result ClaimResult
	if err := json.Unmarshal(data, &result); err == nil && (len(result.Mappings) > 0 || result.TxHash != "") {
		return &result, nil
	}

	var mappings []AccountMapping
	if err := json.Unmarshal(data, &mappings); err == nil && len(mappings) > 0 {
		return &ClaimResult{Mappings: mappings}, nil
	}
	return nil, fmt.Errorf("unrecognized claim output format in %s", path)
}
