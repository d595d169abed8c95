package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
	"github.com/pokt-foundation/shannon-orch/internal/keyring"
	"github.com/pokt-foundation/shannon-orch/internal/orchestrator"
	"github.com/pokt-foundation/shannon-orch/internal/pocketd"
	"github.com/pokt-foundation/shannon-orch/internal/retry"
	"github.com/pokt-foundation/shannon-orch/internal/session"
)

const (
	keyA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	keyB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	keyC = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

// fakeBinary mimics pocketd: keys subcommands answer from a fixed keyring,
// claim-accounts writes the output file it was pointed at.
type fakeBinary struct {
	claimCalls  int
	claimArgs   []string
	claimErr    error
	claimStderr string
	output      ClaimResult
}

func (f *fakeBinary) Run(ctx context.Context, inv pocketd.Invocation) (*pocketd.Result, error) {
	if len(inv.Args) >= 2 && inv.Args[0] == "keys" {
		return &pocketd.Result{Stdout: `[{"name":"alice","address":"pokt1aliceaddr"}]`}, nil
	}

	f.claimCalls++
	f.claimArgs = inv.Args
	if f.claimErr != nil {
		return nil, f.claimErr
	}

	outputPath := flagValue(inv.Args, "--output-file")
	data, err := json.Marshal(f.output)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return nil, err
	}
	return &pocketd.Result{Stdout: `{"body":{}}`}, nil
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func txParams() pocketd.TxParams {
	return pocketd.TxParams{
		ChainID:       "pocket-beta",
		NodeURL:       "https://rpc.example",
		GasAdjustment: 1.5,
		GasPrices:     "1upokt",
	}
}

func newMigrator(t *testing.T, bin *fakeBinary) (*Migrator, *session.Store, *pocketd.Builder) {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	keys := keyring.NewManager(bin, "alice")
	retrier := retry.New(3, time.Millisecond)
	retrier.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })
	orch := orchestrator.New(store, keys, retrier, time.Second)
	orch.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })

	b, err := pocketd.NewBuilder(t.TempDir(), domain.BackendTest)
	if err != nil {
		t.Fatal(err)
	}
	return New(bin, store, orch, time.Minute), store, b
}

func TestRun_ThreeKeysProduceThreeMappings(t *testing.T) {
	bin := &fakeBinary{output: ClaimResult{
		Mappings: []AccountMapping{
			{MorseAddress: "AAAA", ShannonAddress: "pokt1aaa"},
			{MorseAddress: "BBBB", ShannonAddress: "pokt1bbb"},
			{MorseAddress: "CCCC", ShannonAddress: "pokt1ccc"},
		},
		TxHash: "DEADBEEF",
	}}
	m, _, b := newMigrator(t, bin)

	out, err := m.Run(context.Background(), b, Request{
		Network:            "beta",
		DestinationAddress: "pokt1destaddr",
		HexKeys:            []string{keyA, "0x" + keyB, keyC},
		TxParams:           txParams(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Report.Succeeded != 1 || out.Report.Failed != 0 {
		t.Errorf("report counters = %d/%d", out.Report.Succeeded, out.Report.Failed)
	}
	if len(out.Claim.Mappings) != 3 {
		t.Fatalf("mappings = %d, want 3", len(out.Claim.Mappings))
	}
	if out.Report.Units[0].TxHash != "DEADBEEF" {
		t.Errorf("tx hash = %q", out.Report.Units[0].TxHash)
	}
	if bin.claimCalls != 1 {
		t.Errorf("claim invocations = %d, want 1", bin.claimCalls)
	}
}

func TestRun_KeysNeverAppearInArgv(t *testing.T) {
	bin := &fakeBinary{output: ClaimResult{TxHash: "ABC"}}
	m, _, b := newMigrator(t, bin)

	_, err := m.Run(context.Background(), b, Request{
		Network:  "beta",
		HexKeys:  []string{keyA},
		TxParams: txParams(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, arg := range bin.claimArgs {
		if strings.Contains(arg, keyA) {
			t.Fatal("private key leaked into argv")
		}
	}
}

func TestRun_InputFileRemovedAfterBatch(t *testing.T) {
	bin := &fakeBinary{output: ClaimResult{TxHash: "ABC"}}
	m, store, b := newMigrator(t, bin)

	out, err := m.Run(context.Background(), b, Request{
		Network:  "beta",
		HexKeys:  []string{keyA},
		TxParams: txParams(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(store.MigrationInputPath(out.Session.ID)); !os.IsNotExist(err) {
		t.Error("input file with private keys must not survive the batch")
	}
}

func TestRun_MalformedKeyAbortsBeforeSpawn(t *testing.T) {
	bin := &fakeBinary{}
	m, _, b := newMigrator(t, bin)

	_, err := m.Run(context.Background(), b, Request{
		Network:  "beta",
		HexKeys:  []string{keyA, "not-hex"},
		TxParams: txParams(),
	})
	if !errors.Is(err, domain.ErrInvalidCredentialFormat) {
		t.Fatalf("err = %v, want ErrInvalidCredentialFormat", err)
	}
	if bin.claimCalls != 0 {
		t.Errorf("claim must not run, got %d calls", bin.claimCalls)
	}
}

func TestRun_SequenceMismatchRetried(t *testing.T) {
	bin := &fakeBinary{claimErr: &pocketd.ExitError{Result: &pocketd.Result{
		ExitCode: 1,
		Stderr:   "rpc error: account sequence mismatch, expected 5, got 4",
	}}}
	m, _, b := newMigrator(t, bin)

	out, err := m.Run(context.Background(), b, Request{
		Network:  "beta",
		HexKeys:  []string{keyA},
		TxParams: txParams(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if bin.claimCalls != 3 {
		t.Errorf("claim calls = %d, want 3 (retried to exhaustion)", bin.claimCalls)
	}
	unit := out.Report.Units[0]
	if unit.Status != domain.UnitFailed || unit.Attempts != 3 {
		t.Errorf("unit = %+v", unit)
	}
}

func TestRun_AlreadyClaimedSurfacesDetail(t *testing.T) {
	bin := &fakeBinary{claimErr: &pocketd.ExitError{Result: &pocketd.Result{
		ExitCode: 1,
		Stderr:   `morse address "AABB00112233445566778899AABB001122334455" already claimed at height 1234 by pokt1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq`,
	}}}
	m, _, b := newMigrator(t, bin)

	out, err := m.Run(context.Background(), b, Request{
		Network:  "beta",
		HexKeys:  []string{keyA},
		TxParams: txParams(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if bin.claimCalls != 1 {
		t.Errorf("already-claimed is not retryable, got %d calls", bin.claimCalls)
	}
	unit := out.Report.Units[0]
	if unit.Status != domain.UnitFailed {
		t.Fatalf("unit status = %q", unit.Status)
	}
	if !strings.Contains(unit.Error, "1234") {
		t.Errorf("claim height missing from unit error: %q", unit.Error)
	}
}

func TestRun_UnsignedModeCapturesTransaction(t *testing.T) {
	bin := &fakeBinary{output: ClaimResult{}}
	m, _, b := newMigrator(t, bin)

	out, err := m.Run(context.Background(), b, Request{
		Network:  "beta",
		HexKeys:  []string{keyA},
		TxParams: txParams(),
		Unsigned: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(strings.Join(bin.claimArgs, " "), "--generate-only") {
		t.Error("expected --generate-only in argv")
	}
	if len(out.UnsignedTx) == 0 {
		t.Error("unsigned transaction not captured")
	}
	if out.Report.Succeeded != 1 {
		t.Errorf("report = %+v", out.Report)
	}
}

func TestReadClaimResult_BareMappingArray(t *testing.T) {
	path := t.TempDir() + "/out.json"
	if err := os.WriteFile(path, []byte(`[{"morse_address":"AA","shannon_address":"pokt1aa"}]`), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := readClaimResult(path)
	if err != nil {
		t.Fatalf("readClaimResult: %v", err)
	}
	if len(result.Mappings) != 1 || result.Mappings[0].ShannonAddress != "pokt1aa" {
		t.Errorf("result = %+v", result)
	}
}
