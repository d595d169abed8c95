package staking

import (
	"context"
	"encoding/json"
	"fmt"
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
	"gopkg.in/yaml.v3"
)

const testMnemonic = "abandon ability able about above absent absorb abstract absurd abuse access accident"

// fakeBinary mimics pocketd's keys and stake subcommands. Each keys add hands
// out a distinct address and mnemonic.
type fakeBinary struct {
	added      int
	stakeCalls int
	stakeArgs  [][]string
	stakeFail  map[int]string // call number -> raw_log
}

func (f *fakeBinary) Run(ctx context.Context, inv pocketd.Invocation) (*pocketd.Result, error) {
	switch {
	case inv.Args[0] == "keys" && inv.Args[1] == "list":
		return &pocketd.Result{Stdout: `[{"name":"alice","address":"pokt1aliceaddr"}]`}, nil
	case inv.Args[0] == "keys" && inv.Args[1] == "add":
		f.added++
		out, _ := json.Marshal(map[string]string{
			"name":     inv.Args[2],
			"address":  fmt.Sprintf("pokt1wallet%daddr", f.added),
			"mnemonic": testMnemonic,
		})
		return &pocketd.Result{Stdout: string(out)}, nil
	case inv.Args[0] == "tx":
		f.stakeCalls++
		f.stakeArgs = append(f.stakeArgs, inv.Args)
		resp := broadcastResponse{TxHash: fmt.Sprintf("HASH%d", f.stakeCalls)}
		if rawLog, ok := f.stakeFail[f.stakeCalls]; ok {
			resp = broadcastResponse{Code: 5, RawLog: rawLog}
		}
		out, _ := json.Marshal(resp)
		return &pocketd.Result{Stdout: string(out)}, nil
	}
	return nil, fmt.Errorf("unexpected invocation: %v", inv.Args)
}

func newProvisioner(t *testing.T, bin *fakeBinary) (*Provisioner, *session.Store, *pocketd.Builder) {
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
	return New(bin, keys, store, orch, domain.BackendTest, time.Minute), store, b
}

func twoNodes() []NodeSpec {
	return []NodeSpec{
		{Name: "node1", ServiceID: "anvil", PublicURL: "https://node1.example", StakeAmount: "60005000000upokt"},
		{Name: "node2", ServiceID: "anvil", PublicURL: "https://node2.example", StakeAmount: "60005000000upokt"},
	}
}

func txParams() pocketd.TxParams {
	return pocketd.TxParams{ChainID: "pocket-beta", GasAdjustment: 1.5, GasPrices: "1upokt"}
}

func TestProvision_WritesDescriptorsAndMnemonics(t *testing.T) {
	bin := &fakeBinary{}
	p, store, _ := newProvisioner(t, bin)

	sess, wallets, err := p.Provision(context.Background(), Request{
		Network:      "beta",
		OwnerAddress: "pokt1owneraddr",
		Nodes:        twoNodes(),
		TxParams:     txParams(),
	})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if len(wallets) != 2 {
		t.Fatalf("wallets = %d, want 2", len(wallets))
	}

	// Stake descriptors carry owner and the freshly generated operator
	data, err := os.ReadFile(store.ArtifactPath(sess, "node1", "stake"))
	if err != nil {
		t.Fatalf("reading descriptor: %v", err)
	}
	var cfg stakeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parsing descriptor: %v", err)
	}
	if cfg.OwnerAddress != "pokt1owneraddr" {
		t.Errorf("owner = %q", cfg.OwnerAddress)
	}
	if cfg.OperatorAddress != wallets[0].Address {
		t.Errorf("operator = %q, want %q", cfg.OperatorAddress, wallets[0].Address)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].ServiceID != "anvil" {
		t.Errorf("services = %+v", cfg.Services)
	}
	if cfg.Services[0].Endpoints[0].RPCType != "JSON_RPC" {
		t.Errorf("rpc type default not applied: %+v", cfg.Services[0].Endpoints)
	}
	if strings.Contains(string(data), testMnemonic) {
		t.Fatal("mnemonic leaked into stake descriptor")
	}

	// Mnemonics live only in wallet_mnemonics.json, mode 0600
	info, err := os.Stat(store.MnemonicsPath(sess))
	if err != nil {
		t.Fatalf("mnemonics file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mnemonics file mode = %v, want 0600", info.Mode().Perm())
	}
	var records []WalletRecord
	raw, _ := os.ReadFile(store.MnemonicsPath(sess))
	if err := json.Unmarshal(raw, &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].Mnemonic != testMnemonic {
		t.Errorf("records = %+v", records)
	}
}

func TestRun_StakesEveryNode(t *testing.T) {
	bin := &fakeBinary{}
	p, _, b := newProvisioner(t, bin)

	out, err := p.Run(context.Background(), b, Request{
		Network:      "beta",
		OwnerAddress: "pokt1owneraddr",
		Nodes:        twoNodes(),
		TxParams:     txParams(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Report.Succeeded != 2 || out.Report.Failed != 0 {
		t.Errorf("counters = %d/%d", out.Report.Succeeded, out.Report.Failed)
	}
	if bin.stakeCalls != 2 {
		t.Errorf("stake invocations = %d, want 2", bin.stakeCalls)
	}
	for _, res := range out.Report.Units {
		if !strings.HasPrefix(res.TxHash, "HASH") {
			t.Errorf("unit %q tx hash = %q", res.Name, res.TxHash)
		}
	}
	// Each stake invocation points at that unit's descriptor
	if cfgPath := flagValue(bin.stakeArgs[0], "--config"); !strings.HasSuffix(cfgPath, "stake_node1.yaml") {
		t.Errorf("first stake config = %q", cfgPath)
	}
}

func TestRun_FailedStakeRecordedNotFatal(t *testing.T) {
	bin := &fakeBinary{stakeFail: map[int]string{1: "insufficient funds: 100upokt"}}
	p, _, b := newProvisioner(t, bin)

	out, err := p.Run(context.Background(), b, Request{
		Network:      "beta",
		OwnerAddress: "pokt1owneraddr",
		Nodes:        twoNodes(),
		TxParams:     txParams(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Report.Succeeded != 1 || out.Report.Failed != 1 {
		t.Errorf("counters = %d/%d, want 1/1", out.Report.Succeeded, out.Report.Failed)
	}
	failed := out.Report.Units[0]
	if failed.Status != domain.UnitFailed || !strings.Contains(failed.Error, "insufficient funds") {
		t.Errorf("failed unit = %+v", failed)
	}
}

func TestProvision_ValidationRejectsBadRequests(t *testing.T) {
	bin := &fakeBinary{}
	p, _, _ := newProvisioner(t, bin)

	cases := []struct {
		name string
		req  Request
	}{
		{"no nodes", Request{OwnerAddress: "pokt1x"}},
		{"no owner", Request{Nodes: twoNodes()}},
		{"duplicate names", Request{OwnerAddress: "pokt1x", Nodes: []NodeSpec{
			{Name: "n", ServiceID: "s", StakeAmount: "1upokt"},
			{Name: "n", ServiceID: "s", StakeAmount: "1upokt"},
		}}},
		{"missing stake amount", Request{OwnerAddress: "pokt1x", Nodes: []NodeSpec{
			{Name: "n", ServiceID: "s"},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := p.Provision(context.Background(), tc.req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if bin.added != 0 {
		t.Errorf("no wallet may be generated for invalid requests, got %d", bin.added)
	}
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
