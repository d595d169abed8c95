package keyring

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
	"github.com/pokt-foundation/shannon-orch/internal/pocketd"
)

// fakeRunner records invocations and replies from a scripted queue
type fakeRunner struct {
	invocations []pocketd.Invocation
	responses   []fakeResponse
}

type fakeResponse struct {
	result *pocketd.Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, inv pocketd.Invocation) (*pocketd.Result, error) {
	f.invocations = append(f.invocations, inv)
	if len(f.responses) == 0 {
		return &pocketd.Result{Stdout: "{}"}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	if resp.result == nil {
		resp.result = &pocketd.Result{}
	}
	return resp.result, resp.err
}

func (f *fakeRunner) queue(stdout string, err error) {
	f.responses = append(f.responses, fakeResponse{result: &pocketd.Result{Stdout: stdout}, err: err})
}

func testBuilder(t *testing.T) *pocketd.Builder {
	t.Helper()
	b, err := pocketd.NewBuilder("/keys/home", domain.BackendTest)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

const validHex = "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"

func TestEnsureIdentity_HexImport(t *testing.T) {
	f := &fakeRunner{}
	f.queue(`[]`, nil) // keys list: empty
	f.queue(`{"name":"owner","address":"pokt1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"}`, nil)

	m := NewManager(f, "alice")
	cred, err := domain.NewRawHexCredential("0x" + validHex)
	if err != nil {
		t.Fatal(err)
	}

	addr, err := m.EnsureIdentity(context.Background(), testBuilder(t), "owner", cred)
	if err != nil {
		t.Fatalf("EnsureIdentity() error = %v", err)
	}
	if !strings.HasPrefix(addr, "pokt1") {
		t.Errorf("address = %q", addr)
	}

	// The raw key must never appear in argv
	importInv := f.invocations[1]
	for _, arg := range importInv.Args {
		if strings.Contains(arg, validHex) {
			t.Fatal("hex key leaked into argv")
		}
	}

	// The temp file passed via --source-file must already be deleted
	for i, arg := range importInv.Args {
		if arg == "--source-file" {
			if _, err := os.Stat(importInv.Args[i+1]); !os.IsNotExist(err) {
				t.Errorf("temp key file %s still exists", importInv.Args[i+1])
			}
		}
	}
}

func TestEnsureIdentity_DeletesExistingFirst(t *testing.T) {
	f := &fakeRunner{}
	f.queue(`[{"name":"owner","address":"pokt1old"}]`, nil) // list: collision
	f.queue(``, nil)                                        // delete
	f.queue(`{"name":"owner","address":"pokt1new00000000000000000000000000000000000"}`, nil)

	m := NewManager(f, "alice")
	cred, _ := domain.NewRawHexCredential(validHex)

	addr, err := m.EnsureIdentity(context.Background(), testBuilder(t), "owner", cred)
	if err != nil {
		t.Fatalf("EnsureIdentity() error = %v (collision must not surface)", err)
	}
	if addr == "pokt1old" {
		t.Error("old identity address returned; delete-then-recreate expected")
	}

	deleteInv := f.invocations[1]
	joined := strings.Join(deleteInv.Args, " ")
	if !strings.Contains(joined, "keys delete owner") {
		t.Errorf("second invocation = %q, want keys delete", joined)
	}
}

func TestEnsureIdentity_MnemonicViaStdin(t *testing.T) {
	f := &fakeRunner{}
	f.queue(`[]`, nil)
	f.queue(`{"name":"owner","address":"pokt1abc0000000000000000000000000000000000"}`, nil)

	phrase := strings.Repeat("abandon ", 11) + "about"
	cred, err := domain.NewMnemonicCredential(phrase)
	if err != nil {
		t.Fatal(err)
	}

	m := NewManager(f, "alice")
	if _, err := m.EnsureIdentity(context.Background(), testBuilder(t), "owner", cred); err != nil {
		t.Fatalf("EnsureIdentity() error = %v", err)
	}

	recoverInv := f.invocations[1]
	if !strings.Contains(recoverInv.Stdin, "abandon") {
		t.Error("mnemonic not fed via stdin")
	}
	for _, arg := range recoverInv.Args {
		if strings.Contains(arg, "abandon") {
			t.Fatal("mnemonic leaked into argv")
		}
	}
	joined := strings.Join(recoverInv.Args, " ")
	if !strings.Contains(joined, "--recover") {
		t.Errorf("argv = %q, want --recover", joined)
	}
}

func TestEnsureIdentity_InvalidHexNoSpawn(t *testing.T) {
	f := &fakeRunner{}
	m := NewManager(f, "alice")

	cred := domain.Credential{Type: domain.CredentialRawHex, HexKey: "zz"}
	_, err := m.EnsureIdentity(context.Background(), testBuilder(t), "owner", cred)
	if !errors.Is(err, domain.ErrInvalidCredentialFormat) {
		t.Errorf("error = %v, want InvalidCredentialFormat", err)
	}
	if len(f.invocations) != 0 {
		t.Errorf("spawned %d processes, want 0", len(f.invocations))
	}
}

func TestEnsureIdentity_FallbackExisting(t *testing.T) {
	f := &fakeRunner{}
	f.queue(`[{"name":"alice","address":"pokt1alice000000000000000000000000000000000"}]`, nil)

	m := NewManager(f, "alice")
	addr, err := m.EnsureIdentity(context.Background(), testBuilder(t), "", domain.NoCredential())
	if err != nil {
		t.Fatalf("EnsureIdentity() error = %v", err)
	}
	if addr != "pokt1alice000000000000000000000000000000000" {
		t.Errorf("address = %q", addr)
	}
	if len(f.invocations) != 1 {
		t.Errorf("invocations = %d, want 1 (list only)", len(f.invocations))
	}
}

func TestEnsureIdentity_FallbackCreatedWhenMissing(t *testing.T) {
	f := &fakeRunner{}
	f.queue(`[]`, nil)
	f.queue(`{"name":"alice","address":"pokt1alice000000000000000000000000000000000","mnemonic":"w1 w2"}`, nil)

	m := NewManager(f, "alice")
	addr, err := m.EnsureIdentity(context.Background(), testBuilder(t), "", domain.NoCredential())
	if err != nil {
		t.Fatalf("EnsureIdentity() error = %v", err)
	}
	if addr == "" {
		t.Error("address empty after fallback creation")
	}

	addInv := f.invocations[1]
	joined := strings.Join(addInv.Args, " ")
	if !strings.Contains(joined, "keys add alice") {
		t.Errorf("argv = %q", joined)
	}
}

func TestEnsureIdentity_UnparseableOutput(t *testing.T) {
	f := &fakeRunner{}
	f.queue(`[]`, nil)
	f.queue(`not json at all`, nil)

	m := NewManager(f, "alice")
	cred, _ := domain.NewRawHexCredential(validHex)
	_, err := m.EnsureIdentity(context.Background(), testBuilder(t), "owner", cred)
	if !errors.Is(err, domain.ErrKeyringImportFailed) {
		t.Errorf("error = %v, want KeyringImportFailed", err)
	}
}

func TestGenerateIdentity_ReturnsMnemonic(t *testing.T) {
	f := &fakeRunner{}
	f.queue(`[]`, nil)
	f.queue(`{"name":"node-01","address":"pokt1node0000000000000000000000000000000000","mnemonic":"word1 word2 word3"}`, nil)

	m := NewManager(f, "alice")
	addr, mnemonic, err := m.GenerateIdentity(context.Background(), testBuilder(t), "node-01")
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}
	if addr == "" || mnemonic == "" {
		t.Errorf("addr = %q, mnemonic empty = %v", addr, mnemonic == "")
	}
}
