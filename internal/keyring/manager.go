// Package keyring ensures signing identities exist in pocketd's keyring.
// The keyring is external mutable state: nothing here caches existence
// between calls, and name collisions are resolved by delete-then-recreate.
package keyring

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
	"github.com/pokt-foundation/shannon-orch/internal/pocketd"
)

// Manager drives pocketd's keys subcommands
type Manager struct {
	runner   pocketd.Runner
	fallback string
	timeout  time.Duration
}

// NewManager creates a Manager using the given runner. fallback is the
// well-known last-resort identity name (conventionally "alice").
func NewManager(runner pocketd.Runner, fallback string) *Manager {
	return &Manager{
		runner:   runner,
		fallback: fallback,
		timeout:  pocketd.DefaultTimeout,
	}
}

// FallbackName returns the configured fallback identity name
func (m *Manager) FallbackName() string { return m.fallback }

// KeyInfo is the subset of pocketd's keys JSON output we consume
type KeyInfo struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Mnemonic string `json:"mnemonic,omitempty"`
}

// EnsureIdentity makes sure an identity with the given name exists in the
// builder's (home, backend) keyring and returns its address.
//
// Credential handling:
//   - raw hex / wallet: written to a scoped temp file, imported, temp file
//     removed on every path
//   - mnemonic: fed via stdin, never argv
//   - none: the fallback identity is verified (and created if missing)
//
// Callers must not assume the identity persists across calls with the same
// name; a pre-existing entry is deleted first.
func (m *Manager) EnsureIdentity(ctx context.Context, b *pocketd.Builder, name string, cred domain.Credential) (string, error) {
	if cred.Type == domain.CredentialNone {
		return m.ensureFallback(ctx, b)
	}

	// Re-validate before any process is spawned; the credential may have
	// been constructed directly rather than through the boundary helpers.
	if err := revalidate(cred); err != nil {
		return "", err
	}

	if err := m.deleteIfExists(ctx, b, name); err != nil {
		return "", err
	}

	switch cred.Type {
	case domain.CredentialRawHex, domain.CredentialWalletJSON:
		return m.importHex(ctx, b, name, cred.HexKey)
	case domain.CredentialMnemonic:
		return m.recoverMnemonic(ctx, b, name, cred.Mnemonic)
	default:
		return "", fmt.Errorf("%w: unknown credential type %d", domain.ErrInvalidCredentialFormat, cred.Type)
	}
}

func revalidate(cred domain.Credential) error {
	switch cred.Type {
	case domain.CredentialRawHex, domain.CredentialWalletJSON:
		_, err := domain.NewRawHexCredential(cred.HexKey)
		return err
	case domain.CredentialMnemonic:
		_, err := domain.NewMnemonicCredential(cred.Mnemonic)
		return err
	}
	return nil
}

// ListIdentities returns the identities present in the keyring target
func (m *Manager) ListIdentities(ctx context.Context, b *pocketd.Builder) ([]KeyInfo, error) {
	res, err := m.runner.Run(ctx, pocketd.Invocation{
		Args:    b.KeysList(),
		Timeout: m.timeout,
	})
	if err != nil {
		return nil, pocketd.ClassifyRunError(err)
	}

	out := strings.TrimSpace(res.Stdout)
	if out == "" || out == "[]" || out == "null" {
		return nil, nil
	}

	var keys []KeyInfo
	if err := json.Unmarshal([]byte(out), &keys); err != nil {
		return nil, fmt.Errorf("%w: parsing keys list: %v", domain.ErrKeyringImportFailed, err)
	}
	return keys, nil
}

func (m *Manager) deleteIfExists(ctx context.Context, b *pocketd.Builder, name string) error {
	keys, err := m.ListIdentities(ctx, b)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.Name != name {
			continue
		}
		args, err := b.KeysDelete(name)
		if err != nil {
			return err
		}
		if _, err := m.runner.Run(ctx, pocketd.Invocation{Args: args, Timeout: m.timeout}); err != nil {
			return fmt.Errorf("deleting stale identity %q: %w", name, pocketd.ClassifyRunError(err))
		}
		log.Printf("[keyring] deleted stale identity %q before re-import", name)
		return nil
	}
	return nil
}

// importHex writes the key to a short-lived temp file and imports from it so
// the secret never appears in argv or process listings. The temp file is
// removed on success, failure, and panic alike.
func (m *Manager) importHex(ctx context.Context, b *pocketd.Builder, name, hexKey string) (addr string, err error) {
	tmp, err := os.CreateTemp("", "shannon-orch-key-*")
	if err != nil {
		return "", fmt.Errorf("creating key temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(hexKey); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing key temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing key temp file: %w", err)
	}

	args, err := b.KeysImportHexFile(name, tmpPath)
	if err != nil {
		return "", err
	}

	res, err := m.runner.Run(ctx, pocketd.Invocation{Args: args, Timeout: m.timeout})
	if err != nil {
		return "", fmt.Errorf("importing key %q: %w", name, pocketd.ClassifyRunError(err))
	}
	return parseAddress(res)
}

// recoverMnemonic feeds the phrase via stdin to pocketd's recovery add
func (m *Manager) recoverMnemonic(ctx context.Context, b *pocketd.Builder, name, mnemonic string) (string, error) {
	args, err := b.KeysRecover(name)
	if err != nil {
		return "", err
	}

	res, err := m.runner.Run(ctx, pocketd.Invocation{
		Args:    args,
		Stdin:   mnemonic + "\n",
		Timeout: m.timeout,
	})
	if err != nil {
		return "", fmt.Errorf("recovering key %q: %w", name, pocketd.ClassifyRunError(err))
	}
	return parseAddress(res)
}

// ensureFallback verifies the fallback identity exists, creating it when
// missing. Existence is re-checked on every call: the keyring can change
// between operations.
func (m *Manager) ensureFallback(ctx context.Context, b *pocketd.Builder) (string, error) {
	keys, err := m.ListIdentities(ctx, b)
	if err != nil {
		return "", err
	}
	for _, k := range keys {
		if k.Name == m.fallback {
			return k.Address, nil
		}
	}

	args, err := b.KeysAdd(m.fallback)
	if err != nil {
		return "", err
	}
	res, err := m.runner.Run(ctx, pocketd.Invocation{Args: args, Timeout: m.timeout})
	if err != nil {
		return "", fmt.Errorf("creating fallback identity %q: %w", m.fallback, pocketd.ClassifyRunError(err))
	}
	log.Printf("[keyring] created fallback identity %q", m.fallback)
	return parseAddress(res)
}

// GenerateIdentity creates a brand-new identity and returns its address and
// mnemonic. Used by the provisioning flow; the mnemonic is secret and must
// only be persisted to the session's wallet_mnemonics.json.
func (m *Manager) GenerateIdentity(ctx context.Context, b *pocketd.Builder, name string) (address, mnemonic string, err error) {
	if err := m.deleteIfExists(ctx, b, name); err != nil {
		return "", "", err
	}

	args, err := b.KeysAdd(name)
	if err != nil {
		return "", "", err
	}
	res, err := m.runner.Run(ctx, pocketd.Invocation{Args: args, Timeout: m.timeout})
	if err != nil {
		return "", "", fmt.Errorf("generating identity %q: %w", name, pocketd.ClassifyRunError(err))
	}

	info, err := parseKeyInfo(res)
	if err != nil {
		return "", "", err
	}
	if info.Mnemonic == "" {
		return "", "", fmt.Errorf("%w: no mnemonic in keys add output", domain.ErrKeyringImportFailed)
	}
	return info.Address, info.Mnemonic, nil
}

func parseAddress(res *pocketd.Result) (string, error) {
	info, err := parseKeyInfo(res)
	if err != nil {
		return "", err
	}
	return info.Address, nil
}

// parseKeyInfo extracts the key record from pocketd's JSON output. Some
// pocketd builds print the JSON to stderr, so both streams are tried.
func parseKeyInfo(res *pocketd.Result) (*KeyInfo, error) {
	for _, out := range []string{res.Stdout, res.Stderr} {
		out = strings.TrimSpace(out)
		if out == "" {
			continue
		}
		// The record may be an object or a single-element array
		start := strings.IndexAny(out, "[{")
		if start < 0 {
			continue
		}
		out = out[start:]

		if strings.HasPrefix(out, "[") {
			var keys []KeyInfo
			if err := json.Unmarshal([]byte(out), &keys); err == nil && len(keys) > 0 && keys[0].Address != "" {
				return &keys[0], nil
			}
			continue
		}
		var info KeyInfo
		if err := json.Unmarshal([]byte(out), &info); err == nil && info.Address != "" {
			return &info, nil
		}
	}
	return nil, fmt.Errorf("%w: no address in pocketd output", domain.ErrKeyringImportFailed)
}
