package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// CredentialType tags the credential union
type CredentialType int

const (
	// CredentialNone means "use the configured fallback identity"
	CredentialNone CredentialType = iota
	CredentialRawHex
	CredentialMnemonic
	CredentialWalletJSON
)

// Credential is a tagged union of the signing material a caller may supply.
// It is resolved once at the request boundary; the core never sniffs strings.
type Credential struct {
	Type     CredentialType
	HexKey   string // CredentialRawHex: cleaned hex, no 0x prefix
	Mnemonic string // CredentialMnemonic
	Address  string // CredentialWalletJSON: address extracted from the wallet
}

// NoCredential returns the fallback-identity credential
func NoCredential() Credential {
	return Credential{Type: CredentialNone}
}

// NewRawHexCredential validates and normalizes a hex private key.
// Accepts 64 or 128 hex chars, with or without a 0x prefix.
func NewRawHexCredential(key string) (Credential, error) {
	cleaned := strings.TrimSpace(key)
	cleaned = strings.TrimPrefix(cleaned, "0x")
	cleaned = strings.TrimPrefix(cleaned, "0X")

	if len(cleaned) != 64 && len(cleaned) != 128 {
		return Credential{}, fmt.Errorf("%w: hex key must be 64 or 128 chars, got %d", ErrInvalidCredentialFormat, len(cleaned))
	}
	if _, err := hex.DecodeString(cleaned); err != nil {
		return Credential{}, fmt.Errorf("%w: not valid hexadecimal", ErrInvalidCredentialFormat)
	}
	return Credential{Type: CredentialRawHex, HexKey: cleaned}, nil
}

// NewMnemonicCredential validates a recovery phrase. Word count must be
// within [12, 24]; the phrase content itself is pocketd's to judge.
func NewMnemonicCredential(phrase string) (Credential, error) {
	words := strings.Fields(phrase)
	if len(words) < 12 || len(words) > 24 {
		return Credential{}, fmt.Errorf("%w: mnemonic has %d words, want 12-24", ErrInvalidCredentialFormat, len(words))
	}
	return Credential{Type: CredentialMnemonic, Mnemonic: strings.Join(words, " ")}, nil
}

// NewWalletCredential builds a credential from an already-parsed wallet blob
func NewWalletCredential(privHex, address string) (Credential, error) {
	cred, err := NewRawHexCredential(privHex)
	if err != nil {
		return Credential{}, err
	}
	cred.Type = CredentialWalletJSON
	cred.Address = address
	return cred, nil
}

// Redacted returns a loggable description without any secret material
func (c Credential) Redacted() string {
	switch c.Type {
	case CredentialRawHex:
		return "raw-hex-key"
	case CredentialMnemonic:
		return fmt.Sprintf("mnemonic(%d words)", len(strings.Fields(c.Mnemonic)))
	case CredentialWalletJSON:
		return "wallet-json"
	default:
		return "fallback"
	}
}
