// Package pocketd builds and executes invocations of the external pocketd
// binary. Commands are always discrete argv vectors; secret material is never
// placed in argv (hex keys go through short-lived temp files, mnemonics
// through stdin).
package pocketd

import (
	"fmt"
	"regexp"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
)

var (
	identityNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)
	gasPricesRegex    = regexp.MustCompile(`^\d+(\.\d+)?[a-z]+$`)
)

// TxParams carries the network and gas settings for transaction commands.
// ChainID and NodeURL come from the config allow-list, never raw input.
type TxParams struct {
	ChainID       string
	NodeURL       string
	GasAdjustment float64
	GasPrices     string
}

// Validate checks the transaction parameters against builder constraints
func (p TxParams) Validate() error {
	if p.ChainID == "" {
		return fmt.Errorf("chain id is required")
	}
	if p.GasAdjustment <= 0 || p.GasAdjustment > 10 {
		return fmt.Errorf("gas adjustment %v out of range (0, 10]", p.GasAdjustment)
	}
	if p.GasPrices != "" && !gasPricesRegex.MatchString(p.GasPrices) {
		return fmt.Errorf("malformed gas prices %q", p.GasPrices)
	}
	return nil
}

// Builder constructs argv vectors for one (home, backend) keyring target.
// Every command passes --home and --keyring-backend explicitly; nothing
// relies on pocketd's ambient defaults.
type Builder struct {
	home    string
	backend domain.KeyringBackend
}

// NewBuilder creates a Builder for the given keyring target
func NewBuilder(home string, backend domain.KeyringBackend) (*Builder, error) {
	if home == "" {
		return nil, fmt.Errorf("keyring home is required")
	}
	if !backend.Valid() {
		return nil, fmt.Errorf("unknown keyring backend %q", backend)
	}
	return &Builder{home: home, backend: backend}, nil
}

// Home returns the keyring home directory this builder targets
func (b *Builder) Home() string { return b.home }

// Backend returns the keyring backend this builder targets
func (b *Builder) Backend() domain.KeyringBackend { return domain.KeyringBackend(b.backend) }

func (b *Builder) keyringArgs() []string {
	return []string{"--home", b.home, "--keyring-backend", string(b.backend)}
}

func (b *Builder) txArgs(p TxParams, signer string) []string {
	args := []string{
		"--from", signer,
		"--chain-id", p.ChainID,
		"--gas", "auto",
		"--gas-adjustment", fmt.Sprintf("%g", p.GasAdjustment),
		"--yes",
		"--output", "json",
	}
	if p.GasPrices != "" {
		args = append(args, "--gas-prices", p.GasPrices)
	}
	if p.NodeURL != "" {
		args = append(args, "--node", p.NodeURL)
	}
	return append(args, b.keyringArgs()...)
}

func validateName(name string) error {
	if !identityNameRegex.MatchString(name) {
		return fmt.Errorf("invalid identity name %q", name)
	}
	return nil
}

// KeysList builds the identity listing command
func (b *Builder) KeysList() []string {
	return append([]string{"keys", "list", "--output", "json"}, b.keyringArgs()...)
}

// KeysDelete builds the identity deletion command
func (b *Builder) KeysDelete(name string) ([]string, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return append([]string{"keys", "delete", name, "--yes"}, b.keyringArgs()...), nil
}

// KeysAdd builds the command that generates a fresh identity. Output is JSON
// and includes the new mnemonic, so callers must treat the result as secret.
func (b *Builder) KeysAdd(name string) ([]string, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return append([]string{"keys", "add", name, "--output", "json"}, b.keyringArgs()...), nil
}

// KeysRecover builds the mnemonic recovery command. The phrase itself is fed
// via stdin by the caller, never through argv.
func (b *Builder) KeysRecover(name string) ([]string, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return append([]string{"keys", "add", name, "--recover", "--output", "json"}, b.keyringArgs()...), nil
}

// KeysImportHexFile builds the import command reading a hex key from a file.
// keyFile must be a path the caller controls (a scoped temp file).
func (b *Builder) KeysImportHexFile(name, keyFile string) ([]string, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if keyFile == "" {
		return nil, fmt.Errorf("key file path is required")
	}
	return append([]string{"keys", "import-hex", name, "--source-file", keyFile, "--output", "json"}, b.keyringArgs()...), nil
}

// KeysShow builds the command that prints one identity as JSON
func (b *Builder) KeysShow(name string) ([]string, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return append([]string{"keys", "show", name, "--output", "json"}, b.keyringArgs()...), nil
}

// ClaimAccounts builds the batch migration broadcast command. inputFile is an
// array of cleaned hex keys; pocketd writes per-account results to outputFile.
func (b *Builder) ClaimAccounts(p TxParams, signer, inputFile, outputFile string) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := validateName(signer); err != nil {
		return nil, err
	}
	if inputFile == "" || outputFile == "" {
		return nil, fmt.Errorf("input and output file paths are required")
	}
	args := []string{
		"tx", "migration", "claim-accounts",
		"--input-file", inputFile,
		"--output-file", outputFile,
	}
	return append(args, b.txArgs(p, signer)...), nil
}

// ClaimAccountsUnsigned is the generate-only variant for client-side signing
func (b *Builder) ClaimAccountsUnsigned(p TxParams, signer, inputFile, outputFile string) ([]string, error) {
	args, err := b.ClaimAccounts(p, signer, inputFile, outputFile)
	if err != nil {
		return nil, err
	}
	return append(args, "--generate-only"), nil
}

// StakeSupplier builds the supplier staking broadcast command taking a YAML
// stake descriptor.
func (b *Builder) StakeSupplier(p TxParams, signer, configFile string) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := validateName(signer); err != nil {
		return nil, err
	}
	if configFile == "" {
		return nil, fmt.Errorf("stake config path is required")
	}
	args := []string{
		"tx", "supplier", "stake-supplier",
		"--config", configFile,
	}
	return append(args, b.txArgs(p, signer)...), nil
}

// Version builds the availability-probe command
func (b *Builder) Version() []string {
	return []string{"version"}
}
