// Package staking provisions supplier nodes: it generates one wallet per
// node into a session-scoped keyring home, renders the stake descriptor for
// each, and broadcasts the stake transactions one at a time.
package staking

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
	"github.com/pokt-foundation/shannon-orch/internal/keyring"
	"github.com/pokt-foundation/shannon-orch/internal/orchestrator"
	"github.com/pokt-foundation/shannon-orch/internal/pocketd"
	"github.com/pokt-foundation/shannon-orch/internal/session"
	"gopkg.in/yaml.v3"
)

// NodeSpec describes one supplier node to provision and stake
type NodeSpec struct {
	Name        string `json:"name"`
	ServiceID   string `json:"service_id"`
	PublicURL   string `json:"public_url"`
	RPCType     string `json:"rpc_type,omitempty"`
	StakeAmount string `json:"stake_amount"`
}

// Request is a shape-validated provisioning request
type Request struct {
	SessionID    string
	Network      string
	OwnerAddress string
	Nodes        []NodeSpec
	Identity     orchestrator.IdentitySpec
	TxParams     pocketd.TxParams
}

// WalletRecord is one entry of wallet_mnemonics.json. The file is the sole
// sanctioned at-rest location for generated mnemonics; callers download and
// clear it.
type WalletRecord struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Mnemonic string `json:"mnemonic"`
}

// WalletInfo is the secret-free view returned to callers
type WalletInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Outcome bundles the provisioning results with the stake batch report
type Outcome struct {
	Session *domain.Session     `json:"session"`
	Wallets []WalletInfo        `json:"wallets"`
	Report  *domain.BatchReport `json:"report"`
}

// endpointConfig and friends mirror the YAML shape pocketd's stake-supplier
// command consumes.
type endpointConfig struct {
	PubliclyExposedURL string `yaml:"publicly_exposed_url"`
	RPCType            string `yaml:"rpc_type"`
}

type serviceConfig struct {
	ServiceID string           `yaml:"service_id"`
	Endpoints []endpointConfig `yaml:"endpoints"`
}

type stakeConfig struct {
	OwnerAddress    string          `yaml:"owner_address"`
	OperatorAddress string          `yaml:"operator_address"`
	StakeAmount     string          `yaml:"stake_amount"`
	Services        []serviceConfig `yaml:"services"`
}

// broadcastResponse is the slice of cosmos tx output we consume
type broadcastResponse struct {
	TxHash string `json:"txhash"`
	Code   int    `json:"code"`
	RawLog string `json:"raw_log"`
}

// Provisioner drives staking sessions
type Provisioner struct {
	runner  pocketd.Runner
	keys    *keyring.Manager
	store   *session.Store
	orch    *orchestrator.Orchestrator
	backend domain.KeyringBackend
	timeout time.Duration
}

// New creates a Provisioner. backend selects the keyring mode for the
// per-node wallet homes; timeout bounds each broadcast.
func New(runner pocketd.Runner, keys *keyring.Manager, store *session.Store, orch *orchestrator.Orchestrator, backend domain.KeyringBackend, timeout time.Duration) *Provisioner {
	if timeout <= 0 {
		timeout = 2 * pocketd.DefaultTimeout
	}
	return &Provisioner{
		runner:  runner,
		keys:    keys,
		store:   store,
		orch:    orch,
		backend: backend,
		timeout: timeout,
	}
}

func validateRequest(req Request) error {
	if len(req.Nodes) == 0 {
		return fmt.Errorf("no nodes to provision")
	}
	if req.OwnerAddress == "" {
		return fmt.Errorf("owner address is required")
	}
	seen := make(map[string]bool, len(req.Nodes))
	for _, n := range req.Nodes {
		if n.Name == "" || n.ServiceID == "" || n.StakeAmount == "" {
			return fmt.Errorf("node %q: name, service id and stake amount are required", n.Name)
		}
		if seen[n.Name] {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		seen[n.Name] = true
	}
	return nil
}

// Provision generates wallets and stake descriptors for every node. It is the
// first half of Run; no transaction is broadcast here.
func (p *Provisioner) Provision(ctx context.Context, req Request) (*domain.Session, []WalletInfo, error) {
	if err := validateRequest(req); err != nil {
		return nil, nil, err
	}

	params := domain.SessionParams{
		Network:      req.Network,
		ChainID:      req.TxParams.ChainID,
		OwnerAddress: req.OwnerAddress,
		UnitCount:    len(req.Nodes),
	}
	var (
		sess *domain.Session
		err  error
	)
	if req.SessionID != "" {
		sess, err = p.store.EnsureSession(req.SessionID, domain.KindStaking, params)
	} else {
		sess, err = p.store.CreateSession(domain.KindStaking, params)
	}
	if err != nil {
		return nil, nil, err
	}

	records := make([]WalletRecord, 0, len(req.Nodes))
	infos := make([]WalletInfo, 0, len(req.Nodes))
	for _, node := range req.Nodes {
		home := p.store.WalletHomeDir(sess, node.Name)
		if err := os.MkdirAll(home, 0700); err != nil {
			return nil, nil, fmt.Errorf("creating wallet home for %q: %w", node.Name, err)
		}
		b, err := pocketd.NewBuilder(home, p.backend)
		if err != nil {
			return nil, nil, err
		}

		address, mnemonic, err := p.keys.GenerateIdentity(ctx, b, node.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("provisioning wallet for %q: %w", node.Name, err)
		}
		records = append(records, WalletRecord{Name: node.Name, Address: address, Mnemonic: mnemonic})
		infos = append(infos, WalletInfo{Name: node.Name, Address: address})

		descriptor, err := renderStakeConfig(req.OwnerAddress, address, node)
		if err != nil {
			return nil, nil, err
		}
		if _, err := p.store.RecordArtifact(sess, node.Name, "stake", descriptor); err != nil {
			return nil, nil, err
		}
		log.Printf("[staking] session %s: provisioned wallet %q", sess.ID, node.Name)
	}

	if err := writeMnemonics(p.store.MnemonicsPath(sess), records); err != nil {
		return nil, nil, err
	}
	return sess, infos, nil
}

// Run provisions every node and then broadcasts the stake transactions
func (p *Provisioner) Run(ctx context.Context, b *pocketd.Builder, req Request) (*Outcome, error) {
	if err := req.TxParams.Validate(); err != nil {
		return nil, err
	}
	sess, wallets, err := p.Provision(ctx, req)
	if err != nil {
		return nil, err
	}

	report, err := p.Stake(ctx, b, sess, req)
	if err != nil {
		return nil, err
	}
	return &Outcome{Session: sess, Wallets: wallets, Report: report}, nil
}

// Stake broadcasts the stake transactions for an already-provisioned session.
// Safe to call separately from Provision, for callers that accept a request
// and broadcast in the background.
func (p *Provisioner) Stake(ctx context.Context, b *pocketd.Builder, sess *domain.Session, req Request) (*domain.BatchReport, error) {
	if err := req.TxParams.Validate(); err != nil {
		return nil, err
	}
	return p.orch.RunBatch(ctx, sess, b, req.Identity,
		func(ctx context.Context, unit domain.WorkUnit, signer string) (orchestrator.UnitOutcome, error) {
			return p.stakeOne(ctx, b, req.TxParams, signer, unit)
		})
}

// stakeOne broadcasts one supplier stake transaction
func (p *Provisioner) stakeOne(ctx context.Context, b *pocketd.Builder, params pocketd.TxParams, signer string, unit domain.WorkUnit) (orchestrator.UnitOutcome, error) {
	args, err := b.StakeSupplier(params, signer, unit.InputRef)
	if err != nil {
		return orchestrator.UnitOutcome{}, err
	}

	res, err := p.runner.Run(ctx, pocketd.Invocation{Args: args, Timeout: p.timeout})
	if err != nil {
		return orchestrator.UnitOutcome{}, pocketd.ClassifyRunError(err)
	}

	var resp broadcastResponse
	if err := json.Unmarshal([]byte(res.Stdout), &resp); err != nil {
		return orchestrator.UnitOutcome{}, fmt.Errorf("parsing broadcast response: %w", err)
	}
	if resp.Code != 0 {
		if classified := pocketd.ClassifyStderr(resp.RawLog); classified != nil {
			return orchestrator.UnitOutcome{}, classified
		}
		return orchestrator.UnitOutcome{}, fmt.Errorf("stake transaction failed with code %d: %s", resp.Code, resp.RawLog)
	}
	return orchestrator.UnitOutcome{TxHash: resp.TxHash}, nil
}

func renderStakeConfig(owner, operator string, node NodeSpec) ([]byte, error) {
	rpcType := node.RPCType
	if rpcType == "" {
		rpcType = "JSON_RPC"
	}
	cfg := stakeConfig{
		OwnerAddress:    owner,
		OperatorAddress: operator,
		StakeAmount:     node.StakeAmount,
		Services: []serviceConfig{{
			ServiceID: node.ServiceID,
			Endpoints: []endpointConfig{{
				PubliclyExposedURL: node.PublicURL,
				RPCType:            rpcType,
			}},
		}},
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("rendering stake descriptor for %q: %w", node.Name, err)
	}
	return data, nil
}

// writeMnemonics persists the generated credentials with owner-only access
func writeMnemonics(path string, records []WalletRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing mnemonics file: %w", err)
	}
	return nil
}
