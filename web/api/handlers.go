package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
	"github.com/pokt-foundation/shannon-orch/internal/migrate"
	"github.com/pokt-foundation/shannon-orch/internal/orchestrator"
	"github.com/pokt-foundation/shannon-orch/internal/pocketd"
	"github.com/pokt-foundation/shannon-orch/internal/staking"
)

// SignerSpec selects the signing identity for a batch. At most one of
// HexKey, Mnemonic, Wallet may be set; Owner names a pre-existing keyring
// entry; everything empty means the fallback identity.
type SignerSpec struct {
	Name     string      `json:"name,omitempty"`
	HexKey   string      `json:"hex_key,omitempty"`
	Mnemonic string      `json:"mnemonic,omitempty"`
	Wallet   *WalletBlob `json:"wallet,omitempty"`
	Owner    string      `json:"owner,omitempty"`
}

// WalletBlob is an already-parsed wallet credential
type WalletBlob struct {
	PrivHex string `json:"priv"`
	Address string `json:"address"`
}

// MigrateRequest is the POST /api/migrate body
type MigrateRequest struct {
	SessionID          string     `json:"session_id,omitempty"`
	Network            string     `json:"network"`
	DestinationAddress string     `json:"destination_address"`
	Keys               []string   `json:"keys"`
	Signer             SignerSpec `json:"signer"`
}

// StakeRequest is the POST /api/stake body
type StakeRequest struct {
	SessionID    string             `json:"session_id,omitempty"`
	Network      string             `json:"network"`
	OwnerAddress string             `json:"owner_address"`
	Nodes        []staking.NodeSpec `json:"nodes"`
	Signer       SignerSpec         `json:"signer"`
}

// StakeAccepted is the immediate response to an accepted stake batch
type StakeAccepted struct {
	SessionID string `json:"session_id"`
	Units     int    `json:"units"`
}

// SessionResponse is the API view of one session
type SessionResponse struct {
	ID        string              `json:"id"`
	Kind      string              `json:"kind"`
	Network   string              `json:"network"`
	Owner     string              `json:"owner,omitempty"`
	UnitCount int                 `json:"unit_count"`
	CreatedAt string              `json:"created_at"`
	Units     []domain.WorkUnit   `json:"units,omitempty"`
	Report    *domain.BatchReport `json:"report,omitempty"`
}

// resolveIdentity maps a SignerSpec onto the credential union. It is the one
// place raw request strings become typed credentials.
func resolveIdentity(spec SignerSpec) (orchestrator.IdentitySpec, error) {
	supplied := 0
	for _, set := range []bool{spec.HexKey != "", spec.Mnemonic != "", spec.Wallet != nil} {
		if set {
			supplied++
		}
	}
	if supplied > 1 {
		return orchestrator.IdentitySpec{}, errors.New("supply at most one of hex_key, mnemonic, wallet")
	}

	out := orchestrator.IdentitySpec{OwnerName: spec.Owner}
	var (
		cred domain.Credential
		err  error
	)
	switch {
	case spec.HexKey != "":
		cred, err = domain.NewRawHexCredential(spec.HexKey)
	case spec.Mnemonic != "":
		cred, err = domain.NewMnemonicCredential(spec.Mnemonic)
	case spec.Wallet != nil:
		cred, err = domain.NewWalletCredential(spec.Wallet.PrivHex, spec.Wallet.Address)
	default:
		return out, nil
	}
	if err != nil {
		return orchestrator.IdentitySpec{}, err
	}
	out.OverrideCred = cred
	out.OverrideName = spec.Name
	return out, nil
}

// signerLabel is a redacted description for the history record
func signerLabel(spec SignerSpec) string {
	switch {
	case spec.HexKey != "" || spec.Mnemonic != "" || spec.Wallet != nil:
		if spec.Name != "" {
			return spec.Name
		}
		return "override"
	case spec.Owner != "":
		return spec.Owner
	default:
		return "fallback"
	}
}

// txParams resolves the network selector against the config allow-list
func (s *Server) txParams(network string) (pocketd.TxParams, error) {
	n, err := s.deps.Config.Network(network)
	if err != nil {
		return pocketd.TxParams{}, err
	}
	return pocketd.TxParams{
		ChainID:       n.ChainID,
		NodeURL:       n.NodeURL,
		GasAdjustment: s.deps.Config.Pocketd.GasAdjustment,
		GasPrices:     s.deps.Config.Pocketd.GasPrices,
	}, nil
}

func (s *Server) recordHistory(report *domain.BatchReport, network, signer string) {
	if s.deps.History == nil || report == nil {
		return
	}
	if _, err := s.deps.History.RecordBatch(report, network, signer); err != nil {
		log.Printf("[api] recording batch history: %v", err)
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		if err := s.deps.Prober.Probe(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func (s *Server) migrateHandler(unsigned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req MigrateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		params, err := s.txParams(req.Network)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		identity, err := resolveIdentity(req.Signer)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.deps.Prober.Probe(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}

		out, err := s.deps.Migrator.Run(r.Context(), s.deps.Builder, migrate.Request{
			SessionID:          req.SessionID,
			Network:            req.Network,
			DestinationAddress: req.DestinationAddress,
			HexKeys:            req.Keys,
			Identity:           identity,
			TxParams:           params,
			Unsigned:           unsigned,
		})
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}

		s.recordHistory(out.Report, req.Network, signerLabel(req.Signer))
		writeJSON(w, out)
	}
}

func (s *Server) stakeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req StakeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		params, err := s.txParams(req.Network)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		identity, err := resolveIdentity(req.Signer)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.deps.Prober.Probe(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}

		stakeReq := staking.Request{
			SessionID:    req.SessionID,
			Network:      req.Network,
			OwnerAddress: req.OwnerAddress,
			Nodes:        req.Nodes,
			Identity:     identity,
			TxParams:     params,
		}

		// Provision synchronously so bad requests fail fast, then broadcast
		// in the background: N stake transactions with inter-tx delays can
		// take minutes.
		sess, _, err := s.deps.Provisioner.Provision(r.Context(), stakeReq)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}

		go func() {
			report, err := s.deps.Provisioner.Stake(context.Background(), s.deps.Builder, sess, stakeReq)
			if err != nil {
				log.Printf("[api] stake batch %s: %v", sess.ID, err)
				return
			}
			s.recordHistory(report, req.Network, signerLabel(req.Signer))
		}()

		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, StakeAccepted{SessionID: sess.ID, Units: len(req.Nodes)})
	}
}

func (s *Server) listSessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		sessions, err := s.deps.Store.ListSessions()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		out := make([]SessionResponse, 0, len(sessions))
		for _, sess := range sessions {
			out = append(out, sessionToResponse(sess, nil, nil))
		}
		writeJSON(w, out)
	}
}

// sessionHandler serves /api/sessions/{kind}/{id} and the mnemonics
// subresource /api/sessions/{kind}/{id}/mnemonics.
func (s *Server) sessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		if len(parts) < 2 {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		kind := domain.SessionKind(parts[0])
		id := parts[1]
		if !kind.Valid() {
			writeError(w, http.StatusNotFound, "unknown session kind")
			return
		}

		if len(parts) == 3 && parts[2] == "mnemonics" {
			s.serveMnemonics(w, r, kind, id)
			return
		}
		if len(parts) != 2 || r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		sess, err := s.deps.Store.GetSession(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		units, err := s.deps.Store.ListWorkUnits(sess.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		report, err := s.deps.Store.ReadReport(sess)
		if err != nil {
			report = nil // no report yet
		}
		writeJSON(w, sessionToResponse(sess, units, report))
	}
}

// serveMnemonics lets callers download and then clear the generated wallet
// credentials. GET streams the file; DELETE removes it.
func (s *Server) serveMnemonics(w http.ResponseWriter, r *http.Request, kind domain.SessionKind, id string) {
	if kind != domain.KindStaking {
		writeError(w, http.StatusNotFound, "mnemonics exist only for staking sessions")
		return
	}
	sess, err := s.deps.Store.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	path := s.deps.Store.MnemonicsPath(sess)

	switch r.Method {
	case http.MethodGet:
		data, err := os.ReadFile(path)
		if err != nil {
			writeError(w, http.StatusNotFound, "no mnemonics file for this session")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="wallet_mnemonics.json"`)
		w.Write(data)
	case http.MethodDelete:
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.deps.History == nil {
			writeJSON(w, []struct{}{})
			return
		}
		runs, err := s.deps.History.ListRecentBatches(50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, runs)
	}
}

func sessionToResponse(sess *domain.Session, units []domain.WorkUnit, report *domain.BatchReport) SessionResponse {
	return SessionResponse{
		ID:        sess.ID,
		Kind:      string(sess.Kind),
		Network:   sess.Params.Network,
		Owner:     sess.Params.OwnerAddress,
		UnitCount: sess.Params.UnitCount,
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
		Units:     units,
		Report:    report,
	}
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentialFormat):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBinaryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
