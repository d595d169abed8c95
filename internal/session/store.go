// Package session provides the filesystem-backed record of batch operations.
// The directory layout is the source of truth: work units are derived by
// scanning, so crash recovery needs no separate index.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pokt-foundation/shannon-orch/internal/domain"
)

const (
	descriptorFile = "session_info.json"
	walletsDir     = "wallets"
	stakeFilesDir  = "stake_files"
	mnemonicsFile  = "wallet_mnemonics.json"
	tmpDir         = "tmp"
	inputDir       = "input"
	outputDir      = "output"
)

// Store manages the session directory tree under one data root
type Store struct {
	root string
}

// NewStore creates the store and its fixed subdirectories
func NewStore(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, inputDir), filepath.Join(root, outputDir), filepath.Join(root, tmpDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the data root directory
func (s *Store) Root() string { return s.root }

func (s *Store) sessionDir(kind domain.SessionKind, id string) string {
	return filepath.Join(s.root, string(kind), id)
}

// CreateSession allocates a new id and builds the session directory tree
func (s *Store) CreateSession(kind domain.SessionKind, params domain.SessionParams) (*domain.Session, error) {
	return s.EnsureSession(uuid.NewString(), kind, params)
}

// EnsureSession creates the directory tree and descriptor for a session id.
// It is idempotent: re-running with an existing id (crash recovery) keeps
// the original descriptor and every artifact already present.
func (s *Store) EnsureSession(id string, kind domain.SessionKind, params domain.SessionParams) (*domain.Session, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown session kind %q", kind)
	}

	dir := s.sessionDir(kind, id)
	for _, sub := range []string{dir, filepath.Join(dir, walletsDir), filepath.Join(dir, stakeFilesDir)} {
		if err := os.MkdirAll(sub, 0755); err != nil {
			return nil, fmt.Errorf("creating session dir: %w", err)
		}
	}

	descPath := filepath.Join(dir, descriptorFile)
	if _, err := os.Stat(descPath); err == nil {
		// Descriptor already written by an earlier run; it is immutable.
		return s.GetSession(id)
	}

	sess := &domain.Session{
		ID:        id,
		Kind:      kind,
		Params:    params,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		WorkDir:   dir,
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(descPath, data, 0644); err != nil {
		return nil, fmt.Errorf("writing session descriptor: %w", err)
	}
	return sess, nil
}

// GetSession loads a session descriptor by id, searching both kind trees
func (s *Store) GetSession(id string) (*domain.Session, error) {
	if err := domain.ValidateSessionID(id); err != nil {
		return nil, err
	}
	for _, kind := range []domain.SessionKind{domain.KindMigration, domain.KindStaking} {
		dir := s.sessionDir(kind, id)
		data, err := os.ReadFile(filepath.Join(dir, descriptorFile))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		var sess domain.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("parsing session descriptor: %w", err)
		}
		sess.WorkDir = dir
		return &sess, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
}

// ListSessions returns all session descriptors, newest first
func (s *Store) ListSessions() ([]*domain.Session, error) {
	var sessions []*domain.Session
	for _, kind := range []domain.SessionKind{domain.KindMigration, domain.KindStaking} {
		kindDir := filepath.Join(s.root, string(kind))
		entries, err := os.ReadDir(kindDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			sess, err := s.GetSession(e.Name())
			if err != nil {
				continue // skip trees without a readable descriptor
			}
			sessions = append(sessions, sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// ListWorkUnits derives the session's work units from the directory layout.
// Staking sessions get one unit per stake file; migration sessions are a
// single unit covering the whole key-set when the input file exists.
func (s *Store) ListWorkUnits(id string) ([]domain.WorkUnit, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}

	switch sess.Kind {
	case domain.KindStaking:
		return s.stakingUnits(sess)
	case domain.KindMigration:
		return s.migrationUnits(sess)
	}
	return nil, nil
}

func (s *Store) stakingUnits(sess *domain.Session) ([]domain.WorkUnit, error) {
	dir := filepath.Join(sess.WorkDir, stakeFilesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "stake_") || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	units := make([]domain.WorkUnit, 0, len(names))
	for i, name := range names {
		unitName := strings.TrimSuffix(strings.TrimPrefix(name, "stake_"), ".yaml")
		units = append(units, domain.WorkUnit{
			Index:    i,
			Name:     unitName,
			InputRef: filepath.Join(dir, name),
			Status:   domain.UnitPending,
		})
	}
	return units, nil
}

func (s *Store) migrationUnits(sess *domain.Session) ([]domain.WorkUnit, error) {
	input := s.MigrationInputPath(sess.ID)
	if _, err := os.Stat(input); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return []domain.WorkUnit{{
		Index:    0,
		Name:     "claim-accounts",
		InputRef: input,
		Status:   domain.UnitPending,
	}}, nil
}

// ArtifactPath computes the deterministic location of a per-unit artifact.
// Any component can recompute it from (id, unitName, kind) without a lookup.
func (s *Store) ArtifactPath(sess *domain.Session, unitName, artifactKind string) string {
	switch artifactKind {
	case "stake":
		return filepath.Join(sess.WorkDir, stakeFilesDir, "stake_"+unitName+".yaml")
	case "wallet":
		return filepath.Join(sess.WorkDir, walletsDir, unitName)
	default:
		return filepath.Join(sess.WorkDir, fmt.Sprintf("%s_%s.json", artifactKind, unitName))
	}
}

// RecordArtifact writes a per-unit artifact. Overwriting an existing artifact
// for the same (id, unit, kind) is expected on retry.
func (s *Store) RecordArtifact(sess *domain.Session, unitName, artifactKind string, content []byte) (string, error) {
	path := s.ArtifactPath(sess, unitName, artifactKind)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	return path, nil
}

// WalletHomeDir returns the per-unit keyring home used by the staking flow
func (s *Store) WalletHomeDir(sess *domain.Session, unitName string) string {
	return filepath.Join(sess.WorkDir, walletsDir, unitName)
}

// MnemonicsPath is the sole sanctioned at-rest location for generated
// credentials; callers are responsible for downloading and clearing it.
func (s *Store) MnemonicsPath(sess *domain.Session) string {
	return filepath.Join(sess.WorkDir, mnemonicsFile)
}

// MigrationInputPath returns the claim-accounts input file for a session
func (s *Store) MigrationInputPath(id string) string {
	return filepath.Join(s.root, inputDir, "migration-input-"+id+".json")
}

// MigrationOutputPath returns the CLI-produced result file for a session
func (s *Store) MigrationOutputPath(id string) string {
	return filepath.Join(s.root, outputDir, "migration-output-"+id+".json")
}

// ReportPath returns where a session's batch report is persisted
func (s *Store) ReportPath(sess *domain.Session) string {
	return filepath.Join(sess.WorkDir, "report.json")
}

// WriteReport persists the batch report as a whole-file rewrite
func (s *Store) WriteReport(sess *domain.Session, report *domain.BatchReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.ReportPath(sess), data, 0644)
}

// ReadReport loads a session's batch report if one has been written
func (s *Store) ReadReport(sess *domain.Session) (*domain.BatchReport, error) {
	data, err := os.ReadFile(s.ReportPath(sess))
	if err != nil {
		return nil, err
	}
	var report domain.BatchReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// TempFile creates a scratch file under the store's tmp directory; the
// startup sweep removes leftovers older than the configured age.
func (s *Store) TempFile(pattern string) (*os.File, error) {
	return os.CreateTemp(filepath.Join(s.root, tmpDir), pattern)
}

// CleanupTemp removes orphaned temp files older than maxAge. Sessions are
// never deleted automatically; only the tmp scratch space is swept.
func (s *Store) CleanupTemp(maxAge time.Duration) (removed int, err error) {
	dir := filepath.Join(s.root, tmpDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
