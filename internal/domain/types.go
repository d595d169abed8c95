package domain

// SessionKind distinguishes the two batch flows
type SessionKind string

const (
	KindMigration SessionKind = "migration"
	KindStaking   SessionKind = "staking"
)

// Valid returns true for a known session kind
func (k SessionKind) Valid() bool {
	return k == KindMigration || k == KindStaking
}

// UnitStatus represents the lifecycle state of a work unit
type UnitStatus string

const (
	UnitPending   UnitStatus = "pending"
	UnitSucceeded UnitStatus = "succeeded"
	UnitFailed    UnitStatus = "failed"
)

// KeyringBackend selects pocketd's credential storage mode
type KeyringBackend string

const (
	BackendTest   KeyringBackend = "test"
	BackendMemory KeyringBackend = "memory"
	BackendOS     KeyringBackend = "os"
	BackendFile   KeyringBackend = "file"
)

// Valid returns true for a backend pocketd accepts
func (b KeyringBackend) Valid() bool {
	switch b {
	case BackendTest, BackendMemory, BackendOS, BackendFile:
		return true
	}
	return false
}
