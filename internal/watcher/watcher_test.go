package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
	"github.com/pokt-foundation/shannon-orch/internal/session"
)

type change struct {
	kind  domain.SessionKind
	id    string
	files []string
}

func startWatcher(t *testing.T, store *session.Store) (*SessionWatcher, chan change) {
	t.Helper()
	changes := make(chan change, 10)
	sw, err := New(store.Root(), func(kind domain.SessionKind, id string, files []string) {
		changes <- change{kind: kind, id: id, files: files}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sw.SetDebounce(20 * time.Millisecond)
	sw.Start(context.Background())
	t.Cleanup(sw.Stop)
	return sw, changes
}

func waitForChange(t *testing.T, changes chan change, wantID string) change {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.id == wantID {
				return c
			}
		case <-deadline:
			t.Fatalf("no change for session %s", wantID)
		}
	}
}

func TestWatcherReportsArtifactWrites(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sess, err := store.CreateSession(domain.KindStaking, domain.SessionParams{Network: "beta"})
	if err != nil {
		t.Fatal(err)
	}

	_, changes := startWatcher(t, store)

	if _, err := store.RecordArtifact(sess, "node1", "stake", []byte("service_id: svc\n")); err != nil {
		t.Fatal(err)
	}

	c := waitForChange(t, changes, sess.ID)
	if c.kind != domain.KindStaking {
		t.Errorf("kind = %q", c.kind)
	}
	if len(c.files) == 0 {
		t.Error("expected changed files")
	}
}

func TestWatcherPicksUpNewSessions(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, changes := startWatcher(t, store)

	// Session created after the watcher started
	sess, err := store.CreateSession(domain.KindMigration, domain.SessionParams{Network: "beta"})
	if err != nil {
		t.Fatal(err)
	}
	// Give the watcher a moment to register the new directory
	time.Sleep(100 * time.Millisecond)

	report := &domain.BatchReport{SessionID: sess.ID, Kind: sess.Kind}
	if err := store.WriteReport(sess, report); err != nil {
		t.Fatal(err)
	}

	c := waitForChange(t, changes, sess.ID)
	if c.kind != domain.KindMigration {
		t.Errorf("kind = %q", c.kind)
	}
}
