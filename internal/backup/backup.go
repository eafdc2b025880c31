// Package backup captures restorable snapshots of repository state
// before any destructive action. A snapshot is a git bundle of all refs
// plus a JSON metadata file, both published atomically: the snapshot is
// only considered committed once its metadata file exists under the
// final backup id. Snapshots are content-addressed by id and never
// overwritten.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lyndonlyu/ripcord/internal/gitrepo"
)

var (
	// ErrCreationFailed means the snapshot could not be captured; the
	// session must abort before any destructive action.
	ErrCreationFailed = errors.New("backup: snapshot creation failed")
	// ErrNotFound means no committed snapshot exists under the id.
	ErrNotFound = errors.New("backup: snapshot not found")
)

// Snapshot is immutable once created.
type Snapshot struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	SourceRef  string    `json:"source_ref"` // HEAD SHA at capture time
	Branch     string    `json:"branch"`
	CreatedAt  time.Time `json:"created_at"`
	BundleFile string    `json:"bundle_file"`
}

// Manager owns the backups directory. Snapshots are referenced, never
// mutated, by the executor and the incident reporter.
type Manager struct {
	repo    *gitrepo.Repo
	dir     string
	timeout time.Duration
}

func NewManager(repo *gitrepo.Repo, dir string, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Manager{repo: repo, dir: dir, timeout: timeout}
}

func newBackupID(now time.Time) string {
	return fmt.Sprintf("bk-%s-%s", now.UTC().Format("20060102T150405Z"), uuid.New().String()[:8])
}

func (m *Manager) bundlePath(id string) string {
	return filepath.Join(m.dir, id+".bundle")
}

func (m *Manager) metaPath(id string) string {
	return filepath.Join(m.dir, id+".json")
}

// Create captures a snapshot of the current state. Creation is
// all-or-nothing: the bundle and metadata are written to temporary
// names and renamed into place only after the bundle verifies, bundle
// first and metadata last, so a crash never leaves a referencable
// partial snapshot.
func (m *Manager) Create(ctx context.Context, sessionID string) (*Snapshot, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	head, err := m.repo.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	branch, err := m.repo.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	id := newBackupID(time.Now())
	if _, err := os.Stat(m.metaPath(id)); err == nil {
		return nil, fmt.Errorf("%w: id collision for %s", ErrCreationFailed, id)
	}

	tmpBundle := filepath.Join(m.dir, "."+id+".bundle.tmp")
	defer os.Remove(tmpBundle)

	if err := m.repo.BundleCreate(ctx, tmpBundle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	if err := m.repo.BundleVerify(ctx, tmpBundle); err != nil {
		return nil, fmt.Errorf("%w: bundle did not verify: %v", ErrCreationFailed, err)
	}

	snap := &Snapshot{
		ID:         id,
		SessionID:  sessionID,
		SourceRef:  head,
		Branch:     branch,
		CreatedAt:  time.Now().UTC(),
		BundleFile: filepath.Base(m.bundlePath(id)),
	}

	meta, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	tmpMeta := filepath.Join(m.dir, "."+id+".json.tmp")
	defer os.Remove(tmpMeta)
	if err := os.WriteFile(tmpMeta, meta, 0644); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	if err := os.Rename(tmpBundle, m.bundlePath(id)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	if err := os.Rename(tmpMeta, m.metaPath(id)); err != nil {
		// The bundle is orphaned but the snapshot was never committed.
		os.Remove(m.bundlePath(id))
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	return snap, nil
}

// Load reads a committed snapshot's metadata by id.
func (m *Manager) Load(id string) (*Snapshot, error) {
	data, err := os.ReadFile(m.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("backup: read metadata: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("backup: parse metadata for %s: %w", id, err)
	}
	return &snap, nil
}

// Restore brings the repository back to the snapshot's captured state:
// the bundle is verified, its objects fetched, and the working tree
// hard-reset to the recorded source ref.
func (m *Manager) Restore(ctx context.Context, id string) error {
	snap, err := m.Load(id)
	if err != nil {
		return err
	}

	bundle := m.bundlePath(snap.ID)
	if err := m.repo.BundleVerify(ctx, bundle); err != nil {
		return fmt.Errorf("backup: restore %s: %w", id, err)
	}
	if err := m.repo.Fetch(ctx, bundle); err != nil {
		return fmt.Errorf("backup: restore %s: %w", id, err)
	}
	if err := m.repo.ResetHard(ctx, snap.SourceRef); err != nil {
		return fmt.Errorf("backup: restore %s: %w", id, err)
	}
	return nil
}

// List returns committed snapshots sorted newest first (ids embed the
// creation timestamp).
func (m *Manager) List() ([]Snapshot, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "bk-*.json"))
	if err != nil {
		return nil, fmt.Errorf("backup: list: %w", err)
	}

	var snaps []Snapshot
	for _, path := range matches {
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		snap, err := m.Load(id)
		if err != nil {
			continue // skip uncommitted or corrupt entries
		}
		snaps = append(snaps, *snap)
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].ID > snaps[j].ID
	})
	return snaps, nil
}

// Delete removes a snapshot's bundle and metadata, metadata first so a
// partial delete never leaves a referencable snapshot without its data.
func (m *Manager) Delete(id string) error {
	if err := os.Remove(m.metaPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("backup: delete %s: %w", id, err)
	}
	if err := os.Remove(m.bundlePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("backup: delete %s: %w", id, err)
	}
	return nil
}
