// Package filelock serializes rollback sessions with an flock-based
// repository lock. A session may not begin while another process holds
// the lock for the same working tree; concurrent git-state mutation
// would corrupt the ordering guarantees the validator relies on.
package filelock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrLocked is returned when another process holds the repository lock.
var ErrLocked = errors.New("filelock: repository lock is held by another process")

// Lock represents an acquired repository lock.
type Lock struct {
	Path string
	file *os.File
}

// Meta is the on-disk metadata written alongside a lock file.
type Meta struct {
	PID       int    `json:"pid"`
	RepoPath  string `json:"repo_path"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// lockPath derives a stable lock file name from the repository path.
func lockPath(lockDir, repoPath string) string {
	sum := sha256.Sum256([]byte(repoPath))
	return filepath.Join(lockDir, "repo-"+hex.EncodeToString(sum[:8])+".lock")
}

// Acquire takes the exclusive lock for repoPath, recording the holder's
// PID and session id. Returns ErrLocked (with the holder PID when
// readable) if another live process holds it.
func Acquire(lockDir, repoPath, sessionID string) (*Lock, error) {
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir for lock: %w", err)
	}

	path := lockPath(lockDir, repoPath)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	fd := int(f.Fd())
	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			holderPID := 0
			if meta, metaErr := ReadMeta(path); metaErr == nil {
				holderPID = meta.PID
			}
			return nil, fmt.Errorf("%w (holder PID: %d)", ErrLocked, holderPID)
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	meta := Meta{
		PID:       os.Getpid(),
		RepoPath:  repoPath,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		syscall.Flock(fd, syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0644); err != nil {
		syscall.Flock(fd, syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("write meta: %w", err)
	}

	return &Lock{Path: path, file: f}, nil
}

// Release removes the flock, closes the file, and deletes the meta file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	fd := int(l.file.Fd())
	if err := syscall.Flock(fd, syscall.LOCK_UN); err != nil {
		return fmt.Errorf("flock LOCK_UN: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	l.file = nil

	// Best-effort removal of meta file.
	_ = os.Remove(l.Path + ".meta")
	return nil
}

// IsStale checks whether the lock for repoPath is stale by reading its
// meta file and testing whether the recorded PID is still alive.
func IsStale(lockDir, repoPath string) bool {
	meta, err := ReadMeta(lockPath(lockDir, repoPath))
	if err != nil {
		// No meta or unreadable meta: treat as stale.
		return true
	}

	proc, err := os.FindProcess(meta.PID)
	if err != nil {
		return true
	}

	// Signal 0 checks process existence without actually sending a signal.
	return proc.Signal(syscall.Signal(0)) != nil
}

// ReadMeta reads and parses the .meta JSON file for a lock path.
func ReadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path + ".meta")
	if err != nil {
		return Meta{}, fmt.Errorf("read meta: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// HolderMeta returns the recorded metadata for the lock guarding
// repoPath, if any.
func HolderMeta(lockDir, repoPath string) (Meta, error) {
	return ReadMeta(lockPath(lockDir, repoPath))
}
