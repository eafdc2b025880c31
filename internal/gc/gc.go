// Package gc prunes historical artifacts to bounded counts: incident
// report pairs, backup snapshots, and aged audit journal files. Report
// pairs are always removed together — a pruned incident never leaves an
// orphaned twin behind.
package gc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lyndonlyu/ripcord/internal/backup"
	"github.com/lyndonlyu/ripcord/internal/report"
)

// Policy defines retention rules.
type Policy struct {
	KeepReports  int  // keep the N newest report pairs (default: 10)
	KeepBackups  int  // keep the N newest backup snapshots (default: 10)
	MaxAuditDays int  // keep audit journal files for N days (default: 90)
	DryRun       bool // report without deleting
}

// Result tracks what was cleaned up.
type Result struct {
	PairsRemoved      int
	BackupsRemoved    int
	AuditFilesRemoved int
	BytesFreed        int64
}

// DefaultPolicy returns the default retention policy.
func DefaultPolicy() Policy {
	return Policy{
		KeepReports:  10,
		KeepBackups:  10,
		MaxAuditDays: 90,
	}
}

// Run prunes the reports, backups, and audit directories per policy.
func Run(reportsDir, backupsDir, auditDir string, policy Policy) (*Result, error) {
	result := &Result{}

	if err := pruneReports(reportsDir, policy, result); err != nil {
		return result, fmt.Errorf("report cleanup: %w", err)
	}
	if err := pruneBackups(backupsDir, policy, result); err != nil {
		return result, fmt.Errorf("backup cleanup: %w", err)
	}
	if err := pruneAudit(auditDir, policy, result); err != nil {
		return result, fmt.Errorf("audit cleanup: %w", err)
	}

	return result, nil
}

// pruneReports keeps the newest KeepReports pairs. ListPairs orders by
// session id descending, and session ids sort in creation order, so the
// newest pairs come first.
func pruneReports(reportsDir string, policy Policy, result *Result) error {
	pairs, err := report.ListPairs(reportsDir)
	if err != nil {
		return err
	}

	for i, p := range pairs {
		if i < policy.KeepReports {
			continue
		}
		size := fileSize(p.MarkdownPath) + fileSize(p.JSONPath)
		if !policy.DryRun {
			// Markdown first: a pair is only listed while both halves
			// exist, so a failure between the two removals never
			// resurfaces a partial pair.
			if err := os.Remove(p.MarkdownPath); err != nil {
				return err
			}
			if err := os.Remove(p.JSONPath); err != nil {
				return err
			}
		}
		result.PairsRemoved++
		result.BytesFreed += size
	}
	return nil
}

func pruneBackups(backupsDir string, policy Policy, result *Result) error {
	mgr := backup.NewManager(nil, backupsDir, 0)
	snaps, err := mgr.List()
	if err != nil {
		return err
	}

	for i, s := range snaps {
		if i < policy.KeepBackups {
			continue
		}
		size := fileSize(filepath.Join(backupsDir, s.ID+".json")) +
			fileSize(filepath.Join(backupsDir, s.BundleFile))
		if !policy.DryRun {
			if err := mgr.Delete(s.ID); err != nil {
				return err
			}
		}
		result.BackupsRemoved++
		result.BytesFreed += size
	}
	return nil
}

func pruneAudit(auditDir string, policy Policy, result *Result) error {
	entries, err := os.ReadDir(auditDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -policy.MaxAuditDays)

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		// Parse date from filename (YYYY-MM-DD.jsonl)
		datePart := strings.TrimSuffix(name, ".jsonl")
		fileDate, err := time.Parse("2006-01-02", datePart)
		if err != nil {
			continue // skip non-date files
		}

		if fileDate.Before(cutoff) {
			path := filepath.Join(auditDir, name)
			size := fileSize(path)
			if !policy.DryRun {
				if err := os.Remove(path); err != nil {
					return err
				}
			}
			result.AuditFilesRemoved++
			result.BytesFreed += size
		}
	}
	return nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
