// Package audit keeps a tamper-evident journal of every side effect the
// engine performs. Records are appended synchronously as each action
// completes, one JSONL file per day, each record hash-chained to the
// previous one so gaps and edits are detectable after the fact.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lyndonlyu/ripcord/internal/redact"
)

// dateFileRe matches journal files named YYYY-MM-DD.jsonl
var dateFileRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.jsonl$`)

// journalFiles returns only date-named .jsonl files from the audit
// directory.
func journalFiles(dir string) ([]string, error) {
	all, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	var filtered []string
	for _, f := range all {
		if dateFileRe.MatchString(filepath.Base(f)) {
			filtered = append(filtered, f)
		}
	}
	return filtered, nil
}

// Entry is one engine action to journal.
type Entry struct {
	SessionID string
	Stage     string // e.g. "validate", "backup", "execute", "verify", "report"
	Action    string // e.g. "reset applied", "remote updated"
	Outcome   string // "ok" or "error"
	Detail    string
}

// Record is the persisted, hash-chained form of an Entry.
type Record struct {
	Timestamp string `json:"timestamp"`
	ActionID  string `json:"action_id"`
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
	Action    string `json:"action"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
	Hash      string `json:"hash,omitempty"`
}

type Journal struct {
	dir      string
	lastHash string
	scrubber *redact.Scrubber
}

func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	j := &Journal{dir: dir}
	j.initLastHash()
	return j, nil
}

func (j *Journal) initLastHash() {
	files, err := journalFiles(j.dir)
	if err != nil || len(files) == 0 {
		return
	}
	sort.Strings(files) // ascending date order
	data, err := os.ReadFile(files[len(files)-1])
	if err != nil {
		return
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}
	lines := strings.Split(content, "\n")
	var r Record
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &r); err != nil {
		return
	}
	j.lastHash = r.Hash
}

// SetScrubber installs a redactor applied to action and detail text
// before hashing and persistence.
func (j *Journal) SetScrubber(s *redact.Scrubber) {
	j.scrubber = s
}

func computeHash(r Record) string {
	saved := r.Hash
	r.Hash = ""
	data, _ := json.Marshal(r)
	r.Hash = saved
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Append journals one entry. Call this as the action completes, not in
// a batch at the end: a crash mid-pipeline must leave an accurate
// partial trace.
func (j *Journal) Append(entry Entry) error {
	record := Record{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		ActionID:  uuid.New().String(),
		SessionID: entry.SessionID,
		Stage:     entry.Stage,
		Action:    entry.Action,
		Outcome:   entry.Outcome,
		Detail:    entry.Detail,
		PrevHash:  j.lastHash,
	}
	if j.scrubber != nil {
		record.Action = j.scrubber.Scrub(record.Action)
		record.Detail = j.scrubber.Scrub(record.Detail)
	}
	record.Hash = computeHash(record)

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	filename := time.Now().Format("2006-01-02") + ".jsonl"
	path := filepath.Join(j.dir, filename)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.Write(data); err != nil {
		return err
	}
	j.lastHash = record.Hash
	return nil
}

// Recent returns up to n records, newest first.
func (j *Journal) Recent(n int) ([]Record, error) {
	files, err := journalFiles(j.dir)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	var records []Record
	for _, f := range files {
		if len(records) >= n {
			break
		}
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if len(records) >= n {
				break
			}
			var r Record
			if err := json.Unmarshal([]byte(lines[i]), &r); err != nil {
				continue
			}
			records = append(records, r)
		}
	}
	return records, nil
}

// ForSession returns all records for one session in append order.
func (j *Journal) ForSession(sessionID string) ([]Record, error) {
	files, err := journalFiles(j.dir)
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var records []Record
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		for _, line := range strings.Split(content, "\n") {
			var r Record
			if err := json.Unmarshal([]byte(line), &r); err != nil {
				continue
			}
			if r.SessionID == sessionID {
				records = append(records, r)
			}
		}
	}
	return records, nil
}

// Verify walks the whole chain and reports whether it is intact. On a
// break it returns the index of the first bad record.
func (j *Journal) Verify() (bool, int, error) {
	files, err := journalFiles(j.dir)
	if err != nil {
		return false, -1, err
	}
	sort.Strings(files) // ascending date order

	var expectedPrevHash string
	index := 0

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return false, -1, err
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		for _, line := range strings.Split(content, "\n") {
			var r Record
			if err := json.Unmarshal([]byte(line), &r); err != nil {
				return false, -1, fmt.Errorf("parse journal record: %w", err)
			}
			if computeHash(r) != r.Hash {
				return false, index, nil
			}
			if r.PrevHash != expectedPrevHash {
				return false, index, nil
			}
			expectedPrevHash = r.Hash
			index++
		}
	}

	return true, -1, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}
