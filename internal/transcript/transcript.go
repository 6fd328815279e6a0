// Package transcript reads pi session transcripts: append-only JSONL files,
// one record per line, into immutable session snapshots.
package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/soporteakasiapro1-art/pi-island/internal/pi"
)

// Record types.
const (
	RecordSession       = "session"
	RecordModelChange   = "model_change"
	RecordThinkingLevel = "thinking_level_change"
	RecordMessage       = "message"
)

// Ext is the transcript file extension.
const Ext = ".jsonl"

// maxLineSize bounds a single record. Tool results with embedded images can
// be large. Longer lines are skipped.
var maxLineSize = 64 * 1024 * 1024

// Snapshot is everything recoverable from one transcript file.
type Snapshot struct {
	ID            string       `json:"id"`
	Path          string       `json:"path"`
	Cwd           string       `json:"cwd"`
	Messages      []pi.Message `json:"messages"`
	Model         *pi.ModelRef `json:"model,omitempty"`
	ThinkingLevel string       `json:"thinking_level,omitempty"`
	LastActivity  time.Time    `json:"last_activity"`
	ModTime       time.Time    `json:"mod_time"`
	Skipped       int          `json:"skipped,omitempty"` // lines that failed to parse
}

// record is the union of all record shapes; unused fields stay zero.
type record struct {
	Type          string          `json:"type"`
	Timestamp     string          `json:"timestamp"`
	Cwd           string          `json:"cwd"`
	Provider      string          `json:"provider"`
	ModelID       string          `json:"modelId"`
	ThinkingLevel string          `json:"thinkingLevel"`
	Message       json.RawMessage `json:"message"`
}

// IDFromPath derives the session id from a transcript filename. pi names
// files <timestamp>_<uuid>.jsonl; the id is the part after the last '_'.
func IDFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), Ext)
	if i := strings.LastIndexByte(name, '_'); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return name
}

// Parse builds a snapshot from transcript bytes. It never fails: lines that
// do not parse are counted in Skipped and otherwise ignored.
func Parse(path string, data []byte, modTime time.Time) Snapshot {
	snap := Snapshot{
		ID:      IDFromPath(path),
		Path:    path,
		ModTime: modTime,
	}

	var records []pi.AgentMessage
	for len(data) > 0 {
		var line []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			line, data = data, nil
		}
		if len(line) > maxLineSize {
			snap.Skipped++
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			snap.Skipped++
			continue
		}
		snap.touch(parseTime(rec.Timestamp))

		switch rec.Type {
		case RecordSession:
			if rec.Cwd != "" {
				snap.Cwd = rec.Cwd
			}
		case RecordModelChange:
			if rec.ModelID != "" {
				snap.Model = &pi.ModelRef{Provider: rec.Provider, ID: rec.ModelID}
			}
		case RecordThinkingLevel:
			snap.ThinkingLevel = rec.ThinkingLevel
		case RecordMessage:
			var msg pi.AgentMessage
			if err := json.Unmarshal(rec.Message, &msg); err != nil || msg.Role == "" {
				snap.Skipped++
				continue
			}
			if msg.Role == pi.AgentRoleAssistant && msg.Model != "" {
				snap.Model = &pi.ModelRef{Provider: msg.Provider, ID: msg.Model}
			}
			snap.touch(msg.Time())
			records = append(records, msg)
		}
	}

	snap.Messages = pi.Reconstruct(records)
	if snap.LastActivity.IsZero() {
		snap.LastActivity = modTime
	}
	return snap
}

func (s *Snapshot) touch(t time.Time) {
	if t.After(s.LastActivity) {
		s.LastActivity = t
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ParseFile reads and parses one transcript.
func ParseFile(path string) (Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("stat transcript: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read transcript: %w", err)
	}
	return Parse(path, data, info.ModTime()), nil
}

// IsTranscript reports whether path names a transcript file.
func IsTranscript(path string) bool {
	return strings.HasSuffix(path, Ext) && !strings.HasPrefix(filepath.Base(path), ".")
}

// ScanDir lists transcript files under root, recursively, sorted by path.
// A missing root yields no files and no error.
func ScanDir(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // unreadable subdirectory
		}
		if !d.IsDir() && IsTranscript(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}
