// Package cli provides CLI output formatting utilities.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
	"github.com/soporteakasiapro1-art/pi-island/internal/transcript"
)

// SessionsFormatter handles session listing output.
type SessionsFormatter struct {
	w   io.Writer
	now func() time.Time
}

// NewSessionsFormatter creates a new sessions formatter.
func NewSessionsFormatter(w io.Writer) *SessionsFormatter {
	return &SessionsFormatter{w: w, now: time.Now}
}

// SessionListOptions configures session list output.
type SessionListOptions struct {
	SortBy     string // "time" or "name"
	Descending bool
	Cwd        string // only sessions started in this directory
	Limit      int
}

// LoadSessions parses every transcript under dir. Unreadable files are
// logged and skipped.
func LoadSessions(dir string) ([]transcript.Snapshot, error) {
	paths, err := transcript.ScanDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	out := make([]transcript.Snapshot, 0, len(paths))
	for _, path := range paths {
		snap, err := transcript.ParseFile(path)
		if err != nil {
			islandlog.Log.Warn("cli: skipping transcript", "path", path, "error", err)
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Filter applies the Cwd, sort and Limit options.
func Filter(sessions []transcript.Snapshot, opts SessionListOptions) []transcript.Snapshot {
	out := sessions
	if opts.Cwd != "" {
		out = out[:0:0]
		for _, s := range sessions {
			if s.Cwd == opts.Cwd {
				out = append(out, s)
			}
		}
	}
	sortSessions(out, opts.SortBy, opts.Descending)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// ResolveSession finds the one session matching query by id, file name,
// or path suffix.
func ResolveSession(sessions []transcript.Snapshot, query string) (transcript.Snapshot, error) {
	if strings.TrimSpace(query) == "" {
		return transcript.Snapshot{}, fmt.Errorf("session query is required")
	}

	var matches []transcript.Snapshot
	for _, s := range sessions {
		if sessionMatchesQuery(s, query) {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		return transcript.Snapshot{}, fmt.Errorf("session not found: %s", query)
	case 1:
		return matches[0], nil
	default:
		var b strings.Builder
		b.WriteString("session query is ambiguous, matched multiple sessions:\n")
		limit := min(len(matches), 5)
		for i := 0; i < limit; i++ {
			b.WriteString("  - ")
			b.WriteString(matches[i].Path)
			b.WriteByte('\n')
		}
		if len(matches) > limit {
			fmt.Fprintf(&b, "  ... and %d more", len(matches)-limit)
		}
		return transcript.Snapshot{}, fmt.Errorf("%s", strings.TrimSpace(b.String()))
	}
}

func sessionMatchesQuery(s transcript.Snapshot, query string) bool {
	if s.ID == query || s.Path == query {
		return true
	}
	base := filepath.Base(s.Path)
	if base == query || base == query+transcript.Ext {
		return true
	}
	return strings.HasSuffix(s.ID, query) && len(query) >= 4
}

// FormatList writes one row per session.
func (f *SessionsFormatter) FormatList(sessions []transcript.Snapshot) error {
	tw := tabwriter.NewWriter(f.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMESSAGES\tMODEL\tACTIVE\tCWD")
	now := f.now()
	for _, s := range sessions {
		model := s.Model.String()
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			s.ID, len(s.Messages), model, humanize.RelTime(s.LastActivity, now, "ago", "from now"), s.Cwd)
	}
	return tw.Flush()
}

// FormatJSON writes sessions as a JSON array without message bodies.
func (f *SessionsFormatter) FormatJSON(sessions []transcript.Snapshot) error {
	out := make([]transcript.Snapshot, len(sessions))
	for i, s := range sessions {
		s.Messages = nil
		out[i] = s
	}
	enc := json.NewEncoder(f.w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// SessionSummaryData is the template data for session summary.
type SessionSummaryData struct {
	Path         string
	SessionID    string
	Cwd          string
	Model        string
	Messages     int
	LastActivity time.Time
	Modified     time.Time
	Ago          string
}

const defaultSessionSummaryTemplate = `{{range .}}{{.Path}}
  ID:       {{.SessionID}}
  Cwd:      {{.Cwd}}
  Messages: {{.Messages}}{{if .Model}}
  Model:    {{.Model}}{{end}}
  Active:   {{.LastActivity.Format "2006-01-02 15:04"}} ({{.Ago}})

{{end}}`

// SessionSummaryTemplateHelp documents the template variables.
const SessionSummaryTemplateHelp = `Template variables:
  {{.Path}}          Full path to transcript file
  {{.SessionID}}     Session identifier
  {{.Cwd}}           Working directory the session started in
  {{.Model}}         Last model used (provider/id)
  {{.Messages}}      Number of messages
  {{.LastActivity}}  Newest record time (time.Time)
  {{.Modified}}      File modification time (time.Time)
  {{.Ago}}           LastActivity relative to now`

// FormatSummary outputs detailed session information through a template.
func (f *SessionsFormatter) FormatSummary(sessions []transcript.Snapshot, customTmpl string) error {
	now := f.now()
	data := make([]SessionSummaryData, len(sessions))
	for i, s := range sessions {
		data[i] = SessionSummaryData{
			Path:         s.Path,
			SessionID:    s.ID,
			Cwd:          s.Cwd,
			Model:        s.Model.String(),
			Messages:     len(s.Messages),
			LastActivity: s.LastActivity,
			Modified:     s.ModTime,
			Ago:          humanize.RelTime(s.LastActivity, now, "ago", "from now"),
		}
	}

	tmplStr := defaultSessionSummaryTemplate
	if customTmpl != "" {
		tmplStr = customTmpl
	}

	tmpl, err := template.New("sessions").Parse(tmplStr)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}

	return tmpl.Execute(f.w, data)
}

func sortSessions(sessions []transcript.Snapshot, sortBy string, descending bool) {
	switch sortBy {
	case "name":
		sort.SliceStable(sessions, func(i, j int) bool {
			cmp := strings.Compare(
				strings.ToLower(sessions[i].ID),
				strings.ToLower(sessions[j].ID),
			)
			if descending {
				return cmp > 0
			}
			return cmp < 0
		})
	case "time", "":
		sort.SliceStable(sessions, func(i, j int) bool {
			if descending {
				return sessions[i].LastActivity.After(sessions[j].LastActivity)
			}
			return sessions[i].LastActivity.Before(sessions[j].LastActivity)
		})
	}
}
