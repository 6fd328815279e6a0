package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soporteakasiapro1-art/pi-island/internal/cli"
	"github.com/soporteakasiapro1-art/pi-island/internal/transcript"
)

// Sessions command flags
var (
	sessionSortBy   string
	sessionSortAsc  bool
	sessionCwd      string
	sessionLimit    int
	sessionTemplate string
	sessionJSON     bool
	sessionViewRaw  bool // --raw flag for undecorated output
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and view transcripts on disk",
	Long: `List and view pi session transcripts without starting any agent.

Sessions are read from the transcript root (--dir, or sessions.dir in
~/.pi-island/config.json, default ~/.pi/agent/sessions).

Examples:
  pi-island sessions list
  pi-island sessions list --cwd "$PWD" -n 5
  pi-island sessions summary --template '{{range .}}{{.SessionID}}{{"\n"}}{{end}}'
  pi-island sessions view 3f2a9c1e
  pi-island sessions view /path/to/transcript.jsonl --raw`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := loadSessions()
		if err != nil {
			return err
		}
		f := cli.NewSessionsFormatter(cmd.OutOrStdout())
		if sessionJSON {
			return f.FormatJSON(sessions)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions found")
			return nil
		}
		return f.FormatList(sessions)
	},
}

var sessionsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show detailed session information",
	Long: `Show detailed session information through a Go text/template.

` + cli.SessionSummaryTemplateHelp,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := loadSessions()
		if err != nil {
			return err
		}
		return cli.NewSessionsFormatter(cmd.OutOrStdout()).FormatSummary(sessions, sessionTemplate)
	},
}

var sessionsViewCmd = &cobra.Command{
	Use:   "view <session>",
	Short: "Render a session transcript",
	Long: `Render a session transcript to the terminal.

The session can be specified as:
  - Path to a transcript file
  - Session ID, or a unique suffix of at least 4 characters
  - Transcript file name, with or without .jsonl

Output is styled with markdown rendering when stdout is a terminal.
Use --raw for plain text.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap transcript.Snapshot
		if transcript.IsTranscript(args[0]) {
			if s, err := transcript.ParseFile(args[0]); err == nil {
				snap = s
			}
		}
		if snap.Path == "" {
			sessions, err := loadAllSessions()
			if err != nil {
				return err
			}
			if snap, err = cli.ResolveSession(sessions, args[0]); err != nil {
				return err
			}
		}
		return cli.NewRenderer(cmd.OutOrStdout(), sessionViewRaw).RenderTranscript(snap)
	},
}

func init() {
	sessionsListCmd.Flags().BoolVar(&sessionJSON, "json", false, "output as JSON")
	for _, c := range []*cobra.Command{sessionsListCmd, sessionsSummaryCmd} {
		c.Flags().StringVar(&sessionSortBy, "sort", "time", "sort by: name, time")
		c.Flags().BoolVar(&sessionSortAsc, "asc", false, "sort ascending (default: newest first)")
		c.Flags().StringVar(&sessionCwd, "cwd", "", "only sessions started in this directory")
		c.Flags().IntVarP(&sessionLimit, "limit", "n", 0, "show at most n sessions")
	}
	sessionsSummaryCmd.Flags().StringVar(&sessionTemplate, "template", "", "custom Go text/template for output")
	sessionsViewCmd.Flags().BoolVar(&sessionViewRaw, "raw", false, "output raw text without decoration/rendering")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSummaryCmd)
	sessionsCmd.AddCommand(sessionsViewCmd)
}

func loadAllSessions() ([]transcript.Snapshot, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dir, err := cfg.Sessions.ResolvedDir()
	if err != nil {
		return nil, err
	}
	return cli.LoadSessions(dir)
}

func loadSessions() ([]transcript.Snapshot, error) {
	sessions, err := loadAllSessions()
	if err != nil {
		return nil, err
	}
	return cli.Filter(sessions, cli.SessionListOptions{
		SortBy:     sessionSortBy,
		Descending: !sessionSortAsc,
		Cwd:        sessionCwd,
		Limit:      sessionLimit,
	}), nil
}
