package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/soporteakasiapro1-art/pi-island/internal/pi"
	"github.com/soporteakasiapro1-art/pi-island/internal/transcript"
)

const (
	defaultWidth    = 100
	maxThinkingRune = 500
)

var (
	accentColor = lipgloss.Color("#9d7aff")
	mutedColor  = lipgloss.Color("#666666")

	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	mutedStyle     = lipgloss.NewStyle().Foreground(mutedColor)
	userLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5fafff"))
	assistantLabel = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	thinkingLabel  = lipgloss.NewStyle().Italic(true).Foreground(mutedColor)
	toolLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#d7af5f"))
	errorLabel     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f"))

	userBlockStyle      = lipgloss.NewStyle().PaddingLeft(2)
	assistantBlockStyle = lipgloss.NewStyle().PaddingLeft(2)
	thinkingBlockStyle  = lipgloss.NewStyle().PaddingLeft(2).Foreground(mutedColor)
	toolBlockStyle      = lipgloss.NewStyle().PaddingLeft(2).Foreground(mutedColor)
)

// Renderer writes transcripts to a terminal or a plain stream. Styling and
// markdown rendering are only applied when the output is a terminal.
type Renderer struct {
	w      io.Writer
	width  int
	styled bool
	md     *glamour.TermRenderer
}

// NewRenderer creates a renderer for w, detecting whether w is a terminal.
// Raw forces plain output.
func NewRenderer(w io.Writer, raw bool) *Renderer {
	r := &Renderer{w: w, width: defaultWidth}
	if f, ok := w.(*os.File); ok && !raw && term.IsTerminal(int(f.Fd())) {
		r.styled = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			r.width = width
		}
		contentWidth := max(20, r.width-4)
		if md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(contentWidth),
		); err == nil {
			r.md = md
		}
	}
	return r
}

// Styled reports whether output is decorated.
func (r *Renderer) Styled() bool {
	return r.styled
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

// RenderTranscript writes a header and every message of snap.
func (r *Renderer) RenderTranscript(snap transcript.Snapshot) error {
	header := snap.ID
	if snap.Cwd != "" {
		header += "  " + snap.Cwd
	}
	fmt.Fprintln(r.w, r.style(headerStyle, header))

	var meta []string
	if snap.Model != nil {
		meta = append(meta, snap.Model.String())
	}
	if snap.ThinkingLevel != "" {
		meta = append(meta, "thinking: "+snap.ThinkingLevel)
	}
	meta = append(meta, fmt.Sprintf("%d messages", len(snap.Messages)))
	if snap.Skipped > 0 {
		meta = append(meta, fmt.Sprintf("%d unreadable lines", snap.Skipped))
	}
	fmt.Fprintln(r.w, r.style(mutedStyle, strings.Join(meta, " · ")))
	fmt.Fprintln(r.w)

	for _, m := range snap.Messages {
		if s := r.renderMessage(m); s != "" {
			fmt.Fprintln(r.w, s)
			fmt.Fprintln(r.w)
		}
	}
	return nil
}

func (r *Renderer) renderMessage(m pi.Message) string {
	switch m.Role {
	case pi.RoleUser:
		if m.Content == "" {
			return ""
		}
		return r.style(userLabel, "User") + "\n" + r.block(userBlockStyle, m.Content)

	case pi.RoleAssistant:
		var parts []string
		if m.Thinking != "" {
			text := m.Thinking
			if runes := []rune(text); len(runes) > maxThinkingRune {
				text = string(runes[:maxThinkingRune]) + "..."
			}
			parts = append(parts, r.style(thinkingLabel, "Thinking")+"\n"+r.block(thinkingBlockStyle, text))
		}
		if m.Content != "" {
			text := m.Content
			if r.md != nil {
				if rendered, err := r.md.Render(text); err == nil {
					text = strings.TrimSpace(rendered)
				}
			}
			parts = append(parts, r.style(assistantLabel, "Assistant")+"\n"+r.block(assistantBlockStyle, text))
		}
		return strings.Join(parts, "\n")

	case pi.RoleTool:
		label := r.style(toolLabel, "Tool: "+m.ToolName)
		if m.ToolStatus == pi.ToolError {
			label += " " + r.style(errorLabel, "(error)")
		} else if m.ToolStatus == pi.ToolRunning {
			label += " " + r.style(mutedStyle, "(running)")
		}
		var body []string
		if len(m.ToolArgs) > 0 {
			body = append(body, string(m.ToolArgs))
		}
		if m.ToolResult != "" {
			body = append(body, m.ToolResult)
		}
		if len(body) == 0 {
			return label
		}
		return label + "\n" + r.block(toolBlockStyle, strings.Join(body, "\n"))

	default:
		return ""
	}
}

func (r *Renderer) block(s lipgloss.Style, text string) string {
	if !r.styled {
		return indent(text, "  ")
	}
	return s.Width(max(20, r.width-2)).Render(text)
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
