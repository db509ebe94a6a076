// Package console renders session snapshots for a terminal.
package console

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"riskdash/internal/engine"
	"riskdash/internal/workflow"
	"riskdash/pkg/models"
)

const (
	defaultWidth = 100
	defaultLines = 8
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	headerStyle = lipgloss.NewStyle().Bold(true)
	badgeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	recentStyle = lipgloss.NewStyle().Bold(true)
	levelStyles = map[models.RiskLevel]lipgloss.Style{
		models.RiskHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		models.RiskMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		models.RiskLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	}
	bandStyles = map[workflow.Band]lipgloss.Style{
		workflow.BandHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		workflow.BandMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		workflow.BandLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	}
)

// Options configures a Renderer. Zero values pick defaults.
type Options struct {
	Width int
	Lines int
}

// Renderer prints a compact view of a snapshot.
type Renderer struct {
	width int
	lines int
}

// New creates a renderer. A zero width uses the terminal width.
func New(opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = TerminalWidth()
	}
	if opts.Lines <= 0 {
		opts.Lines = defaultLines
	}
	return &Renderer{width: opts.Width, lines: opts.Lines}
}

// TerminalWidth returns the width of stdout, or a default when stdout is
// not a terminal.
func TerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// Truncate cuts s to width display cells.
func Truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// Render draws the snapshot.
func (r *Renderer) Render(s *engine.Snapshot) string {
	if s == nil {
		return ""
	}
	var b strings.Builder

	b.WriteString(titleStyle.Render(r.clip("riskdash")) + "\n")
	if u := s.Workflow.UserContext; u.User != "" {
		b.WriteString(badgeStyle.Render(r.clip(fmt.Sprintf("[%s · %s]", u.User, u.Date))) + "\n")
	}
	status := fmt.Sprintf("phase: %s", s.Workflow.Phase)
	if s.Workflow.StatusText != "" {
		status += "  status: " + s.Workflow.StatusText
	}
	b.WriteString(r.line(status))
	if s.Workflow.Notice != "" {
		b.WriteString(noticeStyle.Render(r.clip("! "+s.Workflow.Notice)) + "\n")
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("Producer log (%d)", len(s.ProducerLog))) + "\n")
	for _, l := range tail(s.ProducerLog, r.lines) {
		text := r.clip(marker(l) + l.Text)
		if st, ok := levelStyles[l.RiskLevel]; ok {
			text = st.Render(text)
		}
		if l.Recent {
			text = recentStyle.Render(text)
		}
		b.WriteString(text + "\n")
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("Messages (%d)", len(s.MessageLog))) + "\n")
	for _, l := range tail(s.MessageLog, r.lines) {
		text := r.clip(marker(l) + strings.Join(strings.Fields(l.Text), " "))
		if l.Recent {
			text = recentStyle.Render(text)
		}
		b.WriteString(text + "\n")
	}

	st := s.RiskStats
	b.WriteString(headerStyle.Render("Risk") + "\n")
	b.WriteString(r.line(fmt.Sprintf("points %d  last %.1f  min %.1f  max %.1f  mean %.1f  zoom %s",
		st.Count, st.Last, st.Min, st.Max, st.Mean, s.Viewport.ZoomLevel)))

	if len(s.Categories) > 0 {
		parts := make([]string, 0, len(s.Categories))
		for _, c := range s.Categories {
			parts = append(parts, fmt.Sprintf("%s %d", c, s.CategoryCounts[c]))
		}
		b.WriteString(headerStyle.Render("High risk") + "\n")
		b.WriteString(r.line(strings.Join(parts, "  ")))
	}

	if len(s.RuleHits) > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("Rule hits (%d)", len(s.RuleHits))) + "\n")
		for _, h := range tailHits(s.RuleHits, r.lines) {
			names := make([]string, 0, len(h.Tags))
			for _, t := range h.Tags {
				names = append(names, t.Name)
			}
			b.WriteString(r.line(fmt.Sprintf("#%d %s %s: %s", h.Index, h.User, h.Activity, strings.Join(names, ", "))))
		}
	}

	if len(s.Emails) > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("Emails (%d)", len(s.Emails))) + "\n")
		for _, e := range s.Emails {
			b.WriteString(r.emailCard(e))
		}
	}
	return b.String()
}

func (r *Renderer) emailCard(e workflow.EmailView) string {
	head := fmt.Sprintf("anomaly %d%%  error %.3f (%s)", e.AnomalyPercent, e.ReconstructionError, e.ErrorBand)
	if e.TopSimilarityPercent != nil {
		head += fmt.Sprintf("  top match %d%%", *e.TopSimilarityPercent)
	}
	head = r.clip(head)
	if st, ok := bandStyles[e.AnomalyBand]; ok {
		head = st.Render(head)
	}
	return head + "\n" + r.line("  "+strings.Join(strings.Fields(e.Text), " "))
}

func (r *Renderer) clip(s string) string {
	return Truncate(s, r.width)
}

func (r *Renderer) line(s string) string {
	return r.clip(s) + "\n"
}

func marker(l engine.LogLine) string {
	if l.Recent {
		return "● "
	}
	return "  "
}

func tail(lines []engine.LogLine, n int) []engine.LogLine {
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

func tailHits(hits []engine.RuleHit, n int) []engine.RuleHit {
	if len(hits) > n {
		return hits[len(hits)-n:]
	}
	return hits
}
