package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/applab-nl/flux-capacitor/internal/errors"
	"github.com/applab-nl/flux-capacitor/internal/orchestrator"
	"github.com/applab-nl/flux-capacitor/internal/state"
)

var (
	primaryColor = lipgloss.Color("#A78BFA")
	mutedColor   = lipgloss.Color("#9CA3AF")
	borderColor  = lipgloss.Color("#6B7280")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)

	statusColors = map[state.SessionStatus]lipgloss.Color{
		state.StatusActive:     lipgloss.Color("#10B981"),
		state.StatusCompleted:  lipgloss.Color("#A78BFA"),
		state.StatusFailed:     lipgloss.Color("#F87171"),
		state.StatusTerminated: lipgloss.Color("#F59E0B"),
		state.StatusUnknown:    mutedColor,
	}
)

// errReported marks an error whose failure body was already printed.
var errReported = errors.New("failure reported")

// IsReported reports whether err was already written to stdout as JSON.
func IsReported(err error) bool {
	return errors.Is(err, errReported)
}

// printer writes command results as JSON or as text, styled when the
// destination is a terminal.
type printer struct {
	w      io.Writer
	json   bool
	styled bool
}

func newPrinter(cmd *cobra.Command) *printer {
	w := cmd.OutOrStdout()
	return &printer{w: w, json: jsonOutput, styled: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Result prints v as JSON in JSON mode and calls text otherwise.
func (p *printer) Result(v any, text func()) error {
	if p.json {
		return p.JSON(v)
	}
	text()
	return nil
}

// Fail renders a handler error. In JSON mode the structured failure goes to
// stdout and the returned error only carries the exit status.
func (p *printer) Fail(err error) error {
	if !p.json {
		return fmt.Errorf("%s: %s", errors.CodeOf(err), errors.MessageOf(err))
	}
	if encErr := p.JSON(orchestrator.NewFailure(err)); encErr != nil {
		return encErr
	}
	return fmt.Errorf("%w: %s", errReported, errors.CodeOf(err))
}

func (p *printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// Field prints an aligned "label: value" line.
func (p *printer) Field(label, value string) {
	if value == "" {
		return
	}
	if p.styled {
		label = headerStyle.Render(label)
	}
	fmt.Fprintf(p.w, "%-14s %s\n", label+":", value)
}

func (p *printer) Muted(s string) string {
	if !p.styled {
		return s
	}
	return mutedStyle.Render(s)
}

func (p *printer) Status(s state.SessionStatus) string {
	if !p.styled {
		return string(s)
	}
	color, ok := statusColors[s]
	if !ok {
		color = mutedColor
	}
	return lipgloss.NewStyle().Foreground(color).Render(string(s))
}

// Table prints rows under headers. Plain output has no borders.
func (p *printer) Table(headers []string, rows [][]string) {
	t := table.New().Headers(headers...).Rows(rows...)
	if p.styled {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle.PaddingRight(1).PaddingLeft(1)
				}
				return lipgloss.NewStyle().PaddingRight(1).PaddingLeft(1)
			})
	} else {
		t = t.Border(lipgloss.HiddenBorder()).
			BorderTop(false).
			BorderBottom(false).
			BorderLeft(false).
			BorderRight(false).
			BorderColumn(false).
			BorderHeader(false).
			StyleFunc(func(int, int) lipgloss.Style { return cellStyle })
	}
	fmt.Fprintln(p.w, t.Render())
}

// truncate shortens s to width visible columns.
func truncate(s string, width int) string {
	if width <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}
