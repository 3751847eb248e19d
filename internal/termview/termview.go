// Package termview prints analysis results to a terminal: a lipgloss header
// with confidence and likelihood badges, followed by the analysis rendered
// as markdown through glamour.
package termview

import (
	"fmt"
	"io"
	"strings"

	"defectintel/internal/pipeline"
	"defectintel/internal/types"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Badge colors mirror the document palette.
var (
	Red   = lipgloss.Color("#dc2626")
	Amber = lipgloss.Color("#d97706")
	Green = lipgloss.Color("#16a34a")
	Muted = lipgloss.Color("#6e6e6e")
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Background(lipgloss.Color("#101F38")).
			Padding(0, 2).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().Foreground(Muted)

	badgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1).
			Bold(true)
)

// Options configures a View.
type Options struct {
	// Width is the word-wrap width. Zero means 80.
	Width int
	// Style is a glamour style name such as "dark", "light" or "notty".
	// Empty selects the style automatically from the terminal.
	Style string
}

// View renders analyses for the terminal.
type View struct {
	md *glamour.TermRenderer
}

// New creates a view.
func New(opts Options) (*View, error) {
	width := opts.Width
	if width <= 0 {
		width = 80
	}
	style := glamour.WithAutoStyle()
	if opts.Style != "" {
		style = glamour.WithStylePath(opts.Style)
	}
	md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &View{md: md}, nil
}

// TierBadge renders a confidence tier badge (high is green).
func TierBadge(t types.Tier) string {
	return badge(strings.ToUpper(string(t)), tierColor(t, Green, Red))
}

// LikelihoodBadge renders a likelihood badge (high is red).
func LikelihoodBadge(t types.Tier) string {
	return badge(strings.ToUpper(string(t)), tierColor(t, Red, Green))
}

func tierColor(t types.Tier, high, low lipgloss.Color) lipgloss.Color {
	switch t {
	case types.TierHigh:
		return high
	case types.TierLow:
		return low
	default:
		return Amber
	}
}

func badge(text string, bg lipgloss.Color) string {
	return badgeStyle.Background(bg).Render(text)
}

// RenderAnalysis writes the property analysis to w.
func (v *View) RenderAnalysis(w io.Writer, a *pipeline.PropertyAnalysis) error {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("Root Cause Analysis · " + a.PropertyID))
	sb.WriteString("\n")
	sb.WriteString(mutedStyle.Render(fmt.Sprintf("%d defects analyzed · %s",
		a.DefectsAnalyzed, a.Timestamp.Format("2006-01-02 15:04 MST"))))
	sb.WriteString("\n\n")

	if a.Analysis != nil {
		for i, rc := range a.Analysis.RootCauses {
			fmt.Fprintf(&sb, "  %d. %s %s\n", i+1, TierBadge(rc.Confidence), rc.Cause)
		}
	}
	if a.FuturePredictions != nil {
		for _, p := range a.FuturePredictions.Predictions {
			fmt.Fprintf(&sb, "  ↳ %s %s (%s)\n", LikelihoodBadge(p.Likelihood), p.DefectType, p.Timeframe)
		}
	}

	body, err := v.md.Render(Markdown(a))
	if err != nil {
		return fmt.Errorf("failed to render analysis: %w", err)
	}
	sb.WriteString(body)

	if a.PDFReport != nil {
		sb.WriteString(mutedStyle.Render("PDF report: " + *a.PDFReport))
		sb.WriteString("\n")
	}
	_, err = io.WriteString(w, sb.String())
	return err
}

// Markdown formats a property analysis as markdown.
func Markdown(a *pipeline.PropertyAnalysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Property %s\n\n", a.PropertyID)

	sb.WriteString("## Identified Root Causes\n\n")
	if a.Analysis == nil || len(a.Analysis.RootCauses) == 0 {
		sb.WriteString("No root causes were identified.\n\n")
	} else {
		for i, rc := range a.Analysis.RootCauses {
			fmt.Fprintf(&sb, "%d. **%s** (confidence: %s)\n", i+1, rc.Cause, rc.Confidence)
			if rc.Reasoning != "" {
				fmt.Fprintf(&sb, "   %s\n", rc.Reasoning)
			}
			if len(rc.AffectedSystems) > 0 {
				fmt.Fprintf(&sb, "   *Affected systems:* %s\n", strings.Join(rc.AffectedSystems, ", "))
			}
		}
		sb.WriteString("\n")
	}

	if a.Analysis != nil && len(a.Analysis.Recommendations) > 0 {
		sb.WriteString("## Immediate Recommendations\n\n")
		for _, rec := range a.Analysis.Recommendations {
			fmt.Fprintf(&sb, "- %s\n", rec)
		}
		sb.WriteString("\n")
	}

	if a.FuturePredictions != nil && len(a.FuturePredictions.Predictions) > 0 {
		sb.WriteString("## Future Defect Predictions\n\n")
		sb.WriteString("| Defect | Likelihood | Timeframe | Related root cause |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, p := range a.FuturePredictions.Predictions {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n",
				cell(p.DefectType), p.Likelihood, cell(p.Timeframe), cell(p.RelatedRootCause))
		}
		sb.WriteString("\n")
		for _, p := range a.FuturePredictions.Predictions {
			if len(p.PreventiveMeasures) == 0 {
				continue
			}
			fmt.Fprintf(&sb, "**Preventing %s:**\n\n", p.DefectType)
			for _, m := range p.PreventiveMeasures {
				fmt.Fprintf(&sb, "- %s\n", m)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// cell escapes table separators.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
