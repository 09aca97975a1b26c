// Package report renders completed scenario runs into the pipeline's
// artifacts: a markdown report (also rendered to HTML) and an Excel
// workbook with one sheet per scenario.
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"falseneg/domain/scenario"
	"falseneg/internal/errors"
)

// MarkdownWriter renders the per-scenario tables and diagnostics.
type MarkdownWriter struct {
	dir string
}

// NewMarkdownWriter writes report.md and report.html under dir.
func NewMarkdownWriter(dir string) *MarkdownWriter {
	return &MarkdownWriter{dir: dir}
}

// Write emits the markdown and HTML reports. Values are percentages
// rounded to the nearest integer for display.
func (w *MarkdownWriter) Write(results []*scenario.Result, failures map[string]error) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return errors.Wrap(err, "creating report directory")
	}
	md := Render(results, failures)

	mdPath := filepath.Join(w.dir, "report.md")
	if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
		return errors.Wrap(err, "writing markdown report")
	}

	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.CompletePage})
	rendered := markdown.ToHTML([]byte(md), p, renderer)

	htmlPath := filepath.Join(w.dir, "report.html")
	if err := os.WriteFile(htmlPath, rendered, 0o644); err != nil {
		return errors.Wrap(err, "writing html report")
	}
	return nil
}

// Render builds the report body. Exposed separately so tests can inspect
// the output without touching the filesystem.
func Render(results []*scenario.Result, failures map[string]error) string {
	var b strings.Builder
	b.WriteString("# Probability of infection after a negative RT-PCR test\n\n")
	fmt.Fprintf(&b, "Generated %s. Posterior medians with 95%% credible intervals, by day since exposure.\n\n",
		time.Now().UTC().Format(time.RFC3339))

	for _, r := range results {
		fmt.Fprintf(&b, "## %s\n\n", r.Label)
		fmt.Fprintf(&b, "Run `%s`: specificity %.0f%%, incubation %d days, attack-rate scale %.1fx.\n\n",
			r.RunID, r.Hyper.Specificity*100, r.Hyper.Incubation, r.Hyper.AttackScale)
		fmt.Fprintf(&b, "Posterior attack rate: **%s**.\n\n", pct(r.AttackRate))

		b.WriteString("| Day | False-negative rate | False-omission rate | Relative risk | Absolute risk difference |\n")
		b.WriteString("|----:|--------------------:|--------------------:|--------------:|-------------------------:|\n")
		for _, d := range r.Days {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				d.Day, pct(d.FalseNegativeRate), pct(d.FalseOmissionRate), pct(d.RelativeRisk), pct(d.AbsoluteRiskDiff))
		}
		b.WriteString("\n")
		writeDiagnostics(&b, r.Diagnostics)
	}

	if len(failures) > 0 {
		b.WriteString("## Failed scenarios\n\n")
		labels := make([]string, 0, len(failures))
		for l := range failures {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			fmt.Fprintf(&b, "- **%s**: %v\n", l, failures[l])
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeDiagnostics(b *strings.Builder, d scenario.Diagnostics) {
	status := "converged"
	if !d.Converged {
		status = "NOT CONVERGED (provisional result)"
	}
	fmt.Fprintf(b, "Diagnostics: %s. Split R-hat %.3f, min ESS %.0f, acceptance %.2f, mean tree depth %.1f, elpd_loo %.1f (p_loo %.1f).\n",
		status, d.MaxSplitRHat, d.MinESS, d.AcceptanceRate, d.MeanTreeDepth, d.ElpdLOO, d.PLOO)
	for _, warn := range d.Warnings {
		fmt.Fprintf(b, "- warning: %s\n", warn)
	}
	b.WriteString("\n")
}

// pct formats an interval as rounded percentages. Undefined intervals
// (relative risk with a zero attack rate) render as n/a.
func pct(iv scenario.Interval) string {
	if !iv.Defined || math.IsNaN(iv.Median) {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%% (%.0f%%, %.0f%%)", iv.Median*100, iv.Lo*100, iv.Hi*100)
}
