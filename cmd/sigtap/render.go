package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/schollz/progressbar/v3"

	"github.com/JonMunkholm/sigtap/internal/core"
)

// Colors
var (
	accent  = lipgloss.Color("#3B82F6")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#E5A50A")
	failure = lipgloss.Color("#E01B24")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warning)
	failureStyle = lipgloss.NewStyle().Foreground(failure).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// progressReporter draws one progress bar per table from importer events.
type progressReporter struct {
	out   io.Writer
	quiet bool

	mu    sync.Mutex
	table string
	bar   *progressbar.ProgressBar
}

func newProgressReporter(out io.Writer, quiet bool) *progressReporter {
	return &progressReporter{out: out, quiet: quiet}
}

// Update is the importer's progress callback.
func (p *progressReporter) Update(ev core.ImportProgress) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Phase {
	case core.PhaseImporting:
		if ev.Table != p.table {
			p.finishBar()
			p.table = ev.Table
			if ev.TotalLines > 0 {
				p.bar = newBar(p.out, ev.TotalLines, ev.Table)
			}
		}
		if p.bar != nil {
			p.bar.Set(ev.LinesProcessed)
		}
	case core.PhaseComplete, core.PhaseFailed, core.PhaseCancelled:
		if ev.Table != "" && ev.Table == p.table {
			p.finishBar()
		}
	}
}

// Finish closes any bar left open by an interrupted run.
func (p *progressReporter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishBar()
}

func (p *progressReporter) finishBar() {
	if p.bar != nil {
		p.bar.Finish()
	}
	p.bar = nil
	p.table = ""
}

func newBar(out io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(fmt.Sprintf("%-28s", description)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
	)
}

// renderReport renders the per-table summary of a run.
func renderReport(report core.RunReport) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("TABLE", "LINES", "WRITTEN", "FAILED", "SKIPPED", "TIME", "STATUS").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, res := range report.Results {
		t.Row(
			res.Table,
			strconv.Itoa(res.TotalLines),
			strconv.Itoa(res.Succeeded),
			strconv.Itoa(res.Failed),
			strconv.Itoa(res.Skipped),
			res.Elapsed.Round(time.Millisecond).String(),
			resultStatus(res),
		)
	}

	succeeded, failed := report.Totals()
	summary := fmt.Sprintf("%s  %d tables, %d rows written, %d failed in %s",
		outcomeLabel(report.Outcome),
		len(report.Results), succeeded, failed,
		report.Elapsed.Round(time.Millisecond))

	return t.String() + "\n" + summary
}

func resultStatus(res core.ImportResult) string {
	switch {
	case res.Cancelled:
		return warningStyle.Render("cancelled")
	case res.FatalError != "":
		return failureStyle.Render("failed: " + res.FatalError)
	case res.Failed > 0:
		return warningStyle.Render("errors: " + formatCounts(res.ErrorCounts))
	default:
		return successStyle.Render("ok")
	}
}

func outcomeLabel(outcome core.RunOutcome) string {
	switch outcome {
	case core.OutcomeCompleted:
		return successStyle.Render(string(outcome))
	case core.OutcomeAbortedMaxErrors:
		return failureStyle.Render(string(outcome))
	default:
		return warningStyle.Render(string(outcome))
	}
}

// formatCounts renders error counts as "category=n" pairs, sorted.
func formatCounts(counts map[core.ErrorCategory]int) string {
	parts := make([]string, 0, len(counts))
	for cat, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", cat, n))
	}
	slices.Sort(parts)
	return strings.Join(parts, " ")
}

// renderTables renders discovered tables in import order.
func renderTables(tables []*core.TableMetadata, missing []string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("#", "PRIORITY", "TABLE", "COLUMNS", "PRIMARY KEY").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for i, meta := range tables {
		t.Row(
			strconv.Itoa(i+1),
			strconv.Itoa(meta.Priority),
			meta.Name,
			strconv.Itoa(len(meta.Columns)),
			strings.Join(meta.PrimaryKeyColumns(), ", "),
		)
	}

	out := t.String()
	if len(missing) > 0 {
		out += "\n" + warningStyle.Render("missing mandatory tables: "+strings.Join(missing, ", "))
	}
	return out
}
