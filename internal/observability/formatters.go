// Package observability provides logging setup and formatted output for the CLI.
package observability

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/jonathan/auto-analyzer/internal/agents"
	"github.com/jonathan/auto-analyzer/internal/pipeline"
	"github.com/jonathan/auto-analyzer/internal/workspace"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxCellWidth truncates wide preview cells
	maxCellWidth = 24
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintStage outputs a one-box summary of a finished stage.
func (p *Printer) PrintStage(result pipeline.StageResult) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Agent:      %s\n", result.Agent))
	sb.WriteString(fmt.Sprintf("Status:     %s\n", result.Status))
	if result.Reason != "" {
		sb.WriteString(fmt.Sprintf("Ended by:   %s\n", result.Reason))
	}
	sb.WriteString(fmt.Sprintf("Replies:    %d (%d executed)\n", result.Replies, result.Executions))
	sb.WriteString(fmt.Sprintf("Duration:   %s\n", result.Duration.Round(time.Millisecond)))

	if len(result.Artifacts) > 0 {
		sb.WriteString("\nArtifacts:\n")
		for _, a := range result.Artifacts {
			sb.WriteString(fmt.Sprintf("  • %s\n", a))
		}
	}
	if result.Error != "" {
		sb.WriteString(fmt.Sprintf("\n⚠️  %s\n", result.Error))
	}

	p.printBox(strings.ToUpper(string(result.Stage))+" STAGE", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRunSummary outputs a table of every stage in the run.
func (p *Printer) PrintRunSummary(run *pipeline.RunResult) {
	if run == nil {
		return
	}

	fmt.Fprintf(p.out, "Run %s: %s in %s\n", run.ID, run.State, run.Duration().Round(time.Millisecond))

	table := newTable(p.out)
	table.SetHeader([]string{"Stage", "Agent", "Status", "Replies", "Artifacts", "Duration"})
	for _, stage := range agents.Stages {
		result, ok := run.Stage(stage)
		if !ok {
			table.Append([]string{string(stage), "", "skipped", "", "", ""})
			continue
		}
		table.Append([]string{
			string(result.Stage),
			result.Agent,
			string(result.Status),
			fmt.Sprintf("%d", result.Replies),
			fmt.Sprintf("%d", len(result.Artifacts)),
			result.Duration.Round(time.Millisecond).String(),
		})
	}
	table.Render()
}

// PrintTable renders a CSV preview.
func (p *Printer) PrintTable(title string, t *workspace.Table) {
	if t == nil || len(t.Header) == 0 {
		return
	}

	fmt.Fprintf(p.out, "\n%s\n", title)
	table := newTable(p.out)
	table.SetHeader(t.Header)
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = truncate(cell, maxCellWidth)
		}
		table.Append(cells)
	}
	table.Render()
	if t.Truncated {
		fmt.Fprintf(p.out, "(first %d rows)\n", len(t.Rows))
	}
}

// PrintText prints a text artifact in a box.
func (p *Printer) PrintText(title, text string) {
	p.printBox(title, strings.TrimRight(text, "\n"))
}

// PrintVisuals lists the generated visualization files and where they live.
func (p *Printer) PrintVisuals(layout workspace.Layout, visuals []workspace.Artifact) {
	fmt.Fprintf(p.out, "\nGenerated %d visualization files:\n", len(visuals))
	for _, v := range visuals {
		fmt.Fprintf(p.out, "   - %s\n", v.Name)
	}
	dir, err := filepath.Abs(layout.VisualsPath())
	if err != nil {
		dir = layout.VisualsPath()
	}
	fmt.Fprintf(p.out, "Files saved in: %s\n", dir)
}

// PrintAgents outputs the configured agent definitions.
func (p *Printer) PrintAgents(defs []agents.Definition) {
	table := newTable(p.out)
	table.SetHeader([]string{"Stage", "Name", "Provider", "Model", "Temperature", "Description"})
	for _, d := range defs {
		table.Append([]string{
			string(d.Stage),
			d.Name,
			string(d.Settings.Provider),
			d.Settings.Model,
			fmt.Sprintf("%.2f", d.Settings.Temperature),
			d.Description,
		})
	}
	table.Render()
}

func newTable(out io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	return table
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
