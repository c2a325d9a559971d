package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"photo-compressor-go/internal/statistics"
)

var (
	ColorInk     = lipgloss.Color("#E5E9F0")
	ColorDim     = lipgloss.Color("#7A8291")
	ColorAccent  = lipgloss.Color("#88C0D0")
	ColorSuccess = lipgloss.Color("#A3BE8C")
	ColorWarn    = lipgloss.Color("#EBCB8B")
)

type SummaryRow struct {
	Label string
	Value string
}

// BatchRows returns the summary rows of a finished batch.
func BatchRows(stats *statistics.Statistics) []SummaryRow {
	original := stats.BytesOriginal
	compressed := stats.BytesCompressed
	return []SummaryRow{
		{Label: "Images compressed", Value: fmt.Sprintf("%d", stats.Succeeded())},
		{Label: "Failed", Value: fmt.Sprintf("%d", stats.Failed())},
		{Label: "Original size", Value: statistics.FormatBytes(original)},
		{Label: "Compressed size", Value: statistics.FormatBytes(compressed)},
		{Label: "Saved", Value: fmt.Sprintf("%d%%", statistics.CompressionRatio(original, compressed))},
		{Label: "Peak concurrency", Value: fmt.Sprintf("%d", stats.Peak())},
		{Label: "Duration", Value: stats.Duration.Round(time.Millisecond).String()},
	}
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		labelWidth = max(labelWidth, len(row.Label))
		valueWidth = max(valueWidth, len(row.Value))
	}

	hline := strings.Repeat("-", labelWidth+valueWidth+3)
	lines := []string{hline}
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("%s | %s",
			labelStyle.Render(padRight(row.Label, labelWidth)),
			valueStyle.Render(padRight(row.Value, valueWidth))))
	}
	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

var valueStyle = lipgloss.NewStyle().Foreground(ColorInk).Bold(true)
