package ui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FFFF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(lipgloss.Color("#39FF14"))
	pausedStyle = cellStyle.Foreground(lipgloss.Color("#FFFF00"))
	failStyle   = cellStyle.Foreground(lipgloss.Color("#FF10F0"))
)

// RunRow is one finished job in a run summary
type RunRow struct {
	Job       string
	State     string
	Processed int64
	Line      int64
	Cursor    string
	Duration  time.Duration
	Err       string
}

// StatusRow is the stored position of one job
type StatusRow struct {
	Store     string
	Job       string
	Line      int64
	Committed int64
	Cursor    string
	Updated   time.Time
}

// RenderRuns formats a run summary table
func RenderRuns(rows []RunRow) string {
	const stateCol = 1
	body := make([][]string, 0, len(rows))
	for _, r := range rows {
		body = append(body, []string{
			r.Job, r.State,
			strconv.FormatInt(r.Processed, 10),
			strconv.FormatInt(r.Line, 10),
			orDash(r.Cursor),
			FormatDuration(r.Duration),
			orDash(r.Err),
		})
	}

	return render([]string{"JOB", "STATE", "PROCESSED", "LINE", "CURSOR", "TIME", "ERROR"}, body,
		func(row, col int) lipgloss.Style {
			if col != stateCol || row < 0 || row >= len(rows) {
				return cellStyle
			}
			switch rows[row].State {
			case "EXHAUSTED":
				return okStyle
			case "ABORTED":
				return failStyle
			default:
				return pausedStyle
			}
		})
}

// RenderStatus formats stored checkpoints
func RenderStatus(rows []StatusRow) string {
	body := make([][]string, 0, len(rows))
	for _, r := range rows {
		updated := "-"
		if !r.Updated.IsZero() {
			updated = r.Updated.Local().Format(time.DateTime)
		}
		body = append(body, []string{
			r.Store, r.Job,
			strconv.FormatInt(r.Line, 10),
			strconv.FormatInt(r.Committed, 10),
			orDash(r.Cursor),
			updated,
		})
	}
	return render([]string{"STORE", "JOB", "LINE", "COMMITTED", "CURSOR", "UPDATED"}, body,
		func(int, int) lipgloss.Style { return cellStyle })
}

// PrintRuns prints a run summary
func PrintRuns(rows []RunRow) {
	fmt.Fprintln(writer(false), RenderRuns(rows))
}

// PrintStatus prints stored checkpoints
func PrintStatus(rows []StatusRow) {
	fmt.Fprintln(writer(false), RenderStatus(rows))
}

func render(headers []string, rows [][]string, style func(row, col int) lipgloss.Style) string {
	mu.Lock()
	on := colored
	mu.Unlock()

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if !on {
				return cellStyle
			}
			if row == table.HeaderRow {
				return headerStyle
			}
			return style(row, col)
		})
	return t.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
