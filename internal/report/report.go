// Package report renders runs for the terminal.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/studiowebux/taskload/internal/analytics"
	"github.com/studiowebux/taskload/internal/check"
	"github.com/studiowebux/taskload/internal/executor"
	"github.com/studiowebux/taskload/internal/stresstest"
)

const (
	markPass = "✓"
	markFail = "✗"
)

// Run renders a finished run: status, checks grouped as they were
// recorded, iteration counters, latency and thresholds
func Run(run *stresstest.Run) string {
	var content strings.Builder

	content.WriteString(styleTitle.Render(run.Name) + "\n")
	content.WriteString(styleSubtle.Render("Target: ") + run.BaseURL + "\n")
	content.WriteString(styleSubtle.Render("Status: ") + statusStyle(run.Status).Render(run.Status) + "\n")
	content.WriteString(styleSubtle.Render("Started: ") + run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		content.WriteString(styleSubtle.Render("  Duration: ") + formatDuration(run.CompletedAt.Sub(run.StartedAt)))
	}
	content.WriteString("\n\n")

	content.WriteString(renderChecks(run.Checks))

	content.WriteString(styleTitle.Render("Iterations") + "\n")
	content.WriteString(fmt.Sprintf("VUs:          %d\n", run.VUs))
	content.WriteString(fmt.Sprintf("Started:      %d\n", run.IterationsStarted))
	content.WriteString(fmt.Sprintf("Completed:    %d\n", run.IterationsCompleted))
	errLine := fmt.Sprintf("Aborted:      %d", run.IterationErrors)
	if run.IterationErrors > 0 {
		errLine = styleError.Render(errLine)
	}
	content.WriteString(errLine + "\n")
	totalChecks := run.ChecksPassed + run.ChecksFailed
	if totalChecks > 0 {
		content.WriteString(fmt.Sprintf("Checks:       %.2f%% (%d/%d)\n",
			float64(run.ChecksPassed)/float64(totalChecks)*100, run.ChecksPassed, totalChecks))
	}
	content.WriteString("\n")

	content.WriteString(styleTitle.Render("Latency") + "\n")
	content.WriteString(fmt.Sprintf("Iteration:  avg=%.0fms min=%dms max=%dms p50=%dms p95=%dms p99=%dms\n",
		run.AvgDurationMs, run.MinDurationMs, run.MaxDurationMs,
		run.P50DurationMs, run.P95DurationMs, run.P99DurationMs))
	content.WriteString(fmt.Sprintf("HTTP:       reqs=%d p95=%dms\n", run.HTTPRequests, run.HTTPReqP95Ms))
	content.WriteString(renderRequests(run.Requests))

	if len(run.Thresholds) > 0 {
		content.WriteString("\n" + styleTitle.Render("Thresholds") + "\n")
		for _, t := range run.Thresholds {
			line := markPass + " " + t.Expression
			style := styleSuccess
			if !t.Passed {
				line = markFail + " " + t.Expression
				style = styleError
				if t.Error != "" {
					line += styleSubtle.Render(" (" + t.Error + ")")
				}
			}
			content.WriteString(style.Render(line) + "\n")
		}
	}

	return styleBox.Render(strings.TrimRight(content.String(), "\n"))
}

// renderChecks prints checks under their group headings, indenting one
// level per group segment
func renderChecks(checks []*stresstest.CheckAggregate) string {
	if len(checks) == 0 {
		return ""
	}

	var content strings.Builder
	content.WriteString(styleTitle.Render("Checks") + "\n")

	var previous []string
	for _, c := range checks {
		groups := splitGroup(c.Group)
		common := 0
		for common < len(previous) && common < len(groups) && previous[common] == groups[common] {
			common++
		}
		for i := common; i < len(groups); i++ {
			content.WriteString(strings.Repeat("  ", i) + "█ " + groups[i] + "\n")
		}
		previous = groups

		indent := strings.Repeat("  ", len(groups))
		if c.Fails == 0 {
			content.WriteString(indent + styleSuccess.Render(markPass+" "+c.Name) + "\n")
			continue
		}
		line := fmt.Sprintf("%s %s  %.1f%% (%d/%d)", markFail, c.Name, c.Rate()*100, c.Passes, c.Passes+c.Fails)
		content.WriteString(indent + styleError.Render(line) + "\n")
		if c.LastDetail != "" {
			content.WriteString(indent + "  " + styleSubtle.Render(c.LastDetail) + "\n")
		}
	}
	content.WriteString("\n")
	return content.String()
}

// renderRequests prints one latency line per scenario request
func renderRequests(requests []*analytics.Stats) string {
	if len(requests) == 0 {
		return ""
	}

	var content strings.Builder
	for _, r := range requests {
		line := fmt.Sprintf("  %-15s %-6s calls=%d avg=%.0fms p95=%dms max=%dms recv=%s status=%s",
			r.Request, r.Method, r.TotalCalls, r.AvgDurationMs, r.P95DurationMs, r.MaxDurationMs,
			executor.FormatSize(r.TotalRespSize), formatStatusCodes(r.StatusCodes))
		if r.NetworkErrors > 0 {
			line = styleError.Render(line + fmt.Sprintf(" network_errors=%d", r.NetworkErrors))
		}
		content.WriteString(line + "\n")
	}
	return content.String()
}

// formatStatusCodes renders codes in ascending order, e.g. 201:10,500:2
func formatStatusCodes(codes map[int]int) string {
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)

	parts := make([]string, 0, len(keys))
	for _, code := range keys {
		parts = append(parts, fmt.Sprintf("%d:%d", code, codes[code]))
	}
	return strings.Join(parts, ",")
}

func splitGroup(group string) []string {
	if group == "" {
		return nil
	}
	return strings.Split(group, check.GroupSeparator)
}

// Runs renders stored runs, most recent first
func Runs(runs []*stresstest.Run) string {
	if len(runs) == 0 {
		return styleSubtle.Render("No runs found.")
	}

	var content strings.Builder
	content.WriteString(styleTitle.Render(fmt.Sprintf("%-5s %-6s %-16s %-10s %6s %8s %8s  %s",
		"ID", "STATUS", "STARTED", "VUS/ITER", "ABORT", "CHECKS", "P95", "NAME")) + "\n")

	for _, run := range runs {
		checks := "-"
		if total := run.ChecksPassed + run.ChecksFailed; total > 0 {
			checks = fmt.Sprintf("%.1f%%", float64(run.ChecksPassed)/float64(total)*100)
		}
		line := fmt.Sprintf("%-5d %-6s %-16s %-10s %6d %8s %8s  %s",
			run.ID,
			statusIcon(run.Status),
			run.StartedAt.Format("2006-01-02 15:04"),
			fmt.Sprintf("%d/%d", run.VUs, run.IterationsCompleted),
			run.IterationErrors,
			checks,
			fmt.Sprintf("%dms", run.P95DurationMs),
			run.Name)
		content.WriteString(statusStyle(run.Status).Render(line) + "\n")
	}
	return strings.TrimRight(content.String(), "\n")
}

// Progress renders a one-line live view of a running executor
func Progress(stats *stresstest.Stats, elapsed time.Duration) string {
	done := fmt.Sprintf("%d", stats.CompletedIterations)
	if stats.TotalIterations > 0 {
		done = fmt.Sprintf("%d/%d (%.0f%%)", stats.CompletedIterations, stats.TotalIterations, stats.Progress())
	}
	line := fmt.Sprintf("%s  iterations %s  active %d  aborted %d  checks %.1f%%  p95 %dms",
		formatDuration(elapsed), done, stats.ActiveVUs, stats.ErrorCount, stats.CheckRate()*100, stats.P95())
	if stats.ErrorCount > 0 {
		return styleWarning.Render(line)
	}
	return styleSubtle.Render(line)
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case stresstest.StatusCompleted:
		return styleSuccess
	case stresstest.StatusFailed:
		return styleError
	case stresstest.StatusCancelled:
		return styleWarning
	default:
		return styleSubtle
	}
}

func statusIcon(status string) string {
	switch status {
	case stresstest.StatusFailed:
		return "ERR"
	case stresstest.StatusCancelled:
		return "STOP"
	case stresstest.StatusRunning:
		return "RUN"
	default:
		return "OK"
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
