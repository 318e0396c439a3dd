package pipeline

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/me/foamrun/pkg/model"
)

// Counts returns how many stages succeeded, failed and were skipped.
func (r *Report) Counts() (succeeded, failed, skipped int) {
	for _, s := range r.Stages {
		switch s.Status {
		case model.StageStatusSuccess:
			succeeded++
		case model.StageStatusFailed:
			failed++
		case model.StageStatusSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

// PrintSummary writes a per-stage timing table.
func PrintSummary(w io.Writer, r *Report) {
	if r == nil {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Pipeline Summary ===")
	fmt.Fprintf(w, "Total Duration: %s\n", FormatDuration(r.Elapsed))
	fmt.Fprintln(w)

	width := len("Stage")
	for _, s := range r.Stages {
		if len(s.Name) > width {
			width = len(s.Name)
		}
	}

	fmt.Fprintf(w, "%-*s  %12s  %5s  %s\n", width, "Stage", "Duration", "Runs", "Status")
	fmt.Fprintln(w, strings.Repeat("-", width+36))
	for _, s := range r.Stages {
		icon := "✓"
		switch s.Status {
		case model.StageStatusFailed:
			icon = "✗"
		case model.StageStatusSkipped:
			icon = "○"
		}
		dur := "-"
		if s.Status != model.StageStatusSkipped {
			dur = FormatDuration(s.Duration)
		}
		fmt.Fprintf(w, "%-*s  %12s  %5d  %s %s\n", width, s.Name, dur, s.Invocations, icon, s.Status)
	}

	ok, failed, skipped := r.Counts()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stages: %d completed, %d failed, %d skipped\n", ok, failed, skipped)
}

// FormatDuration renders d the way the summary table does: milliseconds
// under a second, then seconds, minutes and hours.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}
