package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/studio1767/filemon/internal/item"
	"github.com/studio1767/filemon/internal/queue"
)

type snapshotter interface {
	Snapshot() []queue.Row
	Running() int
}

// showStatus renders the visible rows every interval until ctx is done.
func showStatus(ctx context.Context, out io.Writer, mgr snapshotter, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprintln(out, renderStatus(mgr.Snapshot(), mgr.Running(), time.Now()))
		}
	}
}

func renderStatus(rows []queue.Row, running int, now time.Time) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"Item", "Status", "Progress", "Saved", "Stages", "Message"})

	counts := make(map[item.Status]int)
	for _, row := range rows {
		counts[row.Status]++

		status := row.Status.String()
		if row.Requeue {
			status += "*"
		}
		saved := ""
		if !row.Saved.IsZero() {
			saved = humanize.RelTime(row.Saved, now, "ago", "from now")
		}
		tw.AppendRow(table.Row{
			row.Rel,
			status,
			fmt.Sprintf("%.0f%%", row.Progress),
			saved,
			stageSummary(row.Stages),
			row.Message,
		})
	}

	var summary []string
	for _, status := range item.AllStatuses() {
		if n := counts[status]; n > 0 {
			summary = append(summary, fmt.Sprintf("%s %d", status, n))
		}
	}
	tw.AppendFooter(table.Row{
		fmt.Sprintf("%d items", len(rows)),
		fmt.Sprintf("%d running", running),
		"", "", "",
		strings.Join(summary, ", "),
	})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// stageSummary shows one letter per stage: . not started, > running,
// + success, x failure, - skipped.
func stageSummary(stages []queue.StageRow) string {
	var sb strings.Builder
	for _, sr := range stages {
		switch sr.Status {
		case item.Running:
			sb.WriteByte('>')
		case item.Success:
			sb.WriteByte('+')
		case item.Failure:
			sb.WriteByte('x')
		case item.Skipped:
			sb.WriteByte('-')
		default:
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
