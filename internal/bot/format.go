package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"qbt_manager/internal/app"
	"qbt_manager/internal/model"
)

// FormatSummary formats the result of a run.
func FormatSummary(sum app.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run finished in %s", sum.Duration().Round(100*time.Millisecond))
	if sum.DryRun {
		b.WriteString(" (dry run, nothing was changed)")
	}
	b.WriteString("\n\n")

	if sum.CleanupErr != nil {
		fmt.Fprintf(&b, "Cleanup skipped: %v\n", sum.CleanupErr)
	} else {
		c := sum.Cleanup
		fmt.Fprintf(&b, "Cleanup: %d torrents, %d kept, %d removed", c.Torrents, c.Kept, len(c.Removed))
		if c.Ignored > 0 {
			fmt.Fprintf(&b, ", %d ignored", c.Ignored)
		}
		if c.LimitUpdates > 0 {
			fmt.Fprintf(&b, ", %d limit updates", c.LimitUpdates)
		}
		b.WriteString("\n")
		for _, r := range c.Removed {
			fmt.Fprintf(&b, " - %s [%s, %s]\n", r.Name, r.Action, r.Reason)
		}
		if c.Errors > 0 {
			fmt.Fprintf(&b, "%d client errors, see the log\n", c.Errors)
		}
	}

	in := sum.Intake
	if in.Feeds > 0 || sum.IntakeErr != nil {
		fmt.Fprintf(&b, "\nRSS: %d feeds, %d items, %d added, %d already downloaded\n",
			in.Feeds, in.Items, in.Submitted, in.Duplicates)
		for _, it := range in.Added {
			fmt.Fprintf(&b, " - %s\n", it.Title)
		}
		if errs := in.FeedErrors + in.SubmitErrors; errs > 0 {
			fmt.Fprintf(&b, "%d feed errors, see the log\n", errs)
		}
		if sum.IntakeErr != nil {
			fmt.Fprintf(&b, "History not saved: %v\n", sum.IntakeErr)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatStatus formats the /status reply.
func FormatStatus(last app.Summary, ok bool, schedule string, now time.Time) string {
	var b strings.Builder
	if schedule != "" {
		fmt.Fprintf(&b, "Schedule: %s\n", schedule)
	}
	if !ok {
		b.WriteString("No run since the service started.")
		return b.String()
	}
	fmt.Fprintf(&b, "Last run: %s (%s)\n", humanize.RelTime(last.FinishedAt, now, "ago", "from now"),
		last.FinishedAt.UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Removed: %d, added: %d", len(last.Cleanup.Removed), last.Intake.Submitted)
	if err := last.Err(); err != nil {
		fmt.Fprintf(&b, "\nErrors: %v", err)
	}
	return b.String()
}

// FormatHistory formats one page of download history. offset is the
// position of the first entry and total the size of the history.
func FormatHistory(entries []model.LedgerEntry, offset, total int, now time.Time) string {
	if total == 0 {
		return "Nothing has been downloaded yet."
	}
	if len(entries) == 0 {
		return "No older downloads."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Downloads %d-%d of %d:\n", offset+1, offset+len(entries), total)
	for _, e := range entries {
		title := e.Title
		if title == "" {
			title = e.URL
		}
		fmt.Fprintf(&b, "\n%s\n   %s\n", title, humanize.RelTime(e.FirstSeen, now, "ago", "from now"))
	}
	return b.String()
}
