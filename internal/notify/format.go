package notify

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/publicsuffix"

	"qbt_manager/internal/model"
)

// Subjects of the messages sent after each phase.
const (
	CleanupSubject = "[Download Station] Download Cleanup"
	AddedSubject   = "[Download Station] New Downloads"
)

// Removal describes a torrent that was paused or deleted.
type Removal struct {
	Name    string
	State   model.TorrentState
	Tracker string
	Action  model.Action
	Reason  model.Reason
	AddedOn time.Time
}

// CleanupMessage builds the summary of removed torrents, sorted by name.
func CleanupMessage(removed []Removal, now time.Time) Message {
	sorted := make([]Removal, len(removed))
	copy(sorted, removed)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	var b strings.Builder
	b.WriteString("Cleaned up the following downloads:\n")
	for _, r := range sorted {
		fmt.Fprintf(&b, " - %s: %s (Tracker: %s)", r.Name, r.State, TrackerHost(r.Tracker))
		var details []string
		if r.Action != model.ActionKeep {
			details = append(details, r.Action.String())
		}
		if r.Reason != model.ReasonNone {
			details = append(details, string(r.Reason))
		}
		if !r.AddedOn.IsZero() {
			details = append(details, "added "+humanize.RelTime(r.AddedOn, now, "ago", "from now"))
		}
		if len(details) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(details, ", "))
		}
		b.WriteString("\n")
	}
	return Message{Subject: CleanupSubject, Body: b.String()}
}

// AddedMessage builds the summary of feed items submitted in a run.
func AddedMessage(items []model.FeedItem) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Added %d new download", len(items))
	if len(items) != 1 {
		b.WriteString("s")
	}
	b.WriteString(":\n")
	for _, it := range items {
		fmt.Fprintf(&b, " - %s\n", it.Title)
	}
	return Message{Subject: AddedSubject, Body: b.String()}
}

// TrackerHost reduces a tracker announce URL to its registrable domain so
// that passkeys in the path or subdomain never end up in a notification.
func TrackerHost(rawURL string) string {
	if rawURL == "" {
		return "none"
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := u.Hostname()
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}
