package policy

import (
	"strings"
	"time"

	"qbt_manager/internal/model"
)

// Policy holds the global settings that shape classification.
type Policy struct {
	Rules       []model.RetentionRule
	Mode        model.RemovalMode
	DeleteFiles bool
}

const day = 24 * time.Hour

// Classify decides what to do with t. rule is only consulted when matched
// is true. The result depends on the arguments alone.
func Classify(t model.Torrent, rule model.RetentionRule, matched bool, p Policy, now time.Time) model.Classification {
	if !t.State.Finished() {
		return model.Classification{Action: model.ActionKeep}
	}

	reason := removalReason(t, rule, matched, now)
	if reason == model.ReasonNone {
		return model.Classification{Action: model.ActionKeep}
	}

	if p.Mode == model.RemovePause && t.State.Paused() {
		return model.Classification{Action: model.ActionKeep, Reason: model.ReasonAlreadyPaused}
	}

	if p.Mode == model.RemoveDelete {
		return model.Classification{Action: model.ActionDelete, DeleteFiles: p.DeleteFiles, Reason: reason}
	}
	return model.Classification{Action: model.ActionPause, Reason: reason}
}

func removalReason(t model.Torrent, rule model.RetentionRule, matched bool, now time.Time) model.Reason {
	if !matched {
		return model.ReasonWrongTracker
	}
	if hasDeleteMessage(t.Trackers, rule.DeleteMessages) {
		return model.ReasonTrackerMessage
	}
	if rule.MaxDaysToKeep == model.KeepForever || rule.MaxDaysToKeep < 0 {
		return model.ReasonNone
	}
	if ageDays(t, now) >= rule.MaxDaysToKeep {
		return model.ReasonExpired
	}
	return model.ReasonNone
}

// ageDays is the number of whole days since the torrent was added.
func ageDays(t model.Torrent, now time.Time) int {
	return int(t.Age(now) / day)
}

func hasDeleteMessage(trackers []model.TrackerStatus, messages []string) bool {
	if len(messages) == 0 {
		return false
	}
	for _, tr := range trackers {
		msg := strings.TrimSpace(tr.Message)
		if msg == "" {
			continue
		}
		for _, m := range messages {
			if strings.EqualFold(msg, strings.TrimSpace(m)) {
				return true
			}
		}
	}
	return false
}

// NeedsTrackerStatus reports whether classifying t under rule requires the
// per-tracker messages, which cost one client call per torrent.
func NeedsTrackerStatus(t model.Torrent, rule model.RetentionRule, matched bool) bool {
	return matched && t.State.Finished() && len(rule.DeleteMessages) > 0
}
