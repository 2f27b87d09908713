// Package policy implements the retention decisions: which rule governs a
// torrent, whether it is kept, paused or deleted, and which limit updates
// bring kept torrents in line with their rule.
package policy

import (
	"strings"

	"qbt_manager/internal/model"
)

// matchPredicate reports whether rule r claims torrent t.
type matchPredicate func(t model.Torrent, r model.RetentionRule) bool

// matchOrder is evaluated in order; the first predicate that claims the
// torrent for some rule decides.
var matchOrder = []matchPredicate{
	matchMagnet,
	matchTracker,
	matchWildcard,
}

// Match returns the rule that governs t. The second result is false when
// no rule applies.
func Match(t model.Torrent, rules []model.RetentionRule) (model.RetentionRule, bool) {
	if len(rules) == 0 {
		return model.RetentionRule{}, false
	}
	for _, pred := range matchOrder {
		for _, r := range rules {
			if pred(t, r) {
				return r, true
			}
		}
	}
	return model.RetentionRule{}, false
}

func matchMagnet(t model.Torrent, r model.RetentionRule) bool {
	return containsFold(t.MagnetURI, r)
}

func matchTracker(t model.Torrent, r model.RetentionRule) bool {
	return containsFold(t.Tracker, r)
}

func matchWildcard(_ model.Torrent, r model.RetentionRule) bool {
	return r.IsWildcard()
}

func containsFold(s string, r model.RetentionRule) bool {
	if r.IsWildcard() || r.TrackerMatch == "" || s == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(r.TrackerMatch))
}
