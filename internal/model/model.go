// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"
)

// TorrentState is the state string reported by the torrent client.
type TorrentState string

// Client-reported states that mean the download has finished.
const (
	StateUploading  TorrentState = "uploading"
	StatePausedUP   TorrentState = "pausedUP"
	StateStoppedUP  TorrentState = "stoppedUP"
	StateQueuedUP   TorrentState = "queuedUP"
	StateStalledUP  TorrentState = "stalledUP"
	StateCheckingUP TorrentState = "checkingUP"
	StateForcedUP   TorrentState = "forcedUP"
)

// Finished reports whether the torrent has completed downloading and is seeding
// (or resting after seeding).
func (s TorrentState) Finished() bool {
	switch s {
	case StateUploading, StatePausedUP, StateStoppedUP, StateQueuedUP,
		StateStalledUP, StateCheckingUP, StateForcedUP:
		return true
	}
	return false
}

// Paused reports whether the client already holds the torrent inactive.
// qBittorrent 5 reports "stopped*" where older versions reported "paused*".
func (s TorrentState) Paused() bool {
	v := strings.ToLower(string(s))
	return strings.HasPrefix(v, "paused") || strings.HasPrefix(v, "stopped")
}

// TrackerStatus is one tracker entry of a torrent as reported by the client.
type TrackerStatus struct {
	URL     string
	Status  int
	Message string
}

// Torrent is a snapshot of a torrent read from the client at the start of a run.
type Torrent struct {
	Hash           string
	Name           string
	State          TorrentState
	Category       string
	Tracker        string
	MagnetURI      string
	AddedOn        time.Time
	UploadLimit    Limit[int64]
	MaxRatio       Limit[float64]
	MaxSeedingTime Limit[int64]
	Trackers       []TrackerStatus
}

// Age returns how long the torrent has been in the client.
func (t Torrent) Age(now time.Time) time.Duration {
	return now.Sub(t.AddedOn)
}

// RetentionRule is the per-tracker policy applied to matching torrents.
type RetentionRule struct {
	TrackerMatch   string
	MaxDaysToKeep  int
	UploadLimit    *Limit[int64]
	MaxRatio       *Limit[float64]
	MaxSeedingTime *Limit[int64]
	DeleteMessages []string
}

// WildcardMatch is the TrackerMatch value of the catch-all rule.
const WildcardMatch = "*"

// KeepForever is the MaxDaysToKeep value that disables age-based removal.
const KeepForever = -1

// IsWildcard reports whether the rule is the catch-all rule.
func (r RetentionRule) IsWildcard() bool {
	return r.TrackerMatch == WildcardMatch
}

// ManagesShareLimits reports whether the rule sets a ratio or seeding time.
func (r RetentionRule) ManagesShareLimits() bool {
	return r.MaxRatio != nil || r.MaxSeedingTime != nil
}

// RemovalMode selects what happens to torrents that are due for removal.
type RemovalMode int

// Supported removal modes.
const (
	RemovePause RemovalMode = iota
	RemoveDelete
)

func (m RemovalMode) String() string {
	if m == RemoveDelete {
		return "delete"
	}
	return "pause"
}

// Action is the outcome of classifying a torrent.
type Action int

// Supported actions.
const (
	ActionKeep Action = iota
	ActionPause
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionPause:
		return "Pause"
	case ActionDelete:
		return "Delete"
	default:
		return "Keep"
	}
}

// Reason explains a classification.
type Reason string

// Classification reasons.
const (
	ReasonNone           Reason = ""
	ReasonWrongTracker   Reason = "wrong tracker"
	ReasonExpired        Reason = "too old"
	ReasonTrackerMessage Reason = "tracker message"
	ReasonAlreadyPaused  Reason = "already paused"
)

// Classification is the decision taken for a single torrent.
type Classification struct {
	Action      Action
	DeleteFiles bool
	Reason      Reason
}

// Removes reports whether the classification takes the torrent out of seeding.
func (c Classification) Removes() bool {
	return c.Action == ActionPause || c.Action == ActionDelete
}

// Feed is an RSS feed configured for intake.
type Feed struct {
	Name     string
	URL      string
	Category string
	Filters  []Filter
}

// FeedItem is a single entry read from a feed.
type FeedItem struct {
	Title       string
	Description string
	SourceURL   string
	Published   *time.Time
}

// FilterKind defines the type of filter rule.
type FilterKind string

// Supported filter kinds.
const (
	FilterInclude   FilterKind = "include"
	FilterExclude   FilterKind = "exclude"
	FilterIncludeRe FilterKind = "include_re"
	FilterExcludeRe FilterKind = "exclude_re"
)

// FilterScope defines which part of the feed item a filter matches against.
type FilterScope string

// Supported filter scopes.
const (
	ScopeTitle   FilterScope = "title"
	ScopeContent FilterScope = "content"
	ScopeAll     FilterScope = "all"
)

// Filter is a single filtering rule attached to a feed.
type Filter struct {
	Kind  FilterKind
	Scope FilterScope
	Value string
}

// LedgerEntry records an item that was submitted for download.
type LedgerEntry struct {
	URL       string
	Title     string
	FirstSeen time.Time
}
