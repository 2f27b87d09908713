// Package filter decides which feed items are submitted for download.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"qbt_manager/internal/model"
)

type rule struct {
	kind  model.FilterKind
	scope model.FilterScope
	word  string
	re    *regexp.Regexp
}

// Set is a compiled list of feed filters.
type Set struct {
	rules       []rule
	hasIncludes bool
}

// Compile validates filters and compiles their regular expressions once.
func Compile(filters []model.Filter) (*Set, error) {
	s := &Set{}
	for _, f := range filters {
		r := rule{kind: f.Kind, scope: f.Scope}
		switch f.Kind {
		case model.FilterInclude, model.FilterExclude:
			r.word = strings.ToLower(f.Value)
		case model.FilterIncludeRe, model.FilterExcludeRe:
			re, err := compileRegex(f.Value)
			if err != nil {
				return nil, err
			}
			r.re = re
		default:
			return nil, fmt.Errorf("unknown filter kind %q", f.Kind)
		}
		if f.Kind == model.FilterInclude || f.Kind == model.FilterIncludeRe {
			s.hasIncludes = true
		}
		s.rules = append(s.rules, r)
	}
	return s, nil
}

// Match checks whether an item passes the set.
// An empty set passes every item.
// Include filters use OR logic (at least one must match).
// Exclude filters use AND logic (none must match).
func (s *Set) Match(item model.FeedItem) bool {
	if s == nil || len(s.rules) == 0 {
		return true
	}

	anyIncludeMatched := false
	for _, r := range s.rules {
		hit := r.matches(item)
		switch r.kind {
		case model.FilterInclude, model.FilterIncludeRe:
			if hit {
				anyIncludeMatched = true
			}
		case model.FilterExclude, model.FilterExcludeRe:
			if hit {
				return false
			}
		}
	}
	return !s.hasIncludes || anyIncludeMatched
}

// Match compiles filters and applies them to item. Invalid filters reject the item.
func Match(item model.FeedItem, filters []model.Filter) bool {
	s, err := Compile(filters)
	if err != nil {
		return false
	}
	return s.Match(item)
}

func (r rule) matches(item model.FeedItem) bool {
	text := textForScope(item, r.scope)
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.word)
}

func textForScope(item model.FeedItem, scope model.FilterScope) string {
	switch scope {
	case model.ScopeTitle:
		return strings.ToLower(item.Title)
	case model.ScopeContent:
		return strings.ToLower(item.Description)
	default:
		return strings.ToLower(item.Title + " " + item.Description)
	}
}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	return re, nil
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := compileRegex(pattern)
	return err
}
