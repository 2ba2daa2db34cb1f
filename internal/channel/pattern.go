// Package channel maps pull request base branches to the channels a merge
// can land in.
package channel

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/simplesurance/labeltracker/internal/history"
)

// MatchStyle is the way a Pattern compares a base branch.
type MatchStyle string

const (
	MatchExact MatchStyle = "exact"
	MatchGlob  MatchStyle = "glob"
	MatchRegex MatchStyle = "regex"
)

// Pattern maps base branches matching a matcher to one or more channel
// names.
// For MatchRegex the templates can reference capture groups of the match,
// e.g. "nixos-$1" or "nixos-${version}". For the other styles the
// templates are used literally.
type Pattern struct {
	style     MatchStyle
	matcher   string
	re        *regexp.Regexp
	templates []string
}

// NewPattern returns a Pattern. An empty style defaults to MatchRegex.
func NewPattern(style MatchStyle, matcher string, templates []string) (*Pattern, error) {
	if matcher == "" {
		return nil, errors.New("matcher is empty")
	}

	if len(templates) == 0 {
		return nil, fmt.Errorf("pattern %q: no channels defined", matcher)
	}

	p := Pattern{
		style:     style,
		matcher:   matcher,
		templates: templates,
	}

	switch style {
	case MatchExact:

	case MatchGlob:
		if _, err := path.Match(matcher, ""); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", matcher, err)
		}

	case "", MatchRegex:
		p.style = MatchRegex

		// only full matches count, "release-1" must not match
		// "release-10"
		re, err := regexp.Compile("^(?:" + matcher + ")$")
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", matcher, err)
		}
		p.re = re

	default:
		return nil, fmt.Errorf("pattern %q: unsupported match style %q", matcher, style)
	}

	return &p, nil
}

// Channels returns the channel names for baseRef, nil if the pattern does
// not match.
func (p *Pattern) Channels(baseRef string) []string {
	switch p.style {
	case MatchExact:
		if baseRef != p.matcher {
			return nil
		}

		return p.templates

	case MatchGlob:
		if ok, _ := path.Match(p.matcher, baseRef); !ok {
			return nil
		}

		return p.templates

	default:
		submatches := p.re.FindStringSubmatchIndex(baseRef)
		if submatches == nil {
			return nil
		}

		result := make([]string, 0, len(p.templates))
		for _, tmpl := range p.templates {
			result = append(result, string(p.re.ExpandString(nil, tmpl, baseRef, submatches)))
		}

		return result
	}
}

func (p *Pattern) String() string {
	return fmt.Sprintf("%s(%s): %s", p.style, p.matcher, strings.Join(p.templates, " "))
}

// Patterns is an ordered list of Pattern.
type Patterns []*Pattern

// Resolve returns the union of the channels of all patterns matching
// baseRef.
func (ps Patterns) Resolve(baseRef string) history.ChannelSet {
	result := history.ChannelSet{}

	for _, p := range ps {
		for _, c := range p.Channels(baseRef) {
			if c == "" {
				continue
			}

			result[c] = struct{}{}
		}
	}

	return result
}

func (ps Patterns) String() string {
	strs := make([]string, 0, len(ps))
	for _, p := range ps {
		strs = append(strs, p.String())
	}

	return strings.Join(strs, ", ")
}

// Parse parses the compact pattern notation
// "<regex>: <channel> <channel>, <regex>: <channel>".
func Parse(s string) (Patterns, error) {
	var result Patterns

	for _, elem := range strings.Split(s, ",") {
		elem = strings.TrimSpace(elem)
		if elem == "" {
			continue
		}

		base, channels, found := strings.Cut(elem, ":")
		if !found {
			return nil, fmt.Errorf("invalid channel pattern %q", elem)
		}

		p, err := NewPattern(MatchRegex, strings.TrimSpace(base), strings.Fields(channels))
		if err != nil {
			return nil, err
		}

		result = append(result, p)
	}

	return result, nil
}
