// Package history contains the tracked entities, their transition events
// and the windowed read used by feeds.
//
// A tracker keeps two separate structures per entity kind: the snapshot
// map holding the current state of every entity ever seen, and the
// append-only event log. The log is never folded into the snapshot.
package history

import (
	"sort"
	"time"
)

// Kind is the entity kind a history belongs to.
type Kind string

const (
	KindIssues Kind = "issues"
	KindPulls  Kind = "pulls"
)

func (k Kind) String() string {
	return string(k)
}

// Issue is the tracked state of a GitHub issue.
type Issue struct {
	ID         string    `json:"id"`
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	IsOpen     bool      `json:"is_open"`
	Body       string    `json:"body"`
	LastUpdate time.Time `json:"last_update"`
	URL        string    `json:"url"`
}

// PullRequest is the tracked state of a GitHub pull request.
type PullRequest struct {
	ID          string    `json:"id"`
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	IsOpen      bool      `json:"is_open"`
	IsMerged    bool      `json:"is_merged"`
	Body        string    `json:"body"`
	LastUpdate  time.Time `json:"last_update"`
	URL         string    `json:"url"`
	BaseRef     string    `json:"base_ref"`
	MergeCommit string    `json:"merge_commit,omitempty"`

	// LandedIn is maintained locally, it is never taken from upstream.
	LandedIn ChannelSet `json:"landed_in,omitempty"`
}

// Update overwrites the upstream fields of p with the ones of from.
// LandedIn is kept, a merge commit that is already known is never
// cleared.
func (p *PullRequest) Update(from *PullRequest) {
	landedIn := p.LandedIn
	mergeCommit := p.MergeCommit

	*p = *from
	p.LandedIn = landedIn

	if p.MergeCommit == "" {
		p.MergeCommit = mergeCommit
	}
}

// ChannelSet is a set of channel names.
type ChannelSet map[string]struct{}

func NewChannelSet(channels ...string) ChannelSet {
	result := make(ChannelSet, len(channels))
	for _, c := range channels {
		result[c] = struct{}{}
	}

	return result
}

func (s ChannelSet) Contains(channel string) bool {
	_, exists := s[channel]
	return exists
}

// Sorted returns the channels in lexical order.
func (s ChannelSet) Sorted() []string {
	result := make([]string, 0, len(s))
	for c := range s {
		result = append(result, c)
	}

	sort.Strings(result)

	return result
}

// Difference returns the channels of s that are not in other.
func (s ChannelSet) Difference(other ChannelSet) ChannelSet {
	result := ChannelSet{}
	for c := range s {
		if !other.Contains(c) {
			result[c] = struct{}{}
		}
	}

	return result
}

// MarshalJSON encodes the set as a sorted list.
func (s ChannelSet) MarshalJSON() ([]byte, error) {
	return marshalStrings(s.Sorted())
}

func (s *ChannelSet) UnmarshalJSON(data []byte) error {
	channels, err := unmarshalStrings(data)
	if err != nil {
		return err
	}

	*s = NewChannelSet(channels...)

	return nil
}
