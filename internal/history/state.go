package history

import (
	"fmt"
	"time"

	"github.com/simplesurance/labeltracker/internal/trackerr"
)

// StateVersion is the version of the persisted state format.
const StateVersion = 1

// State is the complete persisted state of one tracker: one repository and
// one label.
type State struct {
	Version int    `json:"version"`
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Label   string `json:"label"`

	IssuesUpdated *time.Time        `json:"issues_updated,omitempty"`
	Issues        map[string]*Issue `json:"issues"`
	IssueHistory  []Event           `json:"issue_history"`

	PullsUpdated *time.Time              `json:"pull_requests_updated,omitempty"`
	Pulls        map[string]*PullRequest `json:"pull_requests"`
	PullHistory  []Event                 `json:"pull_history"`
}

// NewState returns an empty state for the given tracker.
func NewState(owner, repo, label string) *State {
	return &State{
		Version: StateVersion,
		Owner:   owner,
		Repo:    repo,
		Label:   label,
		Issues:  map[string]*Issue{},
		Pulls:   map[string]*PullRequest{},
	}
}

// Watermark returns the watermark of kind, nil if nothing was processed
// yet.
func (s *State) Watermark(kind Kind) *time.Time {
	switch kind {
	case KindIssues:
		return s.IssuesUpdated
	case KindPulls:
		return s.PullsUpdated
	default:
		panic(fmt.Sprintf("unsupported kind %q", kind))
	}
}

// AdvanceWatermark sets the watermark of kind to ts, if ts is newer than
// the current one. A nil ts is ignored.
func (s *State) AdvanceWatermark(kind Kind, ts *time.Time) {
	if ts == nil {
		return
	}

	cur := s.Watermark(kind)
	if cur != nil && !ts.After(*cur) {
		return
	}

	t := *ts
	switch kind {
	case KindIssues:
		s.IssuesUpdated = &t
	case KindPulls:
		s.PullsUpdated = &t
	}
}

// History returns the event log of kind.
func (s *State) History(kind Kind) []Event {
	switch kind {
	case KindIssues:
		return s.IssueHistory
	case KindPulls:
		return s.PullHistory
	default:
		panic(fmt.Sprintf("unsupported kind %q", kind))
	}
}

// AppendHistory appends events to the log of kind.
func (s *State) AppendHistory(kind Kind, events []Event) {
	switch kind {
	case KindIssues:
		s.IssueHistory = append(s.IssueHistory, events...)
	case KindPulls:
		s.PullHistory = append(s.PullHistory, events...)
	default:
		panic(fmt.Sprintf("unsupported kind %q", kind))
	}
}

func (s *State) has(kind Kind, id string) bool {
	switch kind {
	case KindIssues:
		_, exists := s.Issues[id]
		return exists
	case KindPulls:
		_, exists := s.Pulls[id]
		return exists
	default:
		return false
	}
}

// Validate checks the state version and that every history event
// references an existing entity.
func (s *State) Validate() error {
	if s.Version != StateVersion {
		return fmt.Errorf("expected state version %d, got %d", StateVersion, s.Version)
	}

	if s.Issues == nil {
		s.Issues = map[string]*Issue{}
	}

	if s.Pulls == nil {
		s.Pulls = map[string]*PullRequest{}
	}

	for _, kind := range []Kind{KindIssues, KindPulls} {
		for _, ev := range s.History(kind) {
			if !s.has(kind, ev.EntityID) {
				return trackerr.NewCorruptHistoryError(ev.EntityID)
			}
		}
	}

	return nil
}
