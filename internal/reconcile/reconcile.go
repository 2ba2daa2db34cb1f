// Package reconcile merges fetched issue and pull request snapshots into the
// stored snapshot map and derives the transition events that happened in
// between.
package reconcile

import (
	"time"

	"github.com/simplesurance/labeltracker/internal/history"
)

// Result are the outcomes of one reconciliation.
type Result struct {
	// Events are the new transition events in their canonical order.
	Events []history.Event
	// Watermark is the latest timestamp of Events, nil if no events
	// were produced.
	Watermark *time.Time
	Stats     Stats
}

// Stats counts how fetched items were handled.
type Stats struct {
	Seen      uint
	Inserted  uint
	Changed   uint
	Unchanged uint
}

func issueAction(isOpen, isNew bool) history.Action {
	switch {
	case isOpen:
		return history.ActionNew
	case isNew:
		return history.ActionNewClosed
	default:
		return history.ActionClosed
	}
}

func pullAction(isOpen, isMerged, isNew bool) history.Action {
	switch {
	case isMerged && isNew:
		return history.ActionNewMerged
	case isMerged:
		return history.ActionMerged
	case isOpen:
		return history.ActionNew
	case isNew:
		return history.ActionNewClosed
	default:
		return history.ActionClosed
	}
}

// Issues merges fetched into stored. stored is modified in place.
// An issue that is seen for the first time produces exactly one event,
// a known issue produces an event when its open state changed. Events are
// timestamped with the upstream update time of the issue.
func Issues(stored map[string]*history.Issue, fetched []*history.Issue) *Result {
	var res Result

	for _, updated := range fetched {
		res.Stats.Seen++

		cur, exists := stored[updated.ID]
		if !exists {
			res.Stats.Inserted++
			res.add(updated.LastUpdate, updated.ID, issueAction(updated.IsOpen, true))

			issue := *updated
			stored[updated.ID] = &issue

			continue
		}

		if cur.IsOpen != updated.IsOpen {
			res.Stats.Changed++
			res.add(updated.LastUpdate, updated.ID, issueAction(updated.IsOpen, false))
		} else {
			res.Stats.Unchanged++
		}

		*cur = *updated
	}

	res.finish()

	return &res
}

// Pulls merges fetched into stored. stored is modified in place.
// It behaves like Issues but compares the open and merged state. The
// locally maintained LandedIn set and an already known merge commit of a
// stored pull request are kept.
func Pulls(stored map[string]*history.PullRequest, fetched []*history.PullRequest) *Result {
	var res Result

	for _, updated := range fetched {
		res.Stats.Seen++

		cur, exists := stored[updated.ID]
		if !exists {
			res.Stats.Inserted++
			res.add(updated.LastUpdate, updated.ID, pullAction(updated.IsOpen, updated.IsMerged, true))

			pr := *updated
			pr.LandedIn = history.ChannelSet{}
			stored[updated.ID] = &pr

			continue
		}

		if cur.IsOpen != updated.IsOpen || cur.IsMerged != updated.IsMerged {
			res.Stats.Changed++
			res.add(updated.LastUpdate, updated.ID, pullAction(updated.IsOpen, updated.IsMerged, false))
		} else {
			res.Stats.Unchanged++
		}

		cur.Update(updated)
	}

	res.finish()

	return &res
}

func (r *Result) add(ts time.Time, id string, action history.Action) {
	r.Events = append(r.Events, history.Event{
		Time:     ts,
		EntityID: id,
		Action:   action,
	})
}

func (r *Result) finish() {
	if len(r.Events) == 0 {
		return
	}

	history.SortEvents(r.Events)

	last := r.Events[len(r.Events)-1].Time
	r.Watermark = &last
}

// Apply appends the events of res to the history of kind in state and
// advances its watermark. The watermark never moves backwards.
func Apply(state *history.State, kind history.Kind, res *Result) {
	state.AppendHistory(kind, res.Events)
	state.AdvanceWatermark(kind, res.Watermark)
}
