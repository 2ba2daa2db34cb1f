package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/labeltracker/internal/history"
)

var baseTime = time.Date(2023, 11, 1, 12, 0, 0, 0, time.UTC)

func issue(id string, isOpen bool, updated time.Time) *history.Issue {
	return &history.Issue{
		ID:         id,
		Title:      "title " + id,
		IsOpen:     isOpen,
		LastUpdate: updated,
		URL:        "https://github.com/NixOS/nixpkgs/issues/" + id,
	}
}

func pull(id string, isOpen, isMerged bool, updated time.Time) *history.PullRequest {
	pr := history.PullRequest{
		ID:         id,
		Title:      "title " + id,
		IsOpen:     isOpen,
		IsMerged:   isMerged,
		LastUpdate: updated,
		BaseRef:    "master",
	}

	if isMerged {
		pr.MergeCommit = "c0ffee" + id
	}

	return &pr
}

func TestIssueClosedOnFirstSightEmitsOneEvent(t *testing.T) {
	stored := map[string]*history.Issue{}

	res := Issues(stored, []*history.Issue{issue("I1", false, baseTime)})

	require.Len(t, res.Events, 1)
	assert.Equal(t, history.ActionNewClosed, res.Events[0].Action)
	assert.Equal(t, "I1", res.Events[0].EntityID)
	assert.Equal(t, baseTime, res.Events[0].Time)
	assert.Contains(t, stored, "I1")
}

func TestIssueStatusTransition(t *testing.T) {
	stored := map[string]*history.Issue{
		"I1": issue("I1", true, baseTime),
	}
	closedAt := baseTime.Add(time.Hour)

	res := Issues(stored, []*history.Issue{issue("I1", false, closedAt)})

	require.Len(t, res.Events, 1)
	assert.Equal(t, history.Event{Time: closedAt, EntityID: "I1", Action: history.ActionClosed}, res.Events[0])
	assert.False(t, stored["I1"].IsOpen)
	assert.Equal(t, closedAt, stored["I1"].LastUpdate)
	require.NotNil(t, res.Watermark)
	assert.Equal(t, closedAt, *res.Watermark)
}

func TestIssueReopenedIsRecordedAsNew(t *testing.T) {
	stored := map[string]*history.Issue{
		"I1": issue("I1", false, baseTime),
	}

	res := Issues(stored, []*history.Issue{issue("I1", true, baseTime.Add(time.Minute))})

	require.Len(t, res.Events, 1)
	assert.Equal(t, history.ActionNew, res.Events[0].Action)
}

func TestIssuesReconcileIsIdempotent(t *testing.T) {
	stored := map[string]*history.Issue{}
	fetched := []*history.Issue{
		issue("I2", true, baseTime.Add(time.Minute)),
		issue("I1", false, baseTime),
	}

	res := Issues(stored, fetched)
	require.Len(t, res.Events, 2)

	res = Issues(stored, fetched)
	assert.Empty(t, res.Events)
	assert.Nil(t, res.Watermark)
	assert.Equal(t, uint(2), res.Stats.Unchanged)
}

func TestUnchangedIssueUpdatesFieldsWithoutEvent(t *testing.T) {
	stored := map[string]*history.Issue{
		"I1": issue("I1", true, baseTime),
	}
	updated := issue("I1", true, baseTime.Add(time.Hour))
	updated.Title = "renamed"

	res := Issues(stored, []*history.Issue{updated})

	assert.Empty(t, res.Events)
	assert.Equal(t, "renamed", stored["I1"].Title)
}

func TestEventsAreSortedByTimeAndID(t *testing.T) {
	stored := map[string]*history.Issue{}
	fetched := []*history.Issue{
		issue("I3", true, baseTime.Add(2*time.Minute)),
		issue("I2", true, baseTime),
		issue("I1", true, baseTime),
	}

	res := Issues(stored, fetched)

	require.Len(t, res.Events, 3)
	assert.Equal(t, "I1", res.Events[0].EntityID)
	assert.Equal(t, "I2", res.Events[1].EntityID)
	assert.Equal(t, "I3", res.Events[2].EntityID)
	assert.Equal(t, baseTime.Add(2*time.Minute), *res.Watermark)
}

func TestPullFirstSightActions(t *testing.T) {
	stored := map[string]*history.PullRequest{}
	fetched := []*history.PullRequest{
		pull("P1", true, false, baseTime),
		pull("P2", false, false, baseTime),
		pull("P3", false, true, baseTime),
	}

	res := Pulls(stored, fetched)

	require.Len(t, res.Events, 3)
	assert.Equal(t, history.ActionNew, res.Events[0].Action)
	assert.Equal(t, history.ActionNewClosed, res.Events[1].Action)
	assert.Equal(t, history.ActionNewMerged, res.Events[2].Action)
}

func TestPullTransitions(t *testing.T) {
	stored := map[string]*history.PullRequest{
		"P1": pull("P1", true, false, baseTime),
		"P2": pull("P2", true, false, baseTime),
	}

	res := Pulls(stored, []*history.PullRequest{
		pull("P1", false, true, baseTime.Add(time.Hour)),
		pull("P2", false, false, baseTime.Add(2*time.Hour)),
	})

	require.Len(t, res.Events, 2)
	assert.Equal(t, history.ActionMerged, res.Events[0].Action)
	assert.Equal(t, history.ActionClosed, res.Events[1].Action)
	assert.Equal(t, "c0ffeeP1", stored["P1"].MergeCommit)
}

func TestPullKeepsLandedInAndMergeCommit(t *testing.T) {
	storedPR := pull("P1", false, true, baseTime)
	storedPR.LandedIn = history.NewChannelSet("nixos-unstable")
	stored := map[string]*history.PullRequest{"P1": storedPR}

	updated := pull("P1", false, true, baseTime.Add(time.Hour))
	updated.MergeCommit = ""
	updated.Title = "renamed"

	res := Pulls(stored, []*history.PullRequest{updated})

	assert.Empty(t, res.Events)
	assert.Equal(t, "renamed", stored["P1"].Title)
	assert.Equal(t, "c0ffeeP1", stored["P1"].MergeCommit)
	assert.Equal(t, history.NewChannelSet("nixos-unstable"), stored["P1"].LandedIn)
}

func TestPullsReconcileIsIdempotent(t *testing.T) {
	stored := map[string]*history.PullRequest{}
	fetched := []*history.PullRequest{
		pull("P1", true, false, baseTime),
		pull("P2", false, true, baseTime),
	}

	Pulls(stored, fetched)
	res := Pulls(stored, fetched)

	assert.Empty(t, res.Events)
}

func TestApplyNeverRegressesWatermark(t *testing.T) {
	state := history.NewState("NixOS", "nixpkgs", "security")
	later := baseTime.Add(time.Hour)
	state.AdvanceWatermark(history.KindIssues, &later)

	res := Issues(state.Issues, []*history.Issue{issue("I1", true, baseTime)})
	Apply(state, history.KindIssues, res)

	require.Len(t, state.IssueHistory, 1)
	assert.Equal(t, later, *state.IssuesUpdated)

	Apply(state, history.KindIssues, Issues(state.Issues, nil))
	assert.Equal(t, later, *state.IssuesUpdated)
}
