package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/trackerr"
)

var now = time.Date(2023, 11, 20, 12, 0, 0, 0, time.UTC)

func testState() *history.State {
	state := history.NewState("NixOS", "nixpkgs", "1.severity: security")

	state.Issues["I1"] = &history.Issue{
		ID:    "I1",
		Title: "CVE-2023-4863: libwebp",
		URL:   "https://github.com/NixOS/nixpkgs/issues/1",
		Body:  "<p>heap overflow</p>",
	}
	state.Issues["I2"] = &history.Issue{ID: "I2", Title: "old", URL: "https://github.com/NixOS/nixpkgs/issues/2"}
	state.IssueHistory = []history.Event{
		{Time: now.Add(-30 * time.Hour), EntityID: "I2", Action: history.ActionNew},
		{Time: now.Add(-2 * time.Hour), EntityID: "I1", Action: history.ActionNew},
		{Time: now.Add(-1 * time.Hour), EntityID: "I1", Action: history.ActionClosed},
	}

	state.Pulls["P1"] = &history.PullRequest{
		ID:       "P1",
		Title:    "libwebp: 1.3.1 -> 1.3.2",
		URL:      "https://github.com/NixOS/nixpkgs/pull/10",
		BaseRef:  "release-23.05",
		IsMerged: true,
		LandedIn: history.NewChannelSet("nixos-23.05"),
	}
	state.PullHistory = []history.Event{
		{Time: now.Add(-3 * time.Hour), EntityID: "P1", Action: history.ActionNewMerged},
		{Time: now.Add(-1 * time.Hour), EntityID: "P1", Action: history.ActionLanded, Channel: "nixos-23.05"},
	}

	return state
}

func TestIssueFeedContainsOnlyRecentEvents(t *testing.T) {
	rss, err := Issues(context.Background(), testState(), &Options{Now: now, MaxAge: 24 * time.Hour})
	require.NoError(t, err)

	assert.Equal(t, "Issues labeled `1.severity: security' in NixOS/nixpkgs", rss.Channel.Title)
	require.Len(t, rss.Channel.Items, 2)

	assert.Equal(t, "[CLOSED] CVE-2023-4863: libwebp", rss.Channel.Items[0].Title)
	assert.Equal(t, "[NEW] CVE-2023-4863: libwebp", rss.Channel.Items[1].Title)
	assert.Equal(t, "2023-11-20T11:00:00Z/I1", rss.Channel.Items[0].GUID.Value)
	assert.Equal(t, "Mon, 20 Nov 2023 11:00:00 +0000", rss.Channel.Items[0].PubDate)
	assert.Equal(t, "<p>heap overflow</p>", rss.Channel.Items[0].Content)
}

func TestPullFeedNamesChannelOfLandings(t *testing.T) {
	rss, err := Pulls(context.Background(), testState(), &Options{Now: now})
	require.NoError(t, err)

	require.Len(t, rss.Channel.Items, 2)
	assert.Equal(t, "[LANDED](nixos-23.05) libwebp: 1.3.1 -> 1.3.2", rss.Channel.Items[0].Title)
	assert.Equal(t, "2023-11-20T11:00:00Z/P1/landed/nixos-23.05", rss.Channel.Items[0].GUID.Value)
	assert.Equal(t, "[NEW][MERGED](release-23.05) libwebp: 1.3.1 -> 1.3.2", rss.Channel.Items[1].Title)
}

func TestFeedGUIDsAreStable(t *testing.T) {
	state := testState()

	first, err := Pulls(context.Background(), state, &Options{Now: now})
	require.NoError(t, err)

	second, err := Pulls(context.Background(), state, &Options{Now: now.Add(time.Minute)})
	require.NoError(t, err)

	assert.Equal(t, first.Channel.Items, second.Channel.Items)
}

func TestFeedFailsOnDanglingEvent(t *testing.T) {
	state := testState()
	delete(state.Issues, "I1")

	_, err := Issues(context.Background(), state, &Options{Now: now})
	require.Error(t, err)

	var corruptErr *trackerr.CorruptHistoryError
	assert.ErrorAs(t, err, &corruptErr)
}

func TestFilterQuery(t *testing.T) {
	filter, err := NewFilter(`.action == "landed" and (.channel | startswith("nixos-"))`)
	require.NoError(t, err)

	rss, err := Pulls(context.Background(), testState(), &Options{Now: now, Filter: filter})
	require.NoError(t, err)

	require.Len(t, rss.Channel.Items, 1)
	assert.Equal(t, "2023-11-20T11:00:00Z/P1/landed/nixos-23.05", rss.Channel.Items[0].GUID.Value)
}

func TestFilterQueryOnEntityFields(t *testing.T) {
	filter, err := NewFilter(`.entity.title | test("CVE")`)
	require.NoError(t, err)

	state := testState()
	state.IssueHistory = append(state.IssueHistory, history.Event{
		Time: now.Add(-time.Minute), EntityID: "I2", Action: history.ActionClosed,
	})

	rss, err := Issues(context.Background(), state, &Options{Now: now, Filter: filter})
	require.NoError(t, err)
	assert.Len(t, rss.Channel.Items, 2)
}

func TestFilterQueryMustReturnBool(t *testing.T) {
	filter, err := NewFilter(`.action`)
	require.NoError(t, err)

	_, err = Issues(context.Background(), testState(), &Options{Now: now, Filter: filter})
	assert.Error(t, err)
}

func TestRSSIsValidXML(t *testing.T) {
	rss, err := Pulls(context.Background(), testState(), &Options{Now: now})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, rss.Write(&buf))

	assert.Contains(t, buf.String(), `<rss version="2.0"`)
	assert.Contains(t, buf.String(), `<guid isPermaLink="false">2023-11-20T11:00:00Z/P1/landed/nixos-23.05</guid>`)

	var parsed struct {
		Items []struct {
			Title string `xml:"title"`
		} `xml:"channel>item"`
	}
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &parsed))
	assert.Len(t, parsed.Items, 2)
}
