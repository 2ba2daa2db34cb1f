package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/mock/gomock"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/labeltracker/internal/channel"
	"github.com/simplesurance/labeltracker/internal/githubclt"
	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/landing"
	landingmocks "github.com/simplesurance/labeltracker/internal/landing/mocks"
	"github.com/simplesurance/labeltracker/internal/store"
	"github.com/simplesurance/labeltracker/internal/tracker/mocks"
	"github.com/simplesurance/labeltracker/internal/trackerr"
)

var target = githubclt.Target{Owner: "NixOS", Repository: "nixpkgs", Label: "1.severity: security"}

var t0 = time.Date(2023, 11, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	tracker  *Tracker
	store    store.Store
	fetcher  *mocks.MockFetcher
	mirror   *mocks.MockRefresher
	ancestry *landingmocks.MockAncestry
	detector *landing.Detector
	clock    *clock.Mock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)

	st := store.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, st.Init(context.Background(), target.Owner, target.Repository, target.Label))

	patterns, err := channel.Parse(`release-(\d+\.\d+): nixos-$1 nixpkgs-$1`)
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(t0.Add(24 * time.Hour))

	env := testEnv{
		store:    st,
		fetcher:  mocks.NewMockFetcher(mockctrl),
		mirror:   mocks.NewMockRefresher(mockctrl),
		ancestry: landingmocks.NewMockAncestry(mockctrl),
		clock:    clk,
	}

	env.detector = landing.NewDetector(patterns, env.ancestry, landing.WithClock(clk))
	env.tracker = New(target, st, env.fetcher, env.mirror, env.detector)

	return &env
}

func (e *testEnv) mustLoad(t *testing.T) *history.State {
	t.Helper()

	state, err := e.store.Load(context.Background())
	require.NoError(t, err)

	return state
}

func TestSyncIssuesPassesWatermarkToNextRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fetcher.EXPECT().
		FetchIssues(gomock.Any(), gomock.Nil()).
		Return([]*history.Issue{
			{ID: "I1", Number: 1, IsOpen: true, LastUpdate: t0},
			{ID: "I2", Number: 2, IsOpen: false, LastUpdate: t0.Add(time.Hour)},
		}, nil)

	require.NoError(t, env.tracker.SyncIssues(ctx))

	state := env.mustLoad(t)
	require.Len(t, state.IssueHistory, 2)
	assert.Equal(t, history.ActionNew, state.IssueHistory[0].Action)
	assert.Equal(t, history.ActionNewClosed, state.IssueHistory[1].Action)
	require.NotNil(t, state.IssuesUpdated)
	assert.True(t, t0.Add(time.Hour).Equal(*state.IssuesUpdated))

	env.fetcher.EXPECT().
		FetchIssues(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, since *time.Time) ([]*history.Issue, error) {
			require.NotNil(t, since)
			assert.True(t, t0.Add(time.Hour).Equal(*since))

			return []*history.Issue{
				{ID: "I2", Number: 2, IsOpen: false, LastUpdate: t0.Add(time.Hour)},
			}, nil
		})

	require.NoError(t, env.tracker.SyncIssues(ctx))
	assert.Len(t, env.mustLoad(t).IssueHistory, 2)
}

func TestSyncIssuesFetchFailureCommitsNothing(t *testing.T) {
	env := newTestEnv(t)

	env.fetcher.EXPECT().
		FetchIssues(gomock.Any(), gomock.Any()).
		Return(nil, trackerr.NewUpstreamProtocolError([]string{"Bad credentials"}))

	err := env.tracker.SyncIssues(context.Background())
	require.Error(t, err)

	var protoErr *trackerr.UpstreamProtocolError
	assert.ErrorAs(t, err, &protoErr)

	state := env.mustLoad(t)
	assert.Empty(t, state.Issues)
	assert.Nil(t, state.IssuesUpdated)
}

func TestSyncPullsCommitsTransitionsAndLandings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fetcher.EXPECT().
		FetchPulls(gomock.Any(), gomock.Nil()).
		Return([]*history.PullRequest{
			{
				ID:          "PR1",
				Number:      1,
				IsMerged:    true,
				LastUpdate:  t0,
				BaseRef:     "release-23.11",
				MergeCommit: "abc",
			},
			{ID: "PR2", Number: 2, IsOpen: true, LastUpdate: t0.Add(time.Minute), BaseRef: "release-23.11"},
		}, nil)
	gomock.InOrder(
		env.mirror.EXPECT().Refresh(gomock.Any()).Return(nil),
		env.ancestry.EXPECT().
			Contains(gomock.Any(), gomock.Eq("abc"), gomock.Eq([]string{"nixos-23.11", "nixpkgs-23.11"})).
			Return([]string{"nixos-23.11"}, nil),
	)

	require.NoError(t, env.tracker.SyncPulls(ctx))

	state := env.mustLoad(t)
	require.Len(t, state.PullHistory, 3)
	assert.Equal(t, history.Event{Time: t0, EntityID: "PR1", Action: history.ActionNewMerged}, state.PullHistory[0])
	assert.Equal(t, history.ActionNew, state.PullHistory[1].Action)
	assert.Equal(t, history.ActionLanded, state.PullHistory[2].Action)
	assert.Equal(t, "nixos-23.11", state.PullHistory[2].Channel)
	assert.True(t, env.clock.Now().Equal(state.PullHistory[2].Time))

	assert.Equal(t, []string{"nixos-23.11"}, state.Pulls["PR1"].LandedIn.Sorted())

	// the landing time is not an upstream time and must not move the
	// watermark
	require.NotNil(t, state.PullsUpdated)
	assert.True(t, t0.Add(time.Minute).Equal(*state.PullsUpdated))
}

func TestSyncPullsAncestryFailureCommitsNothing(t *testing.T) {
	env := newTestEnv(t)

	env.fetcher.EXPECT().
		FetchPulls(gomock.Any(), gomock.Any()).
		Return([]*history.PullRequest{
			{ID: "PR1", Number: 1, IsMerged: true, LastUpdate: t0, BaseRef: "release-23.11", MergeCommit: "abc"},
		}, nil)
	env.mirror.EXPECT().Refresh(gomock.Any()).Return(nil)
	env.ancestry.EXPECT().
		Contains(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("exit status 129"))

	err := env.tracker.SyncPulls(context.Background())
	require.Error(t, err)

	var ancestryErr *trackerr.GitAncestryError
	assert.ErrorAs(t, err, &ancestryErr)

	state := env.mustLoad(t)
	assert.Empty(t, state.Pulls)
	assert.Empty(t, state.PullHistory)
	assert.Nil(t, state.PullsUpdated)
}

func TestSyncPullsRefreshFailureCommitsNothing(t *testing.T) {
	env := newTestEnv(t)

	env.fetcher.EXPECT().
		FetchPulls(gomock.Any(), gomock.Any()).
		Return([]*history.PullRequest{
			{ID: "PR1", Number: 1, IsOpen: true, LastUpdate: t0, BaseRef: "master"},
		}, nil)
	env.mirror.EXPECT().
		Refresh(gomock.Any()).
		Return(trackerr.NewGitAncestryError("", errors.New("could not resolve host")))

	require.Error(t, env.tracker.SyncPulls(context.Background()))
	assert.Empty(t, env.mustLoad(t).Pulls)
}

func TestSyncPullsRerunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	prs := []*history.PullRequest{
		{ID: "PR1", Number: 1, IsMerged: true, LastUpdate: t0, BaseRef: "release-23.11", MergeCommit: "abc"},
	}

	env.fetcher.EXPECT().FetchPulls(gomock.Any(), gomock.Any()).Return(prs, nil).Times(2)
	env.mirror.EXPECT().Refresh(gomock.Any()).Return(nil).Times(2)
	env.ancestry.EXPECT().
		Contains(gomock.Any(), gomock.Eq("abc"), gomock.Eq([]string{"nixos-23.11", "nixpkgs-23.11"})).
		Return([]string{"nixos-23.11", "nixpkgs-23.11"}, nil)

	require.NoError(t, env.tracker.SyncPulls(ctx))
	require.Len(t, env.mustLoad(t).PullHistory, 3)

	env.clock.Add(time.Hour)

	require.NoError(t, env.tracker.SyncPulls(ctx))
	assert.Len(t, env.mustLoad(t).PullHistory, 3)
}

func TestSyncFailsForForeignState(t *testing.T) {
	env := newTestEnv(t)

	other := New(
		githubclt.Target{Owner: "NixOS", Repository: "nix", Label: "security"},
		env.store, env.fetcher, nil, nil,
	)

	err := other.SyncIssues(context.Background())
	assert.Error(t, err)
}

type failingCommitStore struct {
	store.Store
}

func (*failingCommitStore) Commit(context.Context, history.Kind, *history.State, []history.Event) error {
	return errors.New("no space left on device")
}

func landingsCount(t *testing.T, channel string) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, metrics.landings.WithLabelValues(channel).Write(&m))

	return m.GetCounter().GetValue()
}

func TestLandingsAreCountedOnlyWhenCommitted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	prs := []*history.PullRequest{
		{ID: "PR1", Number: 1, IsMerged: true, LastUpdate: t0, BaseRef: "release-99.01", MergeCommit: "abc"},
	}

	env.fetcher.EXPECT().FetchPulls(gomock.Any(), gomock.Any()).Return(prs, nil).Times(3)
	env.mirror.EXPECT().Refresh(gomock.Any()).Return(nil).Times(3)
	env.ancestry.EXPECT().
		Contains(gomock.Any(), gomock.Eq("abc"), gomock.Eq([]string{"nixos-99.01", "nixpkgs-99.01"})).
		Return([]string{"nixos-99.01"}, nil).
		Times(2)
	env.ancestry.EXPECT().
		Contains(gomock.Any(), gomock.Eq("abc"), gomock.Eq([]string{"nixpkgs-99.01"})).
		Return(nil, nil)

	before := landingsCount(t, "nixos-99.01")

	failing := New(target, &failingCommitStore{Store: env.store}, env.fetcher, env.mirror, env.detector)
	require.Error(t, failing.SyncPulls(ctx))
	assert.Equal(t, before, landingsCount(t, "nixos-99.01"))

	require.NoError(t, env.tracker.SyncPulls(ctx))
	assert.Equal(t, before+1, landingsCount(t, "nixos-99.01"))
	assert.Equal(t, float64(0), landingsCount(t, "nixpkgs-99.01"))

	require.NoError(t, env.tracker.SyncPulls(ctx))
	assert.Equal(t, before+1, landingsCount(t, "nixos-99.01"))
}
