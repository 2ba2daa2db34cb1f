// Package tracker runs the synchronization of a tracker: it fetches the
// labelled issues or pull requests, reconciles them with the stored state,
// detects landings of merged pull requests and commits the result.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/labeltracker/internal/githubclt"
	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/logfields"
	"github.com/simplesurance/labeltracker/internal/reconcile"
	"github.com/simplesurance/labeltracker/internal/store"
)

//go:generate mockgen -package mocks -destination mocks/tracker.go . Fetcher,Refresher,Detector

const loggerName = "tracker"

// Fetcher retrieves the labelled items from github.
type Fetcher interface {
	FetchIssues(ctx context.Context, since *time.Time) ([]*history.Issue, error)
	FetchPulls(ctx context.Context, since *time.Time) ([]*history.PullRequest, error)
}

// Refresher updates the local git mirror.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Detector finds new landings of merged pull requests.
type Detector interface {
	Detect(ctx context.Context, pulls map[string]*history.PullRequest) ([]history.Event, error)
}

// Tracker synchronizes the state of one repository and label.
// A run either commits all of its results or nothing.
type Tracker struct {
	target   githubclt.Target
	store    store.Store
	fetcher  Fetcher
	mirror   Refresher
	detector Detector
	logger   *zap.Logger
}

// New returns a Tracker. mirror and detector are only required for
// SyncPulls and can be nil otherwise.
func New(target githubclt.Target, st store.Store, fetcher Fetcher, mirror Refresher, detector Detector) *Tracker {
	return &Tracker{
		target:   target,
		store:    st,
		fetcher:  fetcher,
		mirror:   mirror,
		detector: detector,
		logger: zap.L().Named(loggerName).With(
			logfields.RepositoryOwner(target.Owner),
			logfields.Repository(target.Repository),
			logfields.Label(target.Label),
		),
	}
}

func (t *Tracker) load(ctx context.Context) (*history.State, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading state failed: %w", err)
	}

	if state.Owner != t.target.Owner || state.Repo != t.target.Repository || state.Label != t.target.Label {
		return nil, fmt.Errorf(
			"state belongs to %s/%s:%s, expected %s",
			state.Owner, state.Repo, state.Label, t.target.String(),
		)
	}

	return state, nil
}

// SyncIssues fetches the issues that changed since the last run and
// commits the new issue states and transitions.
func (t *Tracker) SyncIssues(ctx context.Context) (err error) {
	stats := syncStat{Kind: history.KindIssues, StartTime: time.Now()}
	logger := t.logger.With(logfields.Kind(history.KindIssues.String()))

	defer func() { t.finish(logger, &stats, err) }()

	logger.Info("starting synchronization", logfields.Event("sync_started"))

	state, err := t.load(ctx)
	if err != nil {
		return err
	}

	fetched, err := t.fetcher.FetchIssues(ctx, state.Watermark(history.KindIssues))
	if err != nil {
		return fmt.Errorf("fetching issues failed: %w", err)
	}

	res := reconcile.Issues(state.Issues, fetched)
	reconcile.Apply(state, history.KindIssues, res)

	stats.addReconcile(&res.Stats)
	stats.Events = res.Events

	if err := t.store.Commit(ctx, history.KindIssues, state, res.Events); err != nil {
		return fmt.Errorf("committing issue state failed: %w", err)
	}

	return nil
}

// SyncPulls fetches the pull requests, reconciles them, refreshes the git
// mirror and detects new landings. Transitions and landings are committed
// together.
func (t *Tracker) SyncPulls(ctx context.Context) (err error) {
	stats := syncStat{Kind: history.KindPulls, StartTime: time.Now()}
	logger := t.logger.With(logfields.Kind(history.KindPulls.String()))

	defer func() { t.finish(logger, &stats, err) }()

	if t.mirror == nil || t.detector == nil {
		return errors.New("synchronizing pull requests requires a git mirror and a landing detector")
	}

	logger.Info("starting synchronization", logfields.Event("sync_started"))

	state, err := t.load(ctx)
	if err != nil {
		return err
	}

	fetched, err := t.fetcher.FetchPulls(ctx, state.Watermark(history.KindPulls))
	if err != nil {
		return fmt.Errorf("fetching pull requests failed: %w", err)
	}

	res := reconcile.Pulls(state.Pulls, fetched)
	stats.addReconcile(&res.Stats)

	if err := t.mirror.Refresh(ctx); err != nil {
		return fmt.Errorf("refreshing git mirror failed: %w", err)
	}

	landed, err := t.detector.Detect(ctx, state.Pulls)
	if err != nil {
		return fmt.Errorf("detecting landings failed: %w", err)
	}
	stats.Landed = uint(len(landed))

	events := make([]history.Event, 0, len(res.Events)+len(landed))
	events = append(events, res.Events...)
	events = append(events, landed...)
	history.SortEvents(events)

	// landings carry the detection time, the watermark only tracks
	// upstream update times
	reconcile.Apply(state, history.KindPulls, &reconcile.Result{
		Events:    events,
		Watermark: res.Watermark,
	})
	stats.Events = events

	if err := t.store.Commit(ctx, history.KindPulls, state, events); err != nil {
		return fmt.Errorf("committing pull request state failed: %w", err)
	}

	return nil
}

func (t *Tracker) finish(logger *zap.Logger, stats *syncStat, err error) {
	stats.EndTime = time.Now()
	metrics.observeRun(stats, err)

	if err != nil {
		logger.Error(
			"synchronization failed, state is unchanged",
			append(stats.LogFields(),
				logfields.Event("sync_failed"),
				zap.Error(err),
			)...,
		)

		return
	}

	for _, ev := range stats.Events {
		logger.Debug(
			"history event committed",
			logfields.Event("history_event_committed"),
			logfields.EntityID(ev.EntityID),
			logfields.Action(ev.Action.String()),
			logfields.Channel(ev.Channel),
		)
	}

	logger.Info(
		"synchronization finished",
		append(stats.LogFields(), logfields.Event("sync_finished"))...,
	)
}
