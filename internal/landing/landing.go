// Package landing determines the channels merged pull requests landed in.
//
// A pull request landed in a channel when its merge commit is an ancestor
// of the tip of the channel branch. Candidate channels are derived from the
// base branch of the pull request via channel patterns.
package landing

import (
	"context"
	"sort"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/simplesurance/labeltracker/internal/channel"
	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/logfields"
	"github.com/simplesurance/labeltracker/internal/trackerr"
)

//go:generate mockgen -package mocks -destination mocks/ancestry.go . Ancestry

// Ancestry answers which branches contain a commit.
type Ancestry interface {
	// Contains returns the subset of refs whose tip has commit as
	// ancestor.
	Contains(ctx context.Context, commit string, refs []string) ([]string, error)
}

const loggerName = "landing_detector"

// Detector finds new landings of merged pull requests.
type Detector struct {
	patterns channel.Patterns
	ancestry Ancestry
	clock    clock.Clock
	logger   *zap.Logger
}

type option func(*Detector)

// WithClock sets the clock that timestamps landing events.
func WithClock(c clock.Clock) option {
	return func(d *Detector) {
		d.clock = c
	}
}

func NewDetector(patterns channel.Patterns, ancestry Ancestry, opts ...option) *Detector {
	d := Detector{
		patterns: patterns,
		ancestry: ancestry,
		clock:    clock.New(),
		logger:   zap.L().Named(loggerName),
	}

	for _, opt := range opts {
		opt(&d)
	}

	return &d
}

type landing struct {
	pr       *history.PullRequest
	channels []string
}

// Detect checks for all merged pull requests in pulls if they landed in
// channels they are not known to be in yet. New channels are added to the
// LandedIn set of the pull request and one landed event per channel is
// returned.
//
// pulls is only modified when the ancestry of all pull requests could be
// checked. Otherwise a GitAncestryError is returned and pulls is
// unchanged.
func (d *Detector) Detect(ctx context.Context, pulls map[string]*history.PullRequest) ([]history.Event, error) {
	var landings []*landing

	for _, id := range sortedIDs(pulls) {
		pr := pulls[id]

		if pr.MergeCommit == "" {
			continue
		}

		candidates := d.patterns.Resolve(pr.BaseRef)
		if len(candidates) == 0 {
			continue
		}

		toCheck := candidates.Difference(pr.LandedIn)
		if len(toCheck) == 0 {
			continue
		}

		logger := d.logger.With(
			logfields.EntityID(pr.ID),
			logfields.PullRequest(pr.Number),
			logfields.BaseBranch(pr.BaseRef),
			logfields.Commit(pr.MergeCommit),
		)

		contained, err := d.ancestry.Contains(ctx, pr.MergeCommit, toCheck.Sorted())
		if err != nil {
			logger.Warn(
				"checking landing status failed, aborting landing detection",
				logfields.Event("landing_check_failed"),
				zap.Error(err),
			)

			return nil, trackerr.NewGitAncestryError(pr.ID, err)
		}

		var landed []string
		for _, c := range contained {
			// an ancestry implementation might report refs
			// that were not asked for, they are not trusted
			if toCheck.Contains(c) {
				landed = append(landed, c)
				delete(toCheck, c)
			}
		}

		if len(landed) == 0 {
			logger.Debug(
				"pull request did not land in new channels",
				logfields.Event("landing_unchanged"),
				logfields.Channels(toCheck.Sorted()),
			)
			continue
		}

		sort.Strings(landed)
		landings = append(landings, &landing{pr: pr, channels: landed})

		logger.Info(
			"pull request landed",
			logfields.Event("landing_detected"),
			logfields.Channels(landed),
		)
	}

	now := d.clock.Now().UTC()

	var events []history.Event
	for _, l := range landings {
		if l.pr.LandedIn == nil {
			l.pr.LandedIn = history.ChannelSet{}
		}

		for _, c := range l.channels {
			l.pr.LandedIn[c] = struct{}{}
			events = append(events, history.Event{
				Time:     now,
				EntityID: l.pr.ID,
				Action:   history.ActionLanded,
				Channel:  c,
			})
		}
	}

	history.SortEvents(events)

	return events, nil
}

func sortedIDs(pulls map[string]*history.PullRequest) []string {
	result := make([]string, 0, len(pulls))
	for id := range pulls {
		result = append(result, id)
	}

	sort.Strings(result)

	return result
}
