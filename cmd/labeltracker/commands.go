package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/simplesurance/labeltracker/internal/api"
	"github.com/simplesurance/labeltracker/internal/cfg"
	"github.com/simplesurance/labeltracker/internal/feed"
	"github.com/simplesurance/labeltracker/internal/fsutil"
	"github.com/simplesurance/labeltracker/internal/githubclt"
	"github.com/simplesurance/labeltracker/internal/gitmirror"
	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/landing"
	"github.com/simplesurance/labeltracker/internal/logfields"
	"github.com/simplesurance/labeltracker/internal/runlock"
	"github.com/simplesurance/labeltracker/internal/store"
	"github.com/simplesurance/labeltracker/internal/tracker"
)

type command struct {
	name string
	help string
	run  func(ctx context.Context, config *cfg.Config, args []string) error
}

var commands []*command

func init() {
	commands = []*command{
		{name: "init", help: "create an empty state for the configured tracker", run: runInit},
		{name: "sync-issues", help: "update the labeled issues", run: runSyncIssues},
		{name: "sync-prs", help: "update the labeled pull requests and their landings", run: runSyncPulls},
		{name: "emit-issues", help: "write the issue RSS feed", run: runEmitIssues},
		{name: "emit-prs", help: "write the pull request RSS feed", run: runEmitPulls},
		{name: "landed", help: "print the channels a pull request landed in", run: runLanded},
		{name: "serve", help: "run the HTTP API server", run: runServe},
	}
}

func lookupCommand(name string) (*command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}

	return nil, false
}

func target(config *cfg.Config) githubclt.Target {
	return githubclt.Target{
		Owner:      config.Owner,
		Repository: config.Repository,
		Label:      config.Label,
	}
}

func openStore(config *cfg.Config) (store.Store, error) {
	st, err := store.Open(config.Storage.Backend, config.Storage.Path, config.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening storage failed: %w", err)
	}

	return st, nil
}

func newGithubClient(config *cfg.Config) (*githubclt.Client, error) {
	// an empty url selects github.com
	return githubclt.New(
		config.GithubAPIToken,
		target(config),
		githubclt.WithEnterpriseURL(config.GithubAPIURL),
		githubclt.WithMaxBatchSize(config.GithubMaxBatchSize),
	)
}

func noArgs(name string, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%s does not accept arguments, got: %s", name, strings.Join(args, " "))
	}

	return nil
}

func runInit(ctx context.Context, config *cfg.Config, args []string) error {
	if err := noArgs("init", args); err != nil {
		return err
	}

	st, err := openStore(config)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Init(ctx, config.Owner, config.Repository, config.Label); err != nil {
		return err
	}

	logger.Info(
		"state initialized",
		logfields.Event("state_initialized"),
		logfields.RepositoryOwner(config.Owner),
		logfields.Repository(config.Repository),
		logfields.Label(config.Label),
	)

	return nil
}

// withLock runs fn while holding the run lock of the tracker. Without a
// configured lock directory fn runs unlocked.
func withLock(ctx context.Context, config *cfg.Config, fn func() error) error {
	if config.Lock.Dir == "" {
		logger.Debug("lock directory unset, running without run lock", logfields.Event("run_lock_disabled"))
		return fn()
	}

	timeout, err := config.LockTimeout()
	if err != nil {
		return err
	}

	lock, err := runlock.Acquire(ctx, runlock.Path(config.Lock.Dir, config.Owner, config.Repository, config.Label), timeout)
	if err != nil {
		return err
	}

	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("releasing run lock failed", logfields.Event("run_lock_release_failed"), zap.Error(err))
		}
	}()

	return fn()
}

func runSyncIssues(ctx context.Context, config *cfg.Config, args []string) error {
	if err := noArgs("sync-issues", args); err != nil {
		return err
	}

	clt, err := newGithubClient(config)
	if err != nil {
		return err
	}

	st, err := openStore(config)
	if err != nil {
		return err
	}
	defer st.Close()

	return withLock(ctx, config, func() error {
		return tracker.New(target(config), st, clt, nil, nil).SyncIssues(ctx)
	})
}

func runSyncPulls(ctx context.Context, config *cfg.Config, args []string) error {
	if err := noArgs("sync-prs", args); err != nil {
		return err
	}

	if config.Git.LocalRepo == "" {
		return errors.New("git.local_repo must be set in the configuration file")
	}

	patterns := mustChannelPatterns(config)
	if len(patterns) == 0 {
		logger.Warn(
			"no channel patterns defined, landings will not be detected",
			logfields.Event("channel_patterns_empty"),
		)
	}

	clt, err := newGithubClient(config)
	if err != nil {
		return err
	}

	remoteURL := config.Git.RemoteURL
	if remoteURL == "" {
		remoteURL, err = clt.CloneURL(ctx)
		if err != nil {
			return fmt.Errorf("retrieving clone url failed: %w", err)
		}
	}

	st, err := openStore(config)
	if err != nil {
		return err
	}
	defer st.Close()

	mirror := gitmirror.New(
		config.Git.LocalRepo,
		remoteURL,
		gitmirror.WithGitBinary(config.Git.Binary),
		gitmirror.WithCommitGraph(config.Git.CommitGraph),
	)
	detector := landing.NewDetector(patterns, mirror)

	return withLock(ctx, config, func() error {
		return tracker.New(target(config), st, clt, mirror, detector).SyncPulls(ctx)
	})
}

func feedOptions(config *cfg.Config, maxAgeHours uint) (*feed.Options, error) {
	opts := feed.Options{
		Now:    time.Now(),
		MaxAge: config.FeedMaxAge(),
	}

	if maxAgeHours != 0 {
		opts.MaxAge = time.Duration(maxAgeHours) * time.Hour
	}

	if config.Feed.FilterQuery != "" {
		f, err := feed.NewFilter(config.Feed.FilterQuery)
		if err != nil {
			return nil, fmt.Errorf("parsing feed filter_query failed: %w", err)
		}

		opts.Filter = f
	}

	return &opts, nil
}

type renderFunc func(context.Context, *history.State, *feed.Options) (*feed.RSS, error)

func runEmit(ctx context.Context, config *cfg.Config, name, defaultFilename string, render renderFunc, args []string) error {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	out := flags.StringP("out", "o", "", "write the feed to this file instead of stdout,\ndefaults to <output_dir>/"+defaultFilename+" if feed.output_dir is set")
	maxAge := flags.Uint("max-age", 0, "age in hours of the oldest feed entry, defaults to feed.max_age_hours")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := noArgs(name, flags.Args()); err != nil {
		return err
	}

	opts, err := feedOptions(config, *maxAge)
	if err != nil {
		return err
	}

	st, err := openStore(config)
	if err != nil {
		return err
	}
	defer st.Close()

	state, err := st.Load(ctx)
	if err != nil {
		return err
	}

	rss, err := render(ctx, state, opts)
	if err != nil {
		return err
	}

	path := *out
	if path == "" && config.Feed.OutputDir != "" {
		path = filepath.Join(config.Feed.OutputDir, defaultFilename)
	}

	if path == "" || path == "-" {
		return rss.Write(os.Stdout)
	}

	err = fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return rss.Write(w)
	})
	if err != nil {
		return fmt.Errorf("writing feed to %s failed: %w", path, err)
	}

	logger.Info(
		"feed written",
		logfields.Event("feed_written"),
		zap.String("path", path),
		zap.Int("entries", len(rss.Channel.Items)),
	)

	return nil
}

func runEmitIssues(ctx context.Context, config *cfg.Config, args []string) error {
	return runEmit(ctx, config, "emit-issues", "issues.xml", feed.Issues, args)
}

func runEmitPulls(ctx context.Context, config *cfg.Config, args []string) error {
	return runEmit(ctx, config, "emit-prs", "pulls.xml", feed.Pulls, args)
}

func runLanded(ctx context.Context, config *cfg.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("landed requires exactly one argument, the pull request number")
	}

	number, err := strconv.ParseUint(args[0], 10, 31)
	if err != nil {
		return fmt.Errorf("invalid pull request number %q: %w", args[0], err)
	}

	st, err := openStore(config)
	if err != nil {
		return err
	}
	defer st.Close()

	state, err := st.Load(ctx)
	if err != nil {
		return err
	}

	channels, err := api.LandedIn(state.Pulls, int(number))
	if err != nil {
		return err
	}

	for _, c := range channels {
		fmt.Println(c)
	}

	return nil
}

func runServe(_ context.Context, config *cfg.Config, args []string) error {
	if err := noArgs("serve", args); err != nil {
		return err
	}

	if config.HTTP.ListenAddr == "" {
		return errors.New("http.listen_addr must be set in the configuration file")
	}

	feedOpts, err := feedOptions(config, 0)
	if err != nil {
		return err
	}

	st, err := openStore(config)
	if err != nil {
		return err
	}
	defer st.Close()

	// fail early if the state was not initialized
	if _, err := st.Load(context.Background()); err != nil {
		return err
	}

	mux := http.NewServeMux()
	api.NewService(
		st,
		api.WithFeedMaxAge(feedOpts.MaxAge),
		api.WithFeedFilter(feedOpts.Filter),
	).RegisterHandlers(mux, config.HTTP.MetricsEndpoint)

	<-startHTTPServer(config.HTTP.ListenAddr, mux)

	return nil
}
