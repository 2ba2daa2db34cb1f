// Package api provides the HTTP endpoints to query landing states and to
// retrieve the tracker feeds.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/simplesurance/labeltracker/internal/feed"
	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/logfields"
	"github.com/simplesurance/labeltracker/internal/trackerr"
)

const loggerName = "http_service"

// ErrPullRequestNotFound is returned when the state does not contain a
// pull request with the requested number.
var ErrPullRequestNotFound = fmt.Errorf("pull request %w", trackerr.ErrNotFound)

// LandedIn returns the channels the pull request with the given number
// landed in, in lexical order.
// A pull request that has not landed anywhere yet returns an empty,
// non-nil slice.
func LandedIn(pulls map[string]*history.PullRequest, number int) ([]string, error) {
	for _, pr := range pulls {
		if pr.Number == number {
			return pr.LandedIn.Sorted(), nil
		}
	}

	return nil, ErrPullRequestNotFound
}

// StateLoader returns the current state of a tracker.
type StateLoader interface {
	Load(ctx context.Context) (*history.State, error)
}

// Service serves the HTTP API. Every request reads the last committed
// state.
type Service struct {
	loader StateLoader
	filter *feed.Filter
	maxAge time.Duration
	clock  clock.Clock
	logger *zap.Logger
}

type option func(*Service)

// WithFeedFilter sets a filter that is applied to all feeds.
func WithFeedFilter(f *feed.Filter) option {
	return func(s *Service) {
		s.filter = f
	}
}

// WithFeedMaxAge sets the default age of the oldest feed entry.
func WithFeedMaxAge(d time.Duration) option {
	return func(s *Service) {
		s.maxAge = d
	}
}

func WithClock(c clock.Clock) option {
	return func(s *Service) {
		s.clock = c
	}
}

func NewService(loader StateLoader, opts ...option) *Service {
	s := Service{
		loader: loader,
		maxAge: feed.DefaultMaxAge,
		clock:  clock.New(),
		logger: zap.L().Named(loggerName),
	}

	for _, opt := range opts {
		opt(&s)
	}

	return &s
}

// RegisterHandlers registers the API endpoints at mux. If metricsEndpoint
// is not empty, prometheus metrics are served at it.
func (s *Service) RegisterHandlers(mux *http.ServeMux, metricsEndpoint string) {
	mux.HandleFunc("/landed/github/", s.HandlerLanded)
	mux.HandleFunc("/feeds/issues", s.HandlerIssueFeed)
	mux.HandleFunc("/feeds/pulls", s.HandlerPullFeed)

	if metricsEndpoint != "" {
		mux.Handle(metricsEndpoint, promhttp.Handler())
	}
}

func (s *Service) writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(msg)); err != nil {
		s.logger.Info("sending http response failed", zap.Error(err))
	}
}

func (s *Service) internalError(w http.ResponseWriter, req *http.Request, err error) {
	s.logger.Error(
		"processing http request failed",
		logfields.Event("http_request_failed"),
		zap.String("http_path", req.URL.Path),
		zap.Error(err),
	)

	s.writeText(w, http.StatusInternalServerError, "Error. Sorry.")
}

type landedResponse struct {
	Channels []string `json:"channels"`
}

// HandlerLanded serves GET /landed/github/<number>.
func (s *Service) HandlerLanded(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		s.writeText(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}

	numStr := strings.TrimPrefix(req.URL.Path, "/landed/github/")
	number, err := strconv.ParseUint(numStr, 10, 31)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			s.writeText(w, http.StatusBadRequest, "Pull request number too large.")
			return
		}

		s.writeText(w, http.StatusBadRequest, "Invalid pull request number.")
		return
	}

	state, err := s.loader.Load(req.Context())
	if err != nil {
		s.internalError(w, req, err)
		return
	}

	channels, err := LandedIn(state.Pulls, int(number))
	if err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			s.writeText(w, http.StatusNotFound, "Pull request not found.")
			return
		}

		s.internalError(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&landedResponse{Channels: channels}); err != nil {
		s.logger.Info("sending http response failed", zap.Error(err))
	}
}

func (s *Service) feedOptions(req *http.Request) (*feed.Options, error) {
	opts := feed.Options{
		Now:    s.clock.Now(),
		MaxAge: s.maxAge,
		Filter: s.filter,
	}

	if v := req.URL.Query().Get("max_age"); v != "" {
		hours, err := strconv.ParseUint(v, 10, 16)
		if err != nil || hours == 0 {
			return nil, fmt.Errorf("invalid max_age %q", v)
		}

		opts.MaxAge = time.Duration(hours) * time.Hour
	}

	return &opts, nil
}

type renderFunc func(context.Context, *history.State, *feed.Options) (*feed.RSS, error)

func (s *Service) serveFeed(w http.ResponseWriter, req *http.Request, render renderFunc) {
	if req.Method != http.MethodGet {
		s.writeText(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}

	opts, err := s.feedOptions(req)
	if err != nil {
		s.writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := s.loader.Load(req.Context())
	if err != nil {
		s.internalError(w, req, err)
		return
	}

	rss, err := render(req.Context(), state, opts)
	if err != nil {
		s.internalError(w, req, err)
		return
	}

	var buf bytes.Buffer
	if err := rss.Write(&buf); err != nil {
		s.internalError(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Info("sending http response failed", zap.Error(err))
	}
}

// HandlerIssueFeed serves GET /feeds/issues.
func (s *Service) HandlerIssueFeed(w http.ResponseWriter, req *http.Request) {
	s.serveFeed(w, req, feed.Issues)
}

// HandlerPullFeed serves GET /feeds/pulls.
func (s *Service) HandlerPullFeed(w http.ResponseWriter, req *http.Request) {
	s.serveFeed(w, req, feed.Pulls)
}
