// Package githubclt provides the github API client that fetches the issues
// and pull requests of a tracker.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-github/v43/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/labeltracker/internal/logfields"
	"github.com/simplesurance/labeltracker/internal/trackerr"
)

const DefaultHTTPClientTimeout = time.Minute

// DefaultMaxBatchSize is the largest page size github accepts.
const DefaultMaxBatchSize = 100

// queryTimeLimit is the time after which github aborts a GraphQL query.
const queryTimeLimit = 10 * time.Second

// batchGrowthThreshold is the query duration below which the page size is
// increased again after it was throttled.
const batchGrowthThreshold = queryTimeLimit * 8 / 10

const loggerName = "github_client"

// Target identifies the repository and label that is tracked.
type Target struct {
	Owner      string
	Repository string
	Label      string
}

func (t *Target) String() string {
	return fmt.Sprintf("%s/%s:%s", t.Owner, t.Repository, t.Label)
}

// Querier runs a GraphQL query. It is implemented by *githubv4.Client.
type Querier interface {
	Query(ctx context.Context, q any, variables map[string]any) error
}

// Client is a github API client.
// Fetch operations return errors of the types defined in the trackerr
// package.
type Client struct {
	restClt    *github.Client
	graphQLClt Querier
	logger     *zap.Logger
	clock      clock.Clock

	target       Target
	maxBatchSize int
}

type option func(*options)

type options struct {
	apiURL       string
	clock        clock.Clock
	maxBatchSize int
}

// WithEnterpriseURL configures the client to use the API of a GitHub
// Enterprise Server, e.g. https://github.example.com/api.
func WithEnterpriseURL(apiURL string) option {
	return func(o *options) {
		o.apiURL = strings.TrimSuffix(apiURL, "/")
	}
}

// WithClock sets the clock that is used to measure query durations.
func WithClock(c clock.Clock) option {
	return func(o *options) {
		o.clock = c
	}
}

// WithMaxBatchSize sets the largest page size that is requested.
func WithMaxBatchSize(n int) option {
	return func(o *options) {
		o.maxBatchSize = n
	}
}

// New returns a new github api client for target.
func New(oauthAPItoken string, target Target, opts ...option) (*Client, error) {
	o := options{
		clock:        clock.New(),
		maxBatchSize: DefaultMaxBatchSize,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.maxBatchSize < 1 {
		return nil, fmt.Errorf("max batch size is %d, must be >0", o.maxBatchSize)
	}

	httpClient := newHTTPClient(oauthAPItoken)

	clt := Client{
		logger: zap.L().Named(loggerName).With(
			logfields.RepositoryOwner(target.Owner),
			logfields.Repository(target.Repository),
			logfields.Label(target.Label),
		),
		clock:        o.clock,
		target:       target,
		maxBatchSize: o.maxBatchSize,
	}

	if o.apiURL == "" {
		clt.restClt = github.NewClient(httpClient)
		clt.graphQLClt = githubv4.NewClient(httpClient)

		return &clt, nil
	}

	restClt, err := github.NewEnterpriseClient(o.apiURL+"/v3/", o.apiURL+"/uploads/", httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating github enterprise rest client failed: %w", err)
	}

	clt.restClt = restClt
	clt.graphQLClt = githubv4.NewEnterpriseClient(o.apiURL+"/graphql", httpClient)

	return &clt, nil
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout:   DefaultHTTPClientTimeout,
			Transport: &errorCapturingTransport{next: http.DefaultTransport},
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout
	tc.Transport = &errorCapturingTransport{next: tc.Transport}

	return tc
}

// CloneURL returns the https clone URL of the tracked repository.
func (clt *Client) CloneURL(ctx context.Context) (string, error) {
	repo, _, err := clt.restClt.Repositories.Get(ctx, clt.target.Owner, clt.target.Repository)
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response.StatusCode == http.StatusNotFound {
			return "", trackerr.NewMissingUpstreamDataError("repository")
		}

		return "", trackerr.NewTransportError(err)
	}

	cloneURL := repo.GetCloneURL()
	if cloneURL == "" {
		return "", errors.New("github returned an empty clone url")
	}

	return cloneURL, nil
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

// classifyQueryError converts an error returned by Querier.Query into one
// of the trackerr error types.
// messages are all GraphQL error messages contained in the response.
func classifyQueryError(err error, messages []string) error {
	if len(messages) > 0 {
		for _, msg := range messages {
			if !strings.Contains(strings.ToLower(msg), "timeout") {
				return trackerr.NewUpstreamProtocolError(messages)
			}
		}

		return trackerr.NewTimeoutError(messages)
	}

	var urlErr *url.Error
	var netErr net.Error
	if graphQlHTTPStatusErrRe.MatchString(err.Error()) ||
		errors.As(err, &urlErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return trackerr.NewTransportError(err)
	}

	return trackerr.NewUpstreamProtocolError([]string{err.Error()})
}
