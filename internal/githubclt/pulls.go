package githubclt

import (
	"context"
	"time"

	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"

	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/logfields"
	"github.com/simplesurance/labeltracker/internal/trackerr"
)

type pullRequestNode struct {
	ID          string `graphql:"id"`
	Number      int
	Title       string
	Closed      bool
	Merged      bool
	BodyHTML    string `graphql:"bodyHTML"`
	UpdatedAt   githubv4.DateTime
	URL         string `graphql:"url"`
	BaseRefName string
	MergeCommit *struct {
		Oid string
	}
}

type pullsResponse struct {
	RateLimit  rateLimit
	Repository *struct {
		PullRequests struct {
			PageInfo pageInfo
			Edges    []*struct {
				Node *pullRequestNode
			}
		} `graphql:"pullRequests(first: $batch, after: $after, labels: $labels, orderBy: {field: UPDATED_AT, direction: ASC})"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

type pullsQuery struct{}

func (*pullsQuery) kind() history.Kind {
	return history.KindPulls
}

func (*pullsQuery) newResponse() any {
	return &pullsResponse{}
}

func (*pullsQuery) setPageSize(vars map[string]any, n int) {
	vars["batch"] = githubv4.Int(n)
}

func (*pullsQuery) advanceCursor(vars map[string]any, cursor string) {
	vars["after"] = githubv4.NewString(githubv4.String(cursor))
}

func (*pullsQuery) extractPage(resp any) (*page[*history.PullRequest], error) {
	r := resp.(*pullsResponse)
	if r.Repository == nil {
		return nil, trackerr.NewMissingUpstreamDataError("repository")
	}

	prs := r.Repository.PullRequests
	result := page[*history.PullRequest]{
		items:      make([]*history.PullRequest, 0, len(prs.Edges)),
		nextCursor: prs.PageInfo.nextCursor(),
		rateLimit:  r.RateLimit,
	}

	for _, edge := range prs.Edges {
		if edge == nil || edge.Node == nil {
			continue
		}

		n := edge.Node
		pr := history.PullRequest{
			ID:         n.ID,
			Number:     n.Number,
			Title:      n.Title,
			IsOpen:     !n.Closed,
			IsMerged:   n.Merged,
			Body:       n.BodyHTML,
			LastUpdate: n.UpdatedAt.UTC(),
			URL:        n.URL,
			BaseRef:    n.BaseRefName,
		}

		if n.MergeCommit != nil {
			pr.MergeCommit = n.MergeCommit.Oid
		}

		result.items = append(result.items, &pr)
	}

	return &result, nil
}

// FetchPulls returns all pull requests carrying the tracked label.
//
// The pullRequests connection can not be filtered by update time and the
// result order is not relied on to stop early, all pull requests are
// fetched. since is only logged.
func (clt *Client) FetchPulls(ctx context.Context, since *time.Time) ([]*history.PullRequest, error) {
	if since != nil {
		clt.logger.Debug(
			"pull requests are fetched completely, watermark is not applied upstream",
			logfields.Event("github_pulls_fetch_unfiltered"),
			zap.Time("watermark", *since),
		)
	}

	vars := map[string]any{
		"owner":  githubv4.String(clt.target.Owner),
		"name":   githubv4.String(clt.target.Repository),
		"labels": []githubv4.String{githubv4.String(clt.target.Label)},
		"after":  (*githubv4.String)(nil),
		"batch":  githubv4.Int(clt.maxBatchSize),
	}

	return runChunked[*history.PullRequest](ctx, clt, &pullsQuery{}, vars)
}
