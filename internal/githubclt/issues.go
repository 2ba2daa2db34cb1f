package githubclt

import (
	"context"
	"time"

	"github.com/shurcooL/githubv4"

	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/trackerr"
)

type issueNode struct {
	ID        string `graphql:"id"`
	Number    int
	Title     string
	Closed    bool
	BodyHTML  string `graphql:"bodyHTML"`
	UpdatedAt githubv4.DateTime
	URL       string `graphql:"url"`
}

type issuesResponse struct {
	RateLimit  rateLimit
	Repository *struct {
		Issues struct {
			PageInfo pageInfo
			// github declares edges and nodes as nullable,
			// nulls are dropped.
			Edges []*struct {
				Node *issueNode
			}
		} `graphql:"issues(first: $batch, after: $after, labels: $labels, filterBy: $filter, orderBy: {field: UPDATED_AT, direction: ASC})"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

type issuesQuery struct{}

func (*issuesQuery) kind() history.Kind {
	return history.KindIssues
}

func (*issuesQuery) newResponse() any {
	return &issuesResponse{}
}

func (*issuesQuery) setPageSize(vars map[string]any, n int) {
	vars["batch"] = githubv4.Int(n)
}

func (*issuesQuery) advanceCursor(vars map[string]any, cursor string) {
	vars["after"] = githubv4.NewString(githubv4.String(cursor))
}

func (*issuesQuery) extractPage(resp any) (*page[*history.Issue], error) {
	r := resp.(*issuesResponse)
	if r.Repository == nil {
		return nil, trackerr.NewMissingUpstreamDataError("repository")
	}

	issues := r.Repository.Issues
	result := page[*history.Issue]{
		items:      make([]*history.Issue, 0, len(issues.Edges)),
		nextCursor: issues.PageInfo.nextCursor(),
		rateLimit:  r.RateLimit,
	}

	for _, edge := range issues.Edges {
		if edge == nil || edge.Node == nil {
			continue
		}

		n := edge.Node
		result.items = append(result.items, &history.Issue{
			ID:         n.ID,
			Number:     n.Number,
			Title:      n.Title,
			IsOpen:     !n.Closed,
			Body:       n.BodyHTML,
			LastUpdate: n.UpdatedAt.UTC(),
			URL:        n.URL,
		})
	}

	return &result, nil
}

// FetchIssues returns all issues carrying the tracked label.
// If since is not nil, only issues updated at or after since are returned.
func (clt *Client) FetchIssues(ctx context.Context, since *time.Time) ([]*history.Issue, error) {
	filter := githubv4.IssueFilters{}
	if since != nil {
		filter.Since = &githubv4.DateTime{Time: *since}
	}

	vars := map[string]any{
		"owner":  githubv4.String(clt.target.Owner),
		"name":   githubv4.String(clt.target.Repository),
		"labels": []githubv4.String{githubv4.String(clt.target.Label)},
		"filter": filter,
		"after":  (*githubv4.String)(nil),
		"batch":  githubv4.Int(clt.maxBatchSize),
	}

	return runChunked[*history.Issue](ctx, clt, &issuesQuery{}, vars)
}
