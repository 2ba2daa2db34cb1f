package githubclt

import (
	"context"
	"errors"
	"fmt"

	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"

	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/logfields"
	"github.com/simplesurance/labeltracker/internal/trackerr"
)

// page is the processed result of one chunked query response.
type page[T any] struct {
	items      []T
	nextCursor string
	rateLimit  rateLimit
}

// chunkedQuery is a cursor paginated GraphQL query. The query kinds differ
// in the shape of their variables and responses but share the pagination
// and throttling loop in runChunked.
type chunkedQuery[T any] interface {
	kind() history.Kind
	// newResponse returns an empty response struct for the query.
	newResponse() any
	setPageSize(vars map[string]any, n int)
	advanceCursor(vars map[string]any, cursor string)
	// extractPage returns the items and the cursor of the next page from
	// a response. The cursor is empty if it was the last page.
	extractPage(resp any) (*page[T], error)
}

type rateLimit struct {
	Cost      int
	Remaining int
	ResetAt   githubv4.DateTime
}

type pageInfo struct {
	HasNextPage bool
	EndCursor   githubv4.String
}

func (p *pageInfo) nextCursor() string {
	if !p.HasNextPage {
		return ""
	}

	return string(p.EndCursor)
}

// runChunked runs q until all pages were retrieved.
// It starts with the max. batch size. When a query fails because of a
// timeout, the page is requested again with a batch size of 1. When
// queries are fast again the batch size is increased step by step.
// Every other error, or a timeout with a batch size of 1, fails the whole
// operation.
func runChunked[T any](ctx context.Context, clt *Client, q chunkedQuery[T], vars map[string]any) ([]T, error) {
	var result []T

	logger := clt.logger.With(logfields.Kind(q.kind().String()))
	batch := clt.maxBatchSize

	for {
		q.setPageSize(vars, batch)

		logger.Debug(
			"running query",
			logfields.Event("github_query_started"),
			zap.Int("batch_size", batch),
			zap.Any("variables", vars),
		)

		resp := q.newResponse()
		queryCtx, sink := withErrorSink(ctx)

		started := clt.clock.Now()
		err := clt.graphQLClt.Query(queryCtx, resp, vars)
		elapsed := clt.clock.Now().Sub(started)

		metrics.observeQuery(q.kind(), batch, elapsed)

		if err != nil {
			err = classifyQueryError(err, sink.messages)

			var timeoutErr *trackerr.TimeoutError
			if errors.As(err, &timeoutErr) && batch > 1 {
				// anything larger than 1 seems to be unreliable
				// once github started to time out
				batch = 1
				metrics.timeoutInc(q.kind())

				logger.Warn(
					"throttling query due to timeout error",
					logfields.Event("github_query_throttled"),
					zap.Int("batch_size", batch),
					zap.Error(err),
				)

				continue
			}

			return nil, fmt.Errorf("querying %s failed: %w", q.kind(), err)
		}

		if batch < clt.maxBatchSize && elapsed < batchGrowthThreshold {
			batch += batch/10 + 1
			if batch > clt.maxBatchSize {
				batch = clt.maxBatchSize
			}

			logger.Info(
				"increasing batch size",
				logfields.Event("github_query_batch_size_increased"),
				zap.Int("batch_size", batch),
				zap.Duration("query_duration", elapsed),
			)
		}

		p, err := q.extractPage(resp)
		if err != nil {
			return nil, fmt.Errorf("querying %s failed: %w", q.kind(), err)
		}

		logger.Debug(
			"query page processed",
			logfields.Event("github_query_page_processed"),
			zap.Int("items", len(p.items)),
			zap.Int("github_api_rate_limit_cost", p.rateLimit.Cost),
			zap.Int("github_api_rate_limit_remaining", p.rateLimit.Remaining),
			zap.Time("github_api_rate_limit_reset_time", p.rateLimit.ResetAt.Time),
		)
		metrics.setRateLimitRemaining(p.rateLimit.Remaining)

		result = append(result, p.items...)

		if p.nextCursor == "" {
			return result, nil
		}

		q.advanceCursor(vars, p.nextCursor)
	}
}
