package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// Filter decides with a jq query if a history entry is included in a feed.
//
// The query is evaluated for the JSON representation of an entry:
//
//	{
//	  "kind": "pulls",
//	  "action": "landed",
//	  "time": "2023-11-20T08:00:00Z",
//	  "channel": "nixos-23.11",
//	  "entity": {"number": 1, "title": "...", "base_ref": "...", ...}
//	}
//
// It must evaluate to exactly one boolean.
type Filter struct {
	query *gojq.Query
}

func NewFilter(jqQuery string) (*Filter, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing filter query failed: %w", err)
	}

	return &Filter{query: query}, nil
}

func (f *Filter) String() string {
	return f.query.String()
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errs []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errs
		}

		if err, isErr := res.(error); isErr {
			errs = append(errs, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}

// Match evaluates the query for v. v is converted to its generic JSON
// representation before.
func (f *Filter) Match(ctx context.Context, v any) (bool, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return false, err
	}

	var in any
	if err := json.Unmarshal(buf, &in); err != nil {
		return false, err
	}

	result, errs := goJQIterToSlice(f.query.RunWithContext(ctx, in))
	if len(errs) != 0 {
		return false, fmt.Errorf("filter query returned errors, query: %q, errors: %s", f.query.String(), errString(errs))
	}

	if len(result) != 1 {
		return false, fmt.Errorf("filter query returned %d results, expected 1, query: %q", len(result), f.query.String())
	}

	val, ok := result[0].(bool)
	if !ok {
		return false, fmt.Errorf(
			"filter query returned non-bool result: %+v (%T), query: %q",
			result[0], result[0], f.query.String(),
		)
	}

	return val, nil
}
