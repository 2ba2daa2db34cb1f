package githubclt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// The GraphQL client only reports the first error message of a response.
// Deciding if a query failed only because of timeouts requires all of them,
// errorCapturingTransport records them into an errorSink stored in the
// request context.

type errorSinkKey struct{}

type errorSink struct {
	messages []string
}

func withErrorSink(ctx context.Context) (context.Context, *errorSink) {
	sink := errorSink{}
	return context.WithValue(ctx, errorSinkKey{}, &sink), &sink
}

type errorCapturingTransport struct {
	next http.RoundTripper
}

func (t *errorCapturingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	sink, ok := req.Context().Value(errorSinkKey{}).(*errorSink)
	if !ok || resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))

	var payload struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	// a body that is not JSON is reported by the GraphQL client
	if err := json.Unmarshal(body, &payload); err != nil {
		return resp, nil
	}

	for _, e := range payload.Errors {
		sink.messages = append(sink.messages, e.Message)
	}

	return resp, nil
}
