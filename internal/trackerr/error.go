// Package trackerr defines the error types returned by the synchronization
// and landing detection pipeline.
//
// Only a TimeoutError is ever retried automatically, by the fetch loop
// collapsing its page size. Every other error aborts the run before
// anything is committed.
package trackerr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by lookups for an entity that is not tracked.
var ErrNotFound = errors.New("not found")

// TransportError is a network or HTTP level failure when talking to the
// upstream API.
type TransportError struct {
	Err error
}

func NewTransportError(err error) *TransportError {
	return &TransportError{Err: err}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", e.Err)
}

// UpstreamProtocolError is returned when the upstream API answered with a
// list of errors that are not all timeouts.
type UpstreamProtocolError struct {
	Messages []string
}

func NewUpstreamProtocolError(messages []string) *UpstreamProtocolError {
	return &UpstreamProtocolError{Messages: messages}
}

func (e *UpstreamProtocolError) Error() string {
	return fmt.Sprintf("query failed: %s", strings.Join(e.Messages, "; "))
}

// TimeoutError is returned when every error reported by the upstream API is
// a timeout.
type TimeoutError struct {
	Messages []string
}

func NewTimeoutError(messages []string) *TimeoutError {
	return &TimeoutError{Messages: messages}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query timed out: %s", strings.Join(e.Messages, "; "))
}

// MissingUpstreamDataError is returned when a response carries no data or
// no repository.
type MissingUpstreamDataError struct {
	What string
}

func NewMissingUpstreamDataError(what string) *MissingUpstreamDataError {
	return &MissingUpstreamDataError{What: what}
}

func (e *MissingUpstreamDataError) Error() string {
	return fmt.Sprintf("query returned no %s", e.What)
}

// GitAncestryError is returned when the ancestry collaborator failed,
// either while refreshing the mirror or while checking a commit.
type GitAncestryError struct {
	// EntityID is the pull request that was checked, empty for mirror
	// refresh failures.
	EntityID string
	Err      error
}

func NewGitAncestryError(entityID string, err error) *GitAncestryError {
	return &GitAncestryError{EntityID: entityID, Err: err}
}

func (e *GitAncestryError) Unwrap() error {
	return e.Err
}

func (e *GitAncestryError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("git mirror failure: %s", e.Err)
	}

	return fmt.Sprintf("failed to check landing status of %s: %s", e.EntityID, e.Err)
}

// CorruptHistoryError is returned when a history event references an
// entity that does not exist in the snapshot map. It indicates a bug or
// damaged storage, never a transient condition.
type CorruptHistoryError struct {
	EntityID string
}

func NewCorruptHistoryError(entityID string) *CorruptHistoryError {
	return &CorruptHistoryError{EntityID: entityID}
}

func (e *CorruptHistoryError) Error() string {
	return fmt.Sprintf("database is corrupted (dangling key %s)", e.EntityID)
}
