// Package feed renders the recent history of a tracker as RSS 2.0 feed.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/simplesurance/labeltracker/internal/history"
)

const DefaultMaxAge = 24 * time.Hour

// Options configure which history entries are rendered.
type Options struct {
	// MaxAge is the age of the oldest rendered event, relative to Now.
	MaxAge time.Duration
	Now    time.Time
	// Filter is optional.
	Filter *Filter
}

func (o *Options) cutoff() time.Time {
	maxAge := o.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	return o.Now.Add(-maxAge)
}

// RSS is an RSS 2.0 document.
type RSS struct {
	XMLName   xml.Name `xml:"rss"`
	Version   string   `xml:"version,attr"`
	ContentNS string   `xml:"xmlns:content,attr"`
	Channel   Channel  `xml:"channel"`
}

type Channel struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Items       []Item `xml:"item"`
}

type Item struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	GUID    GUID   `xml:"guid"`
	PubDate string `xml:"pubDate"`
	Content string `xml:"content:encoded,omitempty"`
}

type GUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

// Write writes the XML document to w.
func (r *RSS) Write(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	if err := enc.Encode(r); err != nil {
		return err
	}

	_, err := io.WriteString(w, "\n")
	return err
}

func newRSS(title, link string, items []Item) *RSS {
	return &RSS{
		Version:   "2.0",
		ContentNS: "http://purl.org/rss/1.0/modules/content/",
		Channel: Channel{
			Title:       title,
			Link:        link,
			Description: title,
			Items:       items,
		},
	}
}

func repoURL(state *history.State) string {
	return fmt.Sprintf("https://github.com/%s/%s", state.Owner, state.Repo)
}

type filterInput struct {
	Kind    history.Kind   `json:"kind"`
	Action  history.Action `json:"action"`
	Time    time.Time      `json:"time"`
	Channel string         `json:"channel,omitempty"`
	Entity  any            `json:"entity"`
}

func render[T any](
	ctx context.Context,
	kind history.Kind,
	events []history.Event,
	items map[string]T,
	opts *Options,
	newItem func(*history.Entry[T]) Item,
) ([]Item, error) {
	entries, err := history.Window(events, items, opts.cutoff())
	if err != nil {
		return nil, err
	}

	result := make([]Item, 0, len(entries))
	for _, e := range entries {
		if opts.Filter != nil {
			match, err := opts.Filter.Match(ctx, &filterInput{
				Kind:    kind,
				Action:  e.Event.Action,
				Time:    e.Event.Time,
				Channel: e.Event.Channel,
				Entity:  e.Entity,
			})
			if err != nil {
				return nil, err
			}

			if !match {
				continue
			}
		}

		item := newItem(e)
		item.GUID = GUID{Value: e.Key}
		item.PubDate = e.Event.Time.UTC().Format(time.RFC1123Z)

		result = append(result, item)
	}

	return result, nil
}

// Issues returns the feed of the recent issue history.
func Issues(ctx context.Context, state *history.State, opts *Options) (*RSS, error) {
	items, err := render(ctx, history.KindIssues, state.IssueHistory, state.Issues, opts,
		func(e *history.Entry[*history.Issue]) Item {
			return Item{
				Title:   e.Event.Action.Tag() + " " + e.Entity.Title,
				Link:    e.Entity.URL,
				Content: e.Entity.Body,
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("rendering issue feed failed: %w", err)
	}

	return newRSS(
		fmt.Sprintf("Issues labeled `%s' in %s/%s", state.Label, state.Owner, state.Repo),
		repoURL(state)+"/issues",
		items,
	), nil
}

// Pulls returns the feed of the recent pull request history.
// Landing entries name the channel, all other entries the base branch of
// the pull request.
func Pulls(ctx context.Context, state *history.State, opts *Options) (*RSS, error) {
	items, err := render(ctx, history.KindPulls, state.PullHistory, state.Pulls, opts,
		func(e *history.Entry[*history.PullRequest]) Item {
			ref := e.Entity.BaseRef
			if e.Event.Action == history.ActionLanded {
				ref = e.Event.Channel
			}

			return Item{
				Title:   fmt.Sprintf("%s(%s) %s", e.Event.Action.Tag(), ref, e.Entity.Title),
				Link:    e.Entity.URL,
				Content: e.Entity.Body,
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("rendering pull request feed failed: %w", err)
	}

	return newRSS(
		fmt.Sprintf("Pull requests labeled `%s' in %s/%s", state.Label, state.Owner, state.Repo),
		repoURL(state)+"/pulls",
		items,
	), nil
}
