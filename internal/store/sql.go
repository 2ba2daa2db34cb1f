package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/simplesurance/labeltracker/internal/history"
	"github.com/simplesurance/labeltracker/internal/trackerr"
)

// The statements are valid for postgres and sqlite. sqlite numbers $N
// parameters in the order of their first appearance, placeholders must
// therefore be used in ascending order.
const schema = `
CREATE TABLE IF NOT EXISTS tracker_meta (
	id INTEGER PRIMARY KEY,
	version INTEGER NOT NULL,
	owner TEXT NOT NULL,
	repo TEXT NOT NULL,
	label TEXT NOT NULL,
	issues_updated BIGINT,
	pulls_updated BIGINT
);

CREATE TABLE IF NOT EXISTS tracker_items (
	kind TEXT NOT NULL,
	id TEXT NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS tracker_history (
	kind TEXT NOT NULL,
	seq BIGINT NOT NULL,
	ts BIGINT NOT NULL,
	entity_id TEXT NOT NULL,
	action TEXT NOT NULL,
	channel TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (kind, seq)
);
`

const metaID = 1

// SQLStore stores the state of one tracker in a postgres or sqlite
// database.
// Entities are stored as JSON documents, history events as rows. A commit
// only inserts the new events of a run.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens the database and creates the tables if they do not
// exist. driver is BackendPostgres or BackendSQLite.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == BackendSQLite {
		// sqlite allows only one writer
		db.SetMaxOpenConns(1)
	}

	return newSQLStore(context.Background(), db)
}

func newSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating database schema failed: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Init(ctx context.Context, owner, repo, label string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracker_meta").Scan(&exists)
		if err != nil {
			return err
		}

		if exists > 0 {
			return errors.New("database already contains a tracker state")
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO tracker_meta (id, version, owner, repo, label) VALUES ($1, $2, $3, $4, $5)",
			metaID, history.StateVersion, owner, repo, label,
		)

		return err
	})
}

func (s *SQLStore) Load(ctx context.Context) (*history.State, error) {
	var state history.State
	var issuesUpdated, pullsUpdated sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		"SELECT version, owner, repo, label, issues_updated, pulls_updated FROM tracker_meta WHERE id = $1",
		metaID,
	).Scan(&state.Version, &state.Owner, &state.Repo, &state.Label, &issuesUpdated, &pullsUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tracker state: %w", trackerr.ErrNotFound)
		}

		return nil, fmt.Errorf("querying tracker state failed: %w", err)
	}

	state.IssuesUpdated = fromNullUnixNano(issuesUpdated)
	state.PullsUpdated = fromNullUnixNano(pullsUpdated)
	state.Issues = map[string]*history.Issue{}
	state.Pulls = map[string]*history.PullRequest{}

	if err := s.loadItems(ctx, &state); err != nil {
		return nil, err
	}

	for _, kind := range []history.Kind{history.KindIssues, history.KindPulls} {
		events, err := s.loadHistory(ctx, kind)
		if err != nil {
			return nil, err
		}

		state.AppendHistory(kind, events)
	}

	if err := state.Validate(); err != nil {
		return nil, err
	}

	return &state, nil
}

func (s *SQLStore) loadItems(ctx context.Context, state *history.State) error {
	rows, err := s.db.QueryContext(ctx, "SELECT kind, id, data FROM tracker_items")
	if err != nil {
		return fmt.Errorf("querying items failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, id, data string

		if err := rows.Scan(&kind, &id, &data); err != nil {
			return err
		}

		switch history.Kind(kind) {
		case history.KindIssues:
			var issue history.Issue
			if err := json.Unmarshal([]byte(data), &issue); err != nil {
				return fmt.Errorf("parsing issue %s failed: %w", id, err)
			}
			state.Issues[id] = &issue

		case history.KindPulls:
			var pr history.PullRequest
			if err := json.Unmarshal([]byte(data), &pr); err != nil {
				return fmt.Errorf("parsing pull request %s failed: %w", id, err)
			}
			state.Pulls[id] = &pr

		default:
			return fmt.Errorf("item %s has unsupported kind %q", id, kind)
		}
	}

	return rows.Err()
}

func (s *SQLStore) loadHistory(ctx context.Context, kind history.Kind) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ts, entity_id, action, channel FROM tracker_history WHERE kind = $1 ORDER BY seq",
		kind.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s history failed: %w", kind, err)
	}
	defer rows.Close()

	var result []history.Event
	for rows.Next() {
		var ts int64
		var action string
		var ev history.Event

		if err := rows.Scan(&ts, &ev.EntityID, &action, &ev.Channel); err != nil {
			return nil, err
		}

		ev.Time = time.Unix(0, ts).UTC()
		ev.Action = history.Action(action)
		if !ev.Action.Valid() {
			return nil, fmt.Errorf("%s history contains unknown action %q", kind, action)
		}
		result = append(result, ev)
	}

	return result, rows.Err()
}

func (s *SQLStore) Commit(ctx context.Context, kind history.Kind, state *history.State, newEvents []history.Event) error {
	log := state.History(kind)
	if len(newEvents) > len(log) {
		return fmt.Errorf("%d new events but the %s history only has %d", len(newEvents), kind, len(log))
	}
	firstSeq := len(log) - len(newEvents)

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var count int64
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM tracker_history WHERE kind = $1", kind.String(),
		).Scan(&count)
		if err != nil {
			return err
		}

		if count != int64(firstSeq) {
			return fmt.Errorf("%s history in database has %d events, expected %d, was it modified concurrently?", kind, count, firstSeq)
		}

		if err := upsertItems(ctx, tx, kind, state); err != nil {
			return err
		}

		for i, ev := range newEvents {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO tracker_history (kind, seq, ts, entity_id, action, channel) VALUES ($1, $2, $3, $4, $5, $6)",
				kind.String(), firstSeq+i, ev.Time.UnixNano(), ev.EntityID, ev.Action.String(), ev.Channel,
			)
			if err != nil {
				return fmt.Errorf("inserting %s event of %s failed: %w", ev.Action, ev.EntityID, err)
			}
		}

		column := "issues_updated"
		if kind == history.KindPulls {
			column = "pulls_updated"
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE tracker_meta SET "+column+" = $1 WHERE id = $2",
			toNullUnixNano(state.Watermark(kind)), metaID,
		)

		return err
	})
}

func upsertItems(ctx context.Context, tx *sql.Tx, kind history.Kind, state *history.State) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tracker_items (kind, id, data) VALUES ($1, $2, $3)
		 ON CONFLICT (kind, id) DO UPDATE SET data = excluded.data`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	upsert := func(id string, item any) error {
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}

		if _, err := stmt.ExecContext(ctx, kind.String(), id, string(data)); err != nil {
			return fmt.Errorf("storing %s %s failed: %w", kind, id, err)
		}

		return nil
	}

	switch kind {
	case history.KindIssues:
		for id, issue := range state.Issues {
			if err := upsert(id, issue); err != nil {
				return err
			}
		}

	case history.KindPulls:
		for id, pr := range state.Pulls {
			if err := upsert(id, pr); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("unsupported kind %q", kind)
	}

	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction failed: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}

	return nil
}

func toNullUnixNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullUnixNano(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}

	t := time.Unix(0, v.Int64).UTC()
	return &t
}
