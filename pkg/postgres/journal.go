package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/pulse"
)

// DefaultJournalTable is the table used by a Journal unless overridden.
const DefaultJournalTable = "engine_transitions"

// Journal persists confirmed transitions so the history of an engine
// survives tracker restarts.
type Journal struct {
	pool  *pgxpool.Pool
	table string
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithTable sets the journal table name.
func WithTable(table string) JournalOption {
	return func(j *Journal) {
		j.table = table
	}
}

// NewJournal creates a Journal.
func NewJournal(pool *pgxpool.Pool, opts ...JournalOption) *Journal {
	j := &Journal{pool: pool, table: DefaultJournalTable}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Journal) ident() string {
	return pgx.Identifier{j.table}.Sanitize()
}

// Migrate creates the journal table if it does not exist.
func (j *Journal) Migrate(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			sequence   BIGINT      NOT NULL,
			engine     TEXT        NOT NULL,
			from_state TEXT        NOT NULL,
			to_state   TEXT        NOT NULL,
			cause      TEXT        NOT NULL,
			at         TIMESTAMPTZ NOT NULL,
			recorded   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, j.ident()))
	if err != nil {
		return fmt.Errorf("failed to create journal table: %w", err)
	}
	return nil
}

// Record appends one transition.
func (j *Journal) Record(ctx context.Context, tr pulse.Transition) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (sequence, engine, from_state, to_state, cause, at) VALUES ($1, $2, $3, $4, $5, $6)",
		j.ident(),
	)
	_, err := j.pool.Exec(ctx, query,
		int64(tr.Sequence), //nolint:gosec // sequence stays far below MaxInt64
		string(tr.Engine),
		tr.From.String(),
		tr.To.String(),
		tr.Cause.String(),
		tr.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record transition %d: %w", tr.Sequence, err)
	}
	return nil
}

// Forward records every transition delivered on sub until the subscription
// closes or the context ends.
func (j *Journal) Forward(ctx context.Context, sub *pulse.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := j.Record(ctx, tr); err != nil {
				return err
			}
		}
	}
}

// History returns up to limit of the most recent transitions of an engine,
// newest first.
func (j *Journal) History(ctx context.Context, engine pulse.EngineID, limit int) ([]pulse.Transition, error) {
	query := fmt.Sprintf(
		"SELECT sequence, engine, from_state, to_state, cause, at FROM %s WHERE engine = $1 ORDER BY sequence DESC LIMIT $2",
		j.ident(),
	)
	rows, err := j.pool.Query(ctx, query, string(engine), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []pulse.Transition
	for rows.Next() {
		var (
			tr            pulse.Transition
			seq           int64
			id            string
			from, to, why string
		)
		if err := rows.Scan(&seq, &id, &from, &to, &why, &tr.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		tr.Sequence = uint64(seq) //nolint:gosec // stored from a uint64
		tr.Engine = pulse.EngineID(id)
		if err := tr.From.UnmarshalText([]byte(from)); err != nil {
			return nil, err
		}
		if err := tr.To.UnmarshalText([]byte(to)); err != nil {
			return nil, err
		}
		if err := tr.Cause.UnmarshalText([]byte(why)); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
