package statsdb

import (
	"context"
	"time"

	"ctfbot.ai/internal/record"
)

type HandlerCount struct {
	Handler string
	Acted   int
	Errors  int
}

// HandlerCounts reports how often each handler acted and failed. An empty
// runID covers every run.
func (s *DB) HandlerCounts(ctx context.Context, runID string) ([]HandlerCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handler,
		       SUM(CASE WHEN acted = 1 AND outcome IN ('acted','benign') THEN 1 ELSE 0 END),
		       SUM(CASE WHEN outcome IN ('error','panic') THEN 1 ELSE 0 END)
		FROM decisions
		WHERE handler != '' AND (? = '' OR run_id = ?)
		GROUP BY handler
		ORDER BY handler`, runID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HandlerCount
	for rows.Next() {
		var c HandlerCount
		if err := rows.Scan(&c.Handler, &c.Acted, &c.Errors); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Matches lists recorded matches, newest first.
func (s *DB) Matches(ctx context.Context, limit int) ([]record.Match, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, ended_at, username, COALESCE(team,''), captures, score, players
		FROM matches
		ORDER BY ended_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []record.Match
	for rows.Next() {
		var m record.Match
		var ended string
		if err := rows.Scan(&m.RunID, &ended, &m.Username, &m.Team, &m.Captures, &m.Score, &m.Players); err != nil {
			return nil, err
		}
		m.EndedAt, _ = time.Parse(tsLayout, ended)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Runs lists registered runs, newest first.
func (s *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, username, started_at FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.ID, &r.Username, &started); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(tsLayout, started)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentErrors returns the latest failure messages of a run (all runs if empty).
func (s *DB) RecentErrors(ctx context.Context, runID string, limit int) ([]record.Iteration, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, ts, handler, outcome, message
		FROM errors
		WHERE (? = '' OR run_id = ?)
		ORDER BY ts DESC
		LIMIT ?`, runID, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []record.Iteration
	for rows.Next() {
		var it record.Iteration
		var at, outcome string
		var seq int64
		if err := rows.Scan(&it.RunID, &seq, &at, &it.Handler, &outcome, &it.Err); err != nil {
			return nil, err
		}
		it.Seq = uint64(seq)
		it.Outcome = record.Outcome(outcome)
		it.Time, _ = time.Parse(tsLayout, at)
		out = append(out, it)
	}
	return out, rows.Err()
}
