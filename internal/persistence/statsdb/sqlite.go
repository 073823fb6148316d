// Package statsdb indexes decisions, errors and match results in SQLite so
// they can be queried after a run. The journal stays the source of truth;
// this index drops writes rather than slow the loop down.
package statsdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"ctfbot.ai/internal/record"
)

type DB struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropIteration atomic.Uint64
	dropEvent     atomic.Uint64
	dropMatch     atomic.Uint64
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqIteration
	reqEvent
	reqMatch
)

type req struct {
	kind reqKind

	run       Run
	iteration record.Iteration
	event     record.Event
	match     record.Match
}

type Run struct {
	ID        string
	Username  string
	StartedAt time.Time
}

// Open opens (creating if needed) the database at path and starts the writer.
func Open(path string) (*DB, error) {
	return open(path, 65536)
}

func open(path string, queue int) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &DB{db: db, ch: make(chan req, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			gen INTEGER NOT NULL,
			ts TEXT NOT NULL,
			handler TEXT NOT NULL,
			acted INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			intent TEXT,
			x REAL, y REAL, z REAL,
			health REAL NOT NULL,
			took_ns INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_handler ON decisions(run_id, handler);`,
		`CREATE TABLE IF NOT EXISTS errors (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts TEXT NOT NULL,
			handler TEXT NOT NULL,
			outcome TEXT NOT NULL,
			message TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			kind TEXT NOT NULL,
			player TEXT,
			team TEXT,
			reason TEXT,
			gen INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS matches (
			run_id TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			username TEXT NOT NULL,
			team TEXT,
			captures INTEGER NOT NULL,
			score INTEGER NOT NULL,
			players INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_ended ON matches(ended_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains queued writes and closes the database.
func (s *DB) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *DB) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		if drops != nil {
			drops.Add(1)
		}
	}
}

// BeginRun registers a run. Decisions of unknown runs are still stored.
func (s *DB) BeginRun(r Run) { s.enqueue(req{kind: reqRun, run: r}, nil) }

func (s *DB) RecordIteration(r record.Iteration) {
	s.enqueue(req{kind: reqIteration, iteration: r}, &s.dropIteration)
}

func (s *DB) RecordEvent(r record.Event) {
	s.enqueue(req{kind: reqEvent, event: r}, &s.dropEvent)
}

func (s *DB) RecordMatch(r record.Match) {
	s.enqueue(req{kind: reqMatch, match: r}, &s.dropMatch)
}

var _ record.Sink = (*DB)(nil)

type QueueStats struct {
	DropIterationTotal uint64
	DropEventTotal     uint64
	DropMatchTotal     uint64
	QueueDepth         int
	QueueCapacity      int
}

func (s *DB) Stats() QueueStats {
	return QueueStats{
		DropIterationTotal: s.dropIteration.Load(),
		DropEventTotal:     s.dropEvent.Load(),
		DropMatchTotal:     s.dropMatch.Load(),
		QueueDepth:         len(s.ch),
		QueueCapacity:      cap(s.ch),
	}
}

// tsLayout is fixed width so timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(tsLayout)
}

func (s *DB) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,username,started_at) VALUES(?,?,?)`)
	insertDecision, _ := s.db.Prepare(`INSERT OR REPLACE INTO decisions(run_id,seq,gen,ts,handler,acted,outcome,intent,x,y,z,health,took_ns) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertError, _ := s.db.Prepare(`INSERT OR REPLACE INTO errors(run_id,seq,ts,handler,outcome,message) VALUES(?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT INTO events(run_id,ts,kind,player,team,reason,gen) VALUES(?,?,?,?,?,?,?)`)
	insertMatch, _ := s.db.Prepare(`INSERT INTO matches(run_id,ended_at,username,team,captures,score,players) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, insertDecision, insertError, insertEvent, insertMatch} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	// Idle periods still commit, so readers see recent rows.
	tick := time.NewTicker(commitMaxWait)
	defer tick.Stop()

	for {
		var r req
		var ok bool
		select {
		case r, ok = <-s.ch:
			if !ok {
				commit()
				return
			}
		case <-tick.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			exec(insertRun, r.run.ID, r.run.Username, ts(r.run.StartedAt))

		case reqIteration:
			it := r.iteration
			var kind any
			var x, y, z any
			if it.Intent != nil {
				kind = string(it.Intent.Kind)
				x, y, z = it.Intent.Target.X, it.Intent.Target.Y, it.Intent.Target.Z
			}
			acted := 0
			if it.Acted {
				acted = 1
			}
			if !exec(insertDecision, it.RunID, int64(it.Seq), int64(it.Generation), ts(it.Time),
				it.Handler, acted, string(it.Outcome), kind, x, y, z, it.Health, int64(it.Took)) {
				continue
			}
			if it.Outcome == record.OutcomeError || it.Outcome == record.OutcomePanic {
				exec(insertError, it.RunID, int64(it.Seq), ts(it.Time), it.Handler, string(it.Outcome), it.Err)
			}

		case reqEvent:
			ev := r.event
			exec(insertEvent, ev.RunID, ts(ev.Time), string(ev.Kind), ev.Player, ev.Team, ev.Reason, int64(ev.Generation))

		case reqMatch:
			m := r.match
			exec(insertMatch, m.RunID, ts(m.EndedAt), m.Username, m.Team, m.Captures, m.Score, m.Players)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}
}
