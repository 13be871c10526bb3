package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"lifeauto/internal/automation"
	logx "lifeauto/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("storage.opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutRoutine(ctx context.Context, rec automation.RoutineRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	enabled := rec.Enabled == nil || *rec.Enabled
	_, err = tx.ExecContext(ctx,
		`INSERT INTO routines(id, user_id, name, description, enabled, created_at, updated_at, deleted_at)
		 VALUES(?,?,?,?,?,?,?,NULL)
		 ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, name=excluded.name,
		   description=excluded.description, enabled=excluded.enabled,
		   updated_at=excluded.updated_at, deleted_at=NULL`,
		rec.ID, rec.UserID, rec.Name, nullStr(rec.Description), boolInt(enabled),
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM triggers WHERE routine_id = ?`, rec.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM actions WHERE routine_id = ?`, rec.ID); err != nil {
		return err
	}
	for i, t := range rec.Triggers {
		params, err := marshalParams(t.Params)
		if err != nil {
			return err
		}
		var fired any
		if t.LastFiredAt != nil {
			fired = fmtTime(*t.LastFiredAt)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO triggers(id, routine_id, position, type, params, last_fired_at) VALUES(?,?,?,?,?,?)`,
			t.ID, rec.ID, i, t.Type, params, fired,
		); err != nil {
			return err
		}
	}
	for i, a := range rec.Actions {
		params, err := marshalParams(a.Params)
		if err != nil {
			return err
		}
		ord := i
		if a.Order != nil {
			ord = *a.Order
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO actions(id, routine_id, position, ord, type, params) VALUES(?,?,?,?,?,?)`,
			a.ID, rec.ID, i, ord, a.Type, params,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) GetRoutine(ctx context.Context, userID, id string) (automation.RoutineRecord, error) {
	if s == nil || s.db == nil {
		return automation.RoutineRecord{}, ErrDisabled
	}
	recs, err := s.queryRoutines(ctx,
		`SELECT id, user_id, name, description, enabled, created_at, updated_at FROM routines
		 WHERE id = ? AND (? = '' OR user_id = ?) AND deleted_at IS NULL`, id, userID, userID)
	if err != nil {
		return automation.RoutineRecord{}, err
	}
	if len(recs) == 0 {
		return automation.RoutineRecord{}, automation.ErrNotFound
	}
	return recs[0], nil
}

func (s *sqliteStore) ListRoutines(ctx context.Context, userID string) ([]automation.RoutineRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	return s.queryRoutines(ctx,
		`SELECT id, user_id, name, description, enabled, created_at, updated_at FROM routines
		 WHERE user_id = ? AND deleted_at IS NULL ORDER BY created_at, id`, userID)
}

func (s *sqliteStore) EnabledRoutines(ctx context.Context, userID string, kind automation.TriggerKind) ([]automation.RoutineRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT r.id, r.user_id, r.name, r.description, r.enabled, r.created_at, r.updated_at FROM routines r
	      WHERE r.enabled = 1 AND r.deleted_at IS NULL
	        AND EXISTS (SELECT 1 FROM triggers t WHERE t.routine_id = r.id AND t.type = ?)`
	args := []any{string(kind)}
	if userID != "" {
		q += ` AND r.user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY r.created_at, r.id`
	return s.queryRoutines(ctx, q, args...)
}

func (s *sqliteStore) DeleteRoutine(ctx context.Context, userID, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE routines SET deleted_at = ? WHERE id = ? AND user_id = ? AND deleted_at IS NULL`,
		fmtTime(at), id, userID)
	return affected(res, err, automation.ErrNotFound)
}

func (s *sqliteStore) SetRoutineEnabled(ctx context.Context, userID, id string, enabled bool, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE routines SET enabled = ?, updated_at = ? WHERE id = ? AND user_id = ? AND deleted_at IS NULL`,
		boolInt(enabled), fmtTime(at), id, userID)
	return affected(res, err, automation.ErrNotFound)
}

func (s *sqliteStore) SetTriggerFired(ctx context.Context, routineID, triggerID string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET last_fired_at = ? WHERE id = ? AND routine_id = ?`,
		fmtTime(at), triggerID, routineID)
	return affected(res, err, automation.ErrNotFound)
}

func (s *sqliteStore) queryRoutines(ctx context.Context, q string, args ...any) ([]automation.RoutineRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []automation.RoutineRecord
	for rows.Next() {
		var (
			rec                  automation.RoutineRecord
			desc                 sql.NullString
			enabled              int
			createdAt, updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Name, &desc, &enabled, &createdAt, &updatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		rec.Description = desc.String
		on := enabled == 1
		rec.Enabled = &on
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		out = append(out, rec)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Children are loaded after the cursor is closed: the pool has one connection.
	for i := range out {
		if err := s.loadComponents(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *sqliteStore) loadComponents(ctx context.Context, rec *automation.RoutineRecord) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, params, last_fired_at FROM triggers WHERE routine_id = ? ORDER BY position`, rec.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			c      automation.ComponentRecord
			params string
			fired  sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Type, &params, &fired); err != nil {
			_ = rows.Close()
			return err
		}
		if c.Params, err = unmarshalParams(params); err != nil {
			_ = rows.Close()
			return err
		}
		if fired.Valid {
			at := parseTime(fired.String)
			c.LastFiredAt = &at
		}
		rec.Triggers = append(rec.Triggers, c)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, type, params, ord FROM actions WHERE routine_id = ? ORDER BY position`, rec.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c      automation.ComponentRecord
			params string
			ord    int
		)
		if err := rows.Scan(&c.ID, &c.Type, &params, &ord); err != nil {
			return err
		}
		if c.Params, err = unmarshalParams(params); err != nil {
			return err
		}
		c.Order = &ord
		rec.Actions = append(rec.Actions, c)
	}
	return rows.Err()
}

func (s *sqliteStore) InsertRun(ctx context.Context, run automation.Run) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	outcomes, err := json.Marshal(nonNilOutcomes(run.Outcomes))
	if err != nil {
		return err
	}
	var finished any
	if run.FinishedAt != nil {
		finished = fmtTime(*run.FinishedAt)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, routine_id, user_id, trigger_ref, trigger_id, fired_at, status, outcomes, finished_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		run.ID, run.RoutineID, run.UserID, run.TriggerRef, nullStr(run.TriggerID),
		fmtTime(run.FiredAt), string(run.Status), string(outcomes), finished,
	)
	return err
}

func (s *sqliteStore) CompleteRun(ctx context.Context, runID string, outcomes []automation.Outcome, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT outcomes FROM runs WHERE id = ? AND status = ?`, runID, string(automation.RunFiring)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRunNotOpen
	}
	if err != nil {
		return err
	}
	var prev []automation.Outcome
	if err := json.Unmarshal([]byte(raw), &prev); err != nil {
		return err
	}
	b, err := json.Marshal(nonNilOutcomes(append(prev, outcomes...)))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, outcomes = ?, finished_at = ? WHERE id = ?`,
		string(automation.RunCompleted), string(b), fmtTime(at), runID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListRuns(ctx context.Context, routineID string, limit int) ([]automation.Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	return s.queryRuns(ctx,
		`SELECT id, routine_id, user_id, trigger_ref, trigger_id, fired_at, status, outcomes, finished_at
		 FROM runs WHERE routine_id = ? ORDER BY seq DESC LIMIT ?`, routineID, clampLimit(limit))
}

func (s *sqliteStore) OpenRuns(ctx context.Context) ([]automation.Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	return s.queryRuns(ctx,
		`SELECT id, routine_id, user_id, trigger_ref, trigger_id, fired_at, status, outcomes, finished_at
		 FROM runs WHERE status = ? ORDER BY seq`, string(automation.RunFiring))
}

func (s *sqliteStore) queryRuns(ctx context.Context, q string, args ...any) ([]automation.Run, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []automation.Run
	for rows.Next() {
		var (
			run             automation.Run
			triggerID       sql.NullString
			firedAt, status string
			outcomes        string
			finished        sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.RoutineID, &run.UserID, &run.TriggerRef, &triggerID,
			&firedAt, &status, &outcomes, &finished); err != nil {
			return nil, err
		}
		run.TriggerID = triggerID.String
		run.FiredAt = parseTime(firedAt)
		run.Status = automation.RunStatus(status)
		if err := json.Unmarshal([]byte(outcomes), &run.Outcomes); err != nil {
			return nil, err
		}
		if finished.Valid {
			at := parseTime(finished.String)
			run.FinishedAt = &at
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutEffect(ctx context.Context, e Effect) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	if e.DedupKey == "" {
		e.DedupKey = e.ID
	}
	var data any
	if len(e.Data) > 0 {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return false, err
		}
		data = string(b)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO effects(id, user_id, routine_id, kind, title, body, data, dedup_key, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?) ON CONFLICT(dedup_key) DO NOTHING`,
		e.ID, e.UserID, nullStr(e.RoutineID), e.Kind, e.Title, nullStr(e.Body), data, e.DedupKey, fmtTime(e.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) ListEffects(ctx context.Context, userID string, limit int) ([]Effect, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, routine_id, kind, title, body, data, dedup_key, created_at
		 FROM effects WHERE user_id = ? ORDER BY seq DESC LIMIT ?`, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Effect
	for rows.Next() {
		var (
			e                     Effect
			routineID, body, data sql.NullString
			createdAt             string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &routineID, &e.Kind, &e.Title, &body, &data, &e.DedupKey, &createdAt); err != nil {
			return nil, err
		}
		e.RoutineID = routineID.String
		e.Body = body.String
		e.CreatedAt = parseTime(createdAt)
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendEvent(ctx context.Context, e automation.Event) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	payload, err := marshalParams(e.Payload)
	if err != nil {
		return err
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events(id, type, user_id, payload, at) VALUES(?,?,?,?,?)`,
		nullStr(e.ID), string(e.Type), e.UserID, payload, at.UTC().UnixNano())
	return err
}

func (s *sqliteStore) EventsSince(ctx context.Context, userID string, typ automation.EventType, since time.Time) ([]automation.Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, user_id, payload, at FROM events
		 WHERE user_id = ? AND type = ? AND at >= ? ORDER BY at, seq`,
		userID, string(typ), since.UTC().UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []automation.Event
	for rows.Next() {
		var (
			e       automation.Event
			id      sql.NullString
			rawType string
			payload sql.NullString
			at      int64
		)
		if err := rows.Scan(&id, &rawType, &e.UserID, &payload, &at); err != nil {
			return nil, err
		}
		e.ID = id.String
		e.Type = automation.EventType(rawType)
		e.At = time.Unix(0, at).UTC()
		if payload.Valid {
			p, err := unmarshalParams(payload.String)
			if err != nil {
				return nil, err
			}
			e.Payload = p
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	until := time.UnixMilli(ms)
	if until.Before(time.Now()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func affected(res sql.Result, err error, none error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

func marshalParams(p map[string]any) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalParams(raw string) (automation.Params, error) {
	out := automation.Params{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nonNilOutcomes(o []automation.Outcome) []automation.Outcome {
	if o == nil {
		return []automation.Outcome{}
	}
	return o
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
