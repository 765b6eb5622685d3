package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowvm/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Working memory ---

func (s *LibSQLStore) SetMemory(ctx context.Context, owner, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO working_memory (owner, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(owner, key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP`,
		owner, key, string(value),
	)
	if err != nil {
		return storeErr("set memory", err)
	}
	return nil
}

func (s *LibSQLStore) GetMemory(ctx context.Context, owner, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM working_memory WHERE owner = ? AND key = ?`, owner, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeErr("get memory", err)
	}
	return []byte(value), true, nil
}

func (s *LibSQLStore) DeleteMemory(ctx context.Context, owner, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM working_memory WHERE owner = ? AND key = ?`, owner, key,
	)
	if err != nil {
		return storeErr("delete memory", err)
	}
	return nil
}

func (s *LibSQLStore) ListMemoryKeys(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM working_memory WHERE owner = ? ORDER BY key`, owner,
	)
	if err != nil {
		return nil, storeErr("list memory keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, storeErr("scan memory key", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Graph edges ---

func (s *LibSQLStore) AppendEdge(ctx context.Context, edge *Edge) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO graph_edges (run_id, edge_type, target, data, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		edge.RunID, edge.Type, edge.Target, nullRaw(edge.Data), timeOrNow(edge.CreatedAt),
	)
	if err != nil {
		return storeErr("append edge", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		edge.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListEdges(ctx context.Context, filter EdgeFilter) ([]*Edge, error) {
	var where []string
	var args []any

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Type != "" {
		where = append(where, "edge_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Target != "" {
		where = append(where, "target = ?")
		args = append(args, filter.Target)
	}

	query := `SELECT id, run_id, edge_type, target, data, created_at FROM graph_edges`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list edges", err)
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		e := &Edge{}
		var data sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Target, &data, &e.CreatedAt); err != nil {
			return nil, storeErr("scan edge", err)
		}
		e.Data = rawOrNil(data)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// --- Child instances ---

func (s *LibSQLStore) CreateInstance(ctx context.Context, inst *Instance) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO instances (id, instance_type, name, data, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(instance_type, name) DO NOTHING`,
		inst.ID, inst.Type, inst.Name, nullRaw(inst.Data), timeOrNow(inst.CreatedAt),
	)
	if err != nil {
		return storeErr("create instance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("create instance", err)
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeStore,
			"instance %s/%s already exists", inst.Type, inst.Name)
	}
	return nil
}

func (s *LibSQLStore) GetInstance(ctx context.Context, typeName, name string) (*Instance, bool, error) {
	inst := &Instance{}
	var data sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, instance_type, name, data, created_at FROM instances
		 WHERE instance_type = ? AND name = ?`, typeName, name,
	).Scan(&inst.ID, &inst.Type, &inst.Name, &data, &inst.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeErr("get instance", err)
	}
	inst.Data = rawOrNil(data)
	return inst, true, nil
}

func (s *LibSQLStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error) {
	var where []string
	var args []any

	if filter.Type != "" {
		where = append(where, "instance_type = ?")
		args = append(args, filter.Type)
	}

	query := `SELECT id, instance_type, name, data, created_at FROM instances`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list instances", err)
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		inst := &Instance{}
		var data sql.NullString
		if err := rows.Scan(&inst.ID, &inst.Type, &inst.Name, &data, &inst.CreatedAt); err != nil {
			return nil, storeErr("scan instance", err)
		}
		inst.Data = rawOrNil(data)
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// --- Run records ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, program, status, result, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Program, run.Status, nullRaw(run.Result), nullStr(run.Error),
		timeOrNow(run.StartedAt), nullTime(run.FinishedAt),
	)
	if err != nil {
		return storeErr("create run", err)
	}
	return nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	if update.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, string(update.Result))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("update run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("update run", err)
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeStore, "run %q not found", id)
	}
	return nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	r := &RunRecord{}
	var result, errMsg sql.NullString
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, program, status, result, error, started_at, finished_at FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Program, &r.Status, &result, &errMsg, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "run %q not found", id)
	}
	if err != nil {
		return nil, storeErr("get run", err)
	}
	r.Result = rawOrNil(result)
	r.Error = errMsg.String
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	var where []string
	var args []any

	if filter.Program != "" {
		where = append(where, "program = ?")
		args = append(args, filter.Program)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, program, status, result, error, started_at, finished_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list runs", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		r := &RunRecord{}
		var result, errMsg sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Program, &r.Status, &result, &errMsg, &r.StartedAt, &finished); err != nil {
			return nil, storeErr("scan run", err)
		}
		r.Result = rawOrNil(result)
		r.Error = errMsg.String
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Helpers ---

func storeErr(op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
