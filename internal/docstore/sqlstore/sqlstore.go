// Package sqlstore implements docstore.Store on SQLite.
//
// Unlike the JSONL backend it resolves identifier sets in one query
// (docstore.IDSetFinder) and answers reference lookups from an index table
// instead of scanning the workspace.
package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/maruel/ksid"
	"github.com/mattn/go-sqlite3"

	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/jcr"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema, node_refs possibly empty
// 1 - node_refs backfilled from the stored properties
const currentSchemaVersion = 1

// Store is a docstore.Store backed by a SQLite database.
// Uses WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement, used to cascade node_refs
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 rebuilds node_refs from the props column of every node.
func migrateToV1(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	rows, err := tx.Query("SELECT seq, w_id, props FROM nodes")
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	type pending struct {
		seq   int64
		ws    string
		props []docstore.PropertyRecord
	}
	var all []pending
	for rows.Next() {
		var p pending
		var raw string
		if err := rows.Scan(&p.seq, &p.ws, &raw); err != nil {
			_ = rows.Close()
			return fmt.Errorf("migrate to v1: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &p.props); err != nil {
			_ = rows.Close()
			return fmt.Errorf("migrate to v1: node %d: %w", p.seq, err)
		}
		all = append(all, p)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	for _, p := range all {
		if err := writeRefs(context.Background(), tx, p.seq, p.ws, p.props); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return tx.Commit()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const nodeColumns = "id, w_id, path, parent, type, props"

func scanNode(sc interface{ Scan(...any) error }) (*docstore.NodeDoc, error) {
	var id, ws, props string
	d := &docstore.NodeDoc{}
	if err := sc.Scan(&id, &ws, &d.Path, &d.Parent, &d.Type, &props); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, err
	}
	var err error
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("node %s: %w", d.Path, err)
	}
	if d.WorkspaceID, err = ksid.Parse(ws); err != nil {
		return nil, fmt.Errorf("node %s: %w", d.Path, err)
	}
	if err := json.Unmarshal([]byte(props), &d.Props); err != nil {
		return nil, fmt.Errorf("node %s: %w", d.Path, err)
	}
	return d, nil
}

func queryNodes(ctx context.Context, q querier, query string, args ...any) ([]*docstore.NodeDoc, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*docstore.NodeDoc
	for rows.Next() {
		d, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// subtreeClause selects root and its descendants. substr is used rather than
// LIKE, which is case-insensitive and treats % and _ as wildcards.
func subtreeClause(root string) (string, []any) {
	if root == "/" {
		return "1 = 1", nil
	}
	prefix := root + "/"
	return "(path = ? OR substr(path, 1, length(?)) = ?)", []any{root, prefix, prefix}
}

// FindNode implements docstore.Store.
func (s *Store) FindNode(ctx context.Context, ws ksid.ID, path string) (*docstore.NodeDoc, error) {
	return scanNode(s.db.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM nodes WHERE w_id = ? AND path = ?", ws.String(), path))
}

// FindNodeByID implements docstore.Store.
func (s *Store) FindNodeByID(ctx context.Context, ws ksid.ID, id uuid.UUID) (*docstore.NodeDoc, error) {
	return scanNode(s.db.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM nodes WHERE w_id = ? AND id = ?", ws.String(), id.String()))
}

// FindNodesByID implements docstore.IDSetFinder.
func (s *Store) FindNodesByID(ctx context.Context, ws ksid.ID, ids []uuid.UUID) ([]*docstore.NodeDoc, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, ws.String())
	for _, id := range ids {
		args = append(args, id.String())
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	return queryNodes(ctx, s.db,
		"SELECT "+nodeColumns+" FROM nodes WHERE w_id = ? AND id IN ("+placeholders+") ORDER BY seq", args...)
}

// Children implements docstore.Store.
func (s *Store) Children(ctx context.Context, ws ksid.ID, path string) ([]*docstore.NodeDoc, error) {
	return queryNodes(ctx, s.db,
		"SELECT "+nodeColumns+" FROM nodes WHERE w_id = ? AND parent = ? ORDER BY seq", ws.String(), path)
}

// Subtree implements docstore.Store.
func (s *Store) Subtree(ctx context.Context, ws ksid.ID, root string) ([]*docstore.NodeDoc, error) {
	clause, args := subtreeClause(root)
	return queryNodes(ctx, s.db,
		"SELECT "+nodeColumns+" FROM nodes WHERE w_id = ? AND "+clause+" ORDER BY path",
		append([]any{ws.String()}, args...)...)
}

// InsertNode implements docstore.Store.
func (s *Store) InsertNode(ctx context.Context, doc *docstore.NodeDoc) error {
	return s.writeNode(ctx, doc, func(tx *sql.Tx, props string) (sql.Result, error) {
		return tx.ExecContext(ctx,
			"INSERT INTO nodes ("+nodeColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			doc.ID.String(), doc.WorkspaceID.String(), doc.Path, doc.Parent, doc.Type, props)
	})
}

// UpsertNode implements docstore.Store.
func (s *Store) UpsertNode(ctx context.Context, doc *docstore.NodeDoc) error {
	return s.writeNode(ctx, doc, func(tx *sql.Tx, props string) (sql.Result, error) {
		return tx.ExecContext(ctx, `
			INSERT INTO nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (w_id, path) DO UPDATE SET
				id = excluded.id, parent = excluded.parent, type = excluded.type, props = excluded.props`,
			doc.ID.String(), doc.WorkspaceID.String(), doc.Path, doc.Parent, doc.Type, props)
	})
}

// SaveNode implements docstore.Store.
func (s *Store) SaveNode(ctx context.Context, doc *docstore.NodeDoc) error {
	err := s.writeNode(ctx, doc, func(tx *sql.Tx, props string) (sql.Result, error) {
		res, err := tx.ExecContext(ctx,
			"UPDATE nodes SET path = ?, parent = ?, type = ?, props = ? WHERE w_id = ? AND id = ?",
			doc.Path, doc.Parent, doc.Type, props, doc.WorkspaceID.String(), doc.ID.String())
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("%w: identifier %s", docstore.ErrNotFound, doc.ID)
		}
		return res, nil
	})
	return err
}

// writeNode runs one node write and refreshes its reference rows in a
// single transaction.
func (s *Store) writeNode(ctx context.Context, doc *docstore.NodeDoc, exec func(tx *sql.Tx, props string) (sql.Result, error)) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	props, err := marshalProps(doc.Props)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := exec(tx, props); err != nil {
		return mapConstraint(err, doc.Path)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT seq FROM nodes WHERE w_id = ? AND path = ?",
		doc.WorkspaceID.String(), doc.Path).Scan(&seq); err != nil {
		return err
	}
	if err := writeRefs(ctx, tx, seq, doc.WorkspaceID.String(), doc.Props); err != nil {
		return err
	}
	return tx.Commit()
}

func marshalProps(props []docstore.PropertyRecord) (string, error) {
	if props == nil {
		props = []docstore.PropertyRecord{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("failed to marshal properties: %w", err)
	}
	return string(b), nil
}

func writeRefs(ctx context.Context, q querier, seq int64, ws string, props []docstore.PropertyRecord) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM node_refs WHERE node_seq = ?", seq); err != nil {
		return err
	}
	for i := range props {
		for _, target := range props[i].References() {
			if _, err := q.ExecContext(ctx,
				"INSERT INTO node_refs (node_seq, w_id, name, type, target) VALUES (?, ?, ?, ?, ?)",
				seq, ws, props[i].Name, props[i].Type.String(), target); err != nil {
				return err
			}
		}
	}
	return nil
}

func mapConstraint(err error, path string) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %s", docstore.ErrExists, path)
	}
	return err
}

// modifyProps applies fn to the properties of the node at path. It reports
// false when the node does not exist or fn left it unchanged.
func (s *Store) modifyProps(ctx context.Context, ws ksid.ID, path string, fn func([]docstore.PropertyRecord) ([]docstore.PropertyRecord, bool)) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()
	var seq int64
	var raw string
	err = tx.QueryRowContext(ctx, "SELECT seq, props FROM nodes WHERE w_id = ? AND path = ?", ws.String(), path).Scan(&seq, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var props []docstore.PropertyRecord
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return false, fmt.Errorf("node %s: %w", path, err)
	}
	props, changed := fn(props)
	if !changed {
		return false, nil
	}
	encoded, err := marshalProps(props)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE nodes SET props = ? WHERE seq = ?", encoded, seq); err != nil {
		return false, err
	}
	if err := writeRefs(ctx, tx, seq, ws.String(), props); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// SetProperty implements docstore.Store.
func (s *Store) SetProperty(ctx context.Context, ws ksid.ID, path string, rec *docstore.PropertyRecord) (bool, error) {
	return s.modifyProps(ctx, ws, path, func(props []docstore.PropertyRecord) ([]docstore.PropertyRecord, bool) {
		for i := range props {
			if props[i].Name == rec.Name {
				props[i] = rec.Clone()
				return props, true
			}
		}
		return props, false
	})
}

// PushProperty implements docstore.Store.
func (s *Store) PushProperty(ctx context.Context, ws ksid.ID, path string, rec *docstore.PropertyRecord) error {
	found, err := s.modifyProps(ctx, ws, path, func(props []docstore.PropertyRecord) ([]docstore.PropertyRecord, bool) {
		return append(props, rec.Clone()), true
	})
	if err == nil && !found {
		err = fmt.Errorf("%w: %s", docstore.ErrNotFound, path)
	}
	return err
}

// PullProperty implements docstore.Store.
func (s *Store) PullProperty(ctx context.Context, ws ksid.ID, path, name string) (bool, error) {
	return s.modifyProps(ctx, ws, path, func(props []docstore.PropertyRecord) ([]docstore.PropertyRecord, bool) {
		for i := range props {
			if props[i].Name == name {
				return append(props[:i], props[i+1:]...), true
			}
		}
		return props, false
	})
}

// DeleteSubtree implements docstore.Store.
func (s *Store) DeleteSubtree(ctx context.Context, ws ksid.ID, root string) (int, error) {
	clause, args := subtreeClause(root)
	res, err := s.db.ExecContext(ctx, "DELETE FROM nodes WHERE w_id = ? AND "+clause, append([]any{ws.String()}, args...)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteWorkspaceNodes implements docstore.Store.
func (s *Store) DeleteWorkspaceNodes(ctx context.Context, ws ksid.ID) (int, error) {
	return s.DeleteSubtree(ctx, ws, "/")
}

// FindReferencing implements docstore.Store.
func (s *Store) FindReferencing(ctx context.Context, ws ksid.ID, typ jcr.PropertyType, target string) ([]*docstore.NodeDoc, error) {
	return queryNodes(ctx, s.db, `
		SELECT `+nodeColumns+` FROM nodes WHERE seq IN (
			SELECT node_seq FROM node_refs WHERE w_id = ? AND target = ? AND type = ?
		) ORDER BY seq`, ws.String(), target, typ.String())
}

// FindWorkspace implements docstore.Store.
func (s *Store) FindWorkspace(ctx context.Context, name string) (*docstore.WorkspaceDoc, error) {
	var id string
	w := &docstore.WorkspaceDoc{}
	err := s.db.QueryRowContext(ctx, "SELECT id, name FROM workspaces WHERE name = ?", name).Scan(&id, &w.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if w.ID, err = ksid.Parse(id); err != nil {
		return nil, fmt.Errorf("workspace %s: %w", name, err)
	}
	return w, nil
}

// InsertWorkspace implements docstore.Store.
func (s *Store) InsertWorkspace(ctx context.Context, w *docstore.WorkspaceDoc) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.ID.IsZero() {
		w.ID = ksid.NewID()
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO workspaces (id, name) VALUES (?, ?)", w.ID.String(), w.Name)
	return mapConstraint(err, w.Name)
}

// DeleteWorkspace implements docstore.Store.
func (s *Store) DeleteWorkspace(ctx context.Context, id ksid.ID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM workspaces WHERE id = ?", id.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: workspace %s", docstore.ErrNotFound, id)
	}
	return nil
}

// Workspaces implements docstore.Store.
func (s *Store) Workspaces(ctx context.Context) ([]*docstore.WorkspaceDoc, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM workspaces ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*docstore.WorkspaceDoc
	for rows.Next() {
		var id string
		w := &docstore.WorkspaceDoc{}
		if err := rows.Scan(&id, &w.Name); err != nil {
			return nil, err
		}
		if w.ID, err = ksid.Parse(id); err != nil {
			return nil, fmt.Errorf("workspace %s: %w", w.Name, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Namespaces implements docstore.Store.
func (s *Store) Namespaces(ctx context.Context) ([]*docstore.NamespaceDoc, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, prefix, uri FROM namespaces ORDER BY prefix")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*docstore.NamespaceDoc
	for rows.Next() {
		var id string
		n := &docstore.NamespaceDoc{}
		if err := rows.Scan(&id, &n.Prefix, &n.URI); err != nil {
			return nil, err
		}
		if n.ID, err = ksid.Parse(id); err != nil {
			return nil, fmt.Errorf("namespace %s: %w", n.Prefix, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// PutNamespace implements docstore.Store.
func (s *Store) PutNamespace(ctx context.Context, n *docstore.NamespaceDoc) error {
	if err := n.Validate(); err != nil {
		return err
	}
	id := n.ID
	if id.IsZero() {
		id = ksid.NewID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO namespaces (prefix, id, uri) VALUES (?, ?, ?)
		ON CONFLICT (prefix) DO UPDATE SET uri = excluded.uri`, n.Prefix, id.String(), n.URI)
	return err
}

// DeleteNamespace implements docstore.Store.
func (s *Store) DeleteNamespace(ctx context.Context, prefix string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM namespaces WHERE prefix = ?", prefix)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

var (
	_ docstore.Store       = (*Store)(nil)
	_ docstore.IDSetFinder = (*Store)(nil)
)
