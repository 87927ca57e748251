package workingcopy

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tablevc/tablevc/internal/dataset"
	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/internal/schema"
	"github.com/tablevc/tablevc/pkg/types"
)

// SQLiteWorkingCopy materializes datasets as SQLite tables, one table per
// dataset, with real typed columns. State rows track the base tree and
// each dataset's schema so edits can be re-encoded without the tree.
type SQLiteWorkingCopy struct {
	db  *sql.DB
	odb *object.ODB

	// writeMu serializes write sessions: no concurrent writers to the
	// same working copy are assumed safe.
	writeMu sync.Mutex
}

// OpenSQLite opens (creating if needed) a SQLite working copy.
func OpenSQLite(dbPath string, odb *object.ODB) (*SQLiteWorkingCopy, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("workingcopy: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tablevc_state (
			ds_path     TEXT PRIMARY KEY,
			schema_json TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tablevc_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("workingcopy: create state tables: %w", err)
	}
	return &SQLiteWorkingCopy{db: db, odb: odb}, nil
}

// Close releases the database.
func (w *SQLiteWorkingCopy) Close() error {
	return w.db.Close()
}

// BaseTreeID returns the tree id of the last Reset, or the zero OID for a
// never-reset working copy.
func (w *SQLiteWorkingCopy) BaseTreeID(ctx context.Context) (types.OID, error) {
	var hexID string
	err := w.db.QueryRowContext(ctx,
		"SELECT value FROM tablevc_meta WHERE key = 'base_tree'").Scan(&hexID)
	if err == sql.ErrNoRows {
		return types.ZeroOID, nil
	}
	if err != nil {
		return types.ZeroOID, fmt.Errorf("workingcopy: read base tree: %w", err)
	}
	return types.ParseOID(hexID)
}

// Reset checks out tree, dropping and rebuilding every dataset table.
func (w *SQLiteWorkingCopy) Reset(ctx context.Context, tree *object.Tree) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("workingcopy: begin reset: %w", err)
	}
	defer tx.Rollback()

	// Drop every previously checked-out table.
	rows, err := tx.QueryContext(ctx, "SELECT ds_path FROM tablevc_state")
	if err != nil {
		return fmt.Errorf("workingcopy: list datasets: %w", err)
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return err
		}
		stale = append(stale, p)
	}
	rows.Close()
	for _, p := range stale {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(tableName(p))); err != nil {
			return fmt.Errorf("workingcopy: drop %s: %w", p, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tablevc_state"); err != nil {
		return err
	}

	dsPaths, err := dataset.Find(ctx, w.odb, tree)
	if err != nil {
		return err
	}
	for _, dsPath := range dsPaths {
		ds, err := dataset.Open(ctx, w.odb, tree, dsPath)
		if err != nil || ds == nil {
			return err
		}
		if err := w.checkoutDataset(ctx, tx, ds); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO tablevc_meta (key, value) VALUES ('base_tree', ?)",
		tree.ID().Hex()); err != nil {
		return err
	}
	return tx.Commit()
}

func (w *SQLiteWorkingCopy) checkoutDataset(ctx context.Context, tx *sql.Tx, ds *dataset.Dataset) error {
	s, err := ds.Schema(ctx)
	if err != nil {
		return err
	}
	ddl, colNames := tableDDL(tableName(ds.Path), s)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("workingcopy: create table for %s: %w", ds.Path, err)
	}
	schemaJSON, err := s.ToColumnDicts()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO tablevc_state (ds_path, schema_json) VALUES (?, ?)",
		ds.Path, string(schemaJSON)); err != nil {
		return err
	}

	ft, err := ds.FeatureTree(ctx)
	if err != nil || ft == nil {
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(colNames)), ",")
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName(ds.Path)), joinQuoted(colNames), placeholders)

	return object.WalkBlobs(ctx, w.odb, ft, func(p string, id types.OID) error {
		blob, err := w.odb.GetBlob(ctx, id)
		if err != nil {
			return err
		}
		row, err := ds.DecodeFeature(ctx, p, blob)
		if err != nil {
			return err
		}
		args := make([]any, len(colNames))
		for i, name := range colNames {
			args[i] = toSQLValue(row[name])
		}
		_, err = tx.ExecContext(ctx, insertSQL, args...)
		return err
	})
}

// DiffToTree re-encodes every working-copy row under its dataset's schema
// and rebuilds each dataset's feature directory on top of the base tree.
// Unchanged rows hash to their existing paths, so the resulting tree
// differs from base exactly where the user edited.
func (w *SQLiteWorkingCopy) DiffToTree(ctx context.Context) (*object.Tree, error) {
	baseID, err := w.BaseTreeID(ctx)
	if err != nil {
		return nil, err
	}
	var base *object.Tree
	if !baseID.IsZero() {
		base, err = w.odb.GetTree(ctx, baseID)
		if err != nil {
			return nil, err
		}
	}
	b := object.NewBuilder(w.odb, base)

	rows, err := w.db.QueryContext(ctx, "SELECT ds_path, schema_json FROM tablevc_state")
	if err != nil {
		return nil, fmt.Errorf("workingcopy: list datasets: %w", err)
	}
	type dsState struct {
		path   string
		schema *schema.Schema
	}
	var states []dsState
	for rows.Next() {
		var p, schemaJSON string
		if err := rows.Scan(&p, &schemaJSON); err != nil {
			rows.Close()
			return nil, err
		}
		s, err := schema.FromColumnDicts([]byte(schemaJSON))
		if err != nil {
			rows.Close()
			return nil, err
		}
		states = append(states, dsState{path: p, schema: s})
	}
	rows.Close()

	for _, st := range states {
		b.Remove(dataset.FeaturePathPrefix(st.path))
		if err := w.encodeDatasetRows(ctx, b, st.path, st.schema); err != nil {
			return nil, err
		}
	}
	return b.Flush(ctx)
}

func (w *SQLiteWorkingCopy) encodeDatasetRows(ctx context.Context, b *object.Builder, dsPath string, s *schema.Schema) error {
	cols := s.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	rows, err := w.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s", joinQuoted(names), quoteIdent(tableName(dsPath))))
	if err != nil {
		return fmt.Errorf("workingcopy: read %s: %w", dsPath, err)
	}
	defer rows.Close()

	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c.Name] = fromSQLValue(raw[i], c)
		}
		p, blob, err := dataset.EncodeFeatureForSchema(s, row)
		if err != nil {
			return err
		}
		b.Insert(dataset.FeaturePathPrefix(dsPath)+"/"+p, blob)
	}
	return rows.Err()
}

// Session acquires a scoped session; write sessions hold the writer lock
// until Close.
func (w *SQLiteWorkingCopy) Session(ctx context.Context, readOnly bool) (Session, error) {
	if readOnly {
		return &sqliteSession{db: w.db}, nil
	}
	w.writeMu.Lock()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.writeMu.Unlock()
		return nil, fmt.Errorf("workingcopy: begin write session: %w", err)
	}
	return &sqliteSession{tx: tx, unlock: w.writeMu.Unlock}, nil
}

// RequireMatchesTree fails with WorkingCopyStale unless the working copy
// was reset to the given tree.
func (w *SQLiteWorkingCopy) RequireMatchesTree(ctx context.Context, treeID types.OID) error {
	baseID, err := w.BaseTreeID(ctx)
	if err != nil {
		return err
	}
	if baseID != treeID {
		return errors.NewInvalidOperation(errors.CodeWorkingCopyStale,
			fmt.Sprintf("working copy is at tree %s but HEAD is at %s", baseID, treeID)).
			WithHint("reset the working copy first")
	}
	return nil
}

// UpdateBaseTree records a new base tree id without touching table data.
// Called after a commit whose content came from this working copy.
func (w *SQLiteWorkingCopy) UpdateBaseTree(ctx context.Context, treeID types.OID) error {
	_, err := w.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO tablevc_meta (key, value) VALUES ('base_tree', ?)",
		treeID.Hex())
	return err
}

// TableName exposes the table a dataset is checked out as.
func TableName(dsPath string) string {
	return tableName(dsPath)
}

type sqliteSession struct {
	db     *sql.DB
	tx     *sql.Tx
	unlock func()
	done   bool
}

func (s *sqliteSession) Exec(ctx context.Context, query string, args ...any) error {
	if s.tx != nil {
		_, err := s.tx.ExecContext(ctx, query, args...)
		return err
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *sqliteSession) Commit() error {
	if s.tx == nil || s.done {
		return nil
	}
	s.done = true
	err := s.tx.Commit()
	s.unlock()
	return err
}

func (s *sqliteSession) Close() error {
	if s.tx == nil || s.done {
		return nil
	}
	s.done = true
	err := s.tx.Rollback()
	s.unlock()
	return err
}

func tableName(dsPath string) string {
	return strings.ReplaceAll(dsPath, "/", "__")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func joinQuoted(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func tableDDL(table string, s *schema.Schema) (string, []string) {
	var defs []string
	var names []string
	var pkNames []string
	for _, c := range s.Columns() {
		defs = append(defs, quoteIdent(c.Name)+" "+sqliteType(c.DataType))
		names = append(names, c.Name)
	}
	for _, c := range s.PKColumns() {
		pkNames = append(pkNames, quoteIdent(c.Name))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s", quoteIdent(table), strings.Join(defs, ", "))
	if len(pkNames) > 0 {
		ddl += fmt.Sprintf(", PRIMARY KEY (%s)", strings.Join(pkNames, ", "))
	}
	ddl += ")"
	return ddl, names
}

func sqliteType(t schema.DataType) string {
	switch t {
	case schema.TypeInteger, schema.TypeBoolean:
		return "INTEGER"
	case schema.TypeFloat:
		return "REAL"
	case schema.TypeBlob:
		return "BLOB"
	default:
		// text, numeric, geometry (hex wkb), dates and intervals all
		// travel as text.
		return "TEXT"
	}
}

func toSQLValue(v any) any {
	switch n := v.(type) {
	case bool:
		if n {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func fromSQLValue(v any, c schema.ColumnSchema) any {
	if v == nil {
		return nil
	}
	switch c.DataType {
	case schema.TypeBoolean:
		if n, ok := v.(int64); ok {
			return n != 0
		}
	case schema.TypeInteger:
		if n, ok := v.(int64); ok {
			return n
		}
	case schema.TypeFloat:
		if f, ok := v.(float64); ok {
			return f
		}
	default:
		if b, ok := v.([]byte); ok && c.DataType != schema.TypeBlob {
			return string(b)
		}
	}
	return v
}
