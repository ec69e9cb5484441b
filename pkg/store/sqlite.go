package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mkalland/liftcurator/pkg/lift"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	xml TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ranges_doc (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	xml TEXT NOT NULL
)`

// DBExecutor allows methods to accept either *sql.DB or *sql.Tx.
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// InitStore runs the schema statements on the given connection or
// transaction.
func InitStore(db DBExecutor) error {
	stmts := strings.Split(schemaSQL, ";")
	for _, s := range stmts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// SQLiteStore is a Store backed by a single SQLite database: one row per
// entry document plus one row for the ranges document.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite-backed store at path.
// Use ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lift.ErrStoreUnavailable, err)
	}
	if err := InitStore(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", lift.ErrStoreUnavailable, err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps an already-open connection whose schema has been
// initialized with InitStore.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close closes the underlying connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// GetByID returns the raw document for id.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) ([]byte, error) {
	var xml string
	err := s.db.QueryRowContext(ctx, `SELECT xml FROM documents WHERE id = ?`, id).Scan(&xml)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", lift.ErrStoreUnavailable, id, err)
	}
	return []byte(xml), nil
}

// likeEscaper protects LIKE metacharacters in predicate values; the patterns
// carry ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Scan translates the predicate into LIKE pre-filters. The filter is
// deliberately coarse — it matches the bare id substring, so it may
// over-match and is indifferent to attribute quoting style, but it never
// misses a document that references the value. The iterator fetches ids in
// keyset-paginated batches, one self-contained query per batch, so a running
// scan never holds a connection between Next calls and GetByID/Replace may
// interleave with it even on a single-connection store.
func (s *SQLiteStore) Scan(ctx context.Context, p Predicate) (IDIterator, error) {
	var (
		conds []string
		args  []interface{}
	)
	if p.RangeID != "" {
		conds = append(conds, `xml LIKE ? ESCAPE '\'`)
		args = append(args, `%`+likeEscaper.Replace(p.RangeID)+`%`)
	}
	if p.GrammaticalInfo {
		conds = append(conds, `xml LIKE ?`)
		args = append(args, `%grammatical-info%`)
	}
	return &idIterator{
		ctx:   ctx,
		db:    s.db,
		conds: strings.Join(conds, ` OR `),
		args:  args,
	}, nil
}

// Replace atomically swaps the document under id. The row update is a single
// statement, so readers see either the old or the new content, never a mix.
func (s *SQLiteStore) Replace(ctx context.Context, id string, doc []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET xml = ? WHERE id = ?`, string(doc), id)
	if err != nil {
		return fmt.Errorf("%w: replace %s: %v", lift.ErrStoreUnavailable, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: replace %s: %v", lift.ErrStoreUnavailable, id, err)
	}
	if n == 0 {
		return fmt.Errorf("replace %s: %w", id, ErrNotFound)
	}
	return nil
}

// Put inserts or overwrites a document.
func (s *SQLiteStore) Put(ctx context.Context, id string, doc []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, xml) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET xml = excluded.xml`,
		id, string(doc))
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", lift.ErrStoreUnavailable, id, err)
	}
	return nil
}

// Count returns the number of stored entry documents.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", lift.ErrStoreUnavailable, err)
	}
	return n, nil
}

// GetRangesDoc returns the stored ranges document, or ErrNotFound.
func (s *SQLiteStore) GetRangesDoc(ctx context.Context) ([]byte, error) {
	var xml string
	err := s.db.QueryRowContext(ctx, `SELECT xml FROM ranges_doc WHERE id = 1`).Scan(&xml)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ranges document: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: ranges document: %v", lift.ErrStoreUnavailable, err)
	}
	return []byte(xml), nil
}

// PutRangesDoc stores the ranges document, replacing any previous one.
func (s *SQLiteStore) PutRangesDoc(ctx context.Context, doc []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ranges_doc (id, xml) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET xml = excluded.xml`,
		string(doc))
	if err != nil {
		return fmt.Errorf("%w: ranges document: %v", lift.ErrStoreUnavailable, err)
	}
	return nil
}

// scanBatchSize bounds how many ids one scan page pulls.
const scanBatchSize = 256

// idIterator implements IDIterator with keyset pagination: each page is
// `WHERE id > ? ORDER BY id LIMIT n`, drained and closed before Next returns,
// so no sql.Rows stays open across calls.
type idIterator struct {
	ctx   context.Context
	db    *sql.DB
	conds string
	args  []interface{}

	after string
	batch []string
	pos   int
	id    string
	err   error
	last  bool
}

func (it *idIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.pos >= len(it.batch) {
		if it.last || !it.fill() {
			return false
		}
	}
	it.id = it.batch[it.pos]
	it.pos++
	it.after = it.id
	return true
}

func (it *idIterator) fill() bool {
	query := `SELECT id FROM documents WHERE id > ?`
	if it.conds != "" {
		query += ` AND (` + it.conds + `)`
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args := make([]interface{}, 0, len(it.args)+2)
	args = append(args, it.after)
	args = append(args, it.args...)
	args = append(args, scanBatchSize)

	rows, err := it.db.QueryContext(it.ctx, query, args...)
	if err != nil {
		it.err = fmt.Errorf("%w: scan: %v", lift.ErrStoreUnavailable, err)
		return false
	}
	it.batch = it.batch[:0]
	it.pos = 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			it.err = fmt.Errorf("%w: scan row: %v", lift.ErrStoreUnavailable, err)
			return false
		}
		it.batch = append(it.batch, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		it.err = fmt.Errorf("%w: scan: %v", lift.ErrStoreUnavailable, err)
		return false
	}
	if len(it.batch) < scanBatchSize {
		it.last = true
	}
	return len(it.batch) > 0
}

func (it *idIterator) ID() string { return it.id }

func (it *idIterator) Err() error { return it.err }

func (it *idIterator) Close() error { return nil }
