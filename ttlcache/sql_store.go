/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"  // registers the "postgres" driver
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLDialect selects SQL syntax of a SQLSnapshotStore.
type SQLDialect string

// Supported dialects. Their values are also the database/sql driver names.
const (
	SQLDialectSQLite   SQLDialect = "sqlite"
	SQLDialectPostgres SQLDialect = "postgres"
)

// DefaultSQLTablePrefix is used when an empty table prefix is passed.
const DefaultSQLTablePrefix = "ttl_cache"

var tablePrefixRegexp = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type sqlQueries struct {
	createEntries string
	createMeta    string
	selectMeta    string
	selectEntries string
	deleteEntries string
	deleteMeta    string
	insertEntry   string
	insertMeta    string
}

func makeSQLQueries(dialect SQLDialect, prefix string) (sqlQueries, error) {
	entries, meta := prefix+"_entries", prefix+"_meta"
	var blobType string
	var ph func(n int) string
	switch dialect {
	case SQLDialectSQLite:
		blobType = "BLOB"
		ph = func(int) string { return "?" }
	case SQLDialectPostgres:
		blobType = "BYTEA"
		ph = func(n int) string { return fmt.Sprintf("$%d", n) }
	default:
		return sqlQueries{}, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	return sqlQueries{
		createEntries: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
			"position BIGINT PRIMARY KEY, cache_key TEXT NOT NULL, value %s NOT NULL, inserted_at BIGINT NOT NULL)",
			entries, blobType),
		createMeta: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
			"id INTEGER PRIMARY KEY, generation BIGINT NOT NULL, hits BIGINT NOT NULL, misses BIGINT NOT NULL)", meta),
		selectMeta:    fmt.Sprintf("SELECT generation, hits, misses FROM %s WHERE id = 1", meta),
		selectEntries: fmt.Sprintf("SELECT cache_key, value, inserted_at FROM %s ORDER BY position", entries),
		deleteEntries: fmt.Sprintf("DELETE FROM %s", entries),
		deleteMeta:    fmt.Sprintf("DELETE FROM %s", meta),
		insertEntry: fmt.Sprintf("INSERT INTO %s (position, cache_key, value, inserted_at) VALUES (%s, %s, %s, %s)",
			entries, ph(1), ph(2), ph(3), ph(4)),
		insertMeta: fmt.Sprintf("INSERT INTO %s (id, generation, hits, misses) VALUES (1, %s, %s, %s)",
			meta, ph(1), ph(2), ph(3)),
	}, nil
}

// SQLSnapshotStore keeps a snapshot in two tables, <prefix>_entries and <prefix>_meta.
// Save replaces both in a single transaction, so a reader never sees a half-written snapshot.
type SQLSnapshotStore struct {
	db      *sql.DB
	dialect SQLDialect
	queries sqlQueries
	ownsDB  bool
}

var _ SnapshotStore = (*SQLSnapshotStore)(nil)

// NewSQLSnapshotStore creates a store on top of an existing connection pool. Call Init to create tables.
// Close doesn't close a pool passed this way.
func NewSQLSnapshotStore(db *sql.DB, dialect SQLDialect, tablePrefix string) (*SQLSnapshotStore, error) {
	if tablePrefix == "" {
		tablePrefix = DefaultSQLTablePrefix
	}
	if !tablePrefixRegexp.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", tablePrefix)
	}
	queries, err := makeSQLQueries(dialect, tablePrefix)
	if err != nil {
		return nil, err
	}
	return &SQLSnapshotStore{db: db, dialect: dialect, queries: queries}, nil
}

// OpenSQLiteSnapshotStore opens (or creates) a SQLite database file and prepares the tables.
func OpenSQLiteSnapshotStore(ctx context.Context, path, tablePrefix string) (*SQLSnapshotStore, error) {
	return openSQLSnapshotStore(ctx, SQLDialectSQLite, path, tablePrefix)
}

// OpenPostgresSnapshotStore connects to PostgreSQL with the DSN and prepares the tables.
func OpenPostgresSnapshotStore(ctx context.Context, dsn, tablePrefix string) (*SQLSnapshotStore, error) {
	return openSQLSnapshotStore(ctx, SQLDialectPostgres, dsn, tablePrefix)
}

func openSQLSnapshotStore(ctx context.Context, dialect SQLDialect, dsn, tablePrefix string) (*SQLSnapshotStore, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == SQLDialectSQLite {
		db.SetMaxOpenConns(1)
	}
	store, err := NewSQLSnapshotStore(db, dialect, tablePrefix)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	if err = store.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Init creates the snapshot tables if they don't exist.
func (s *SQLSnapshotStore) Init(ctx context.Context) error {
	for _, q := range []string{s.queries.createEntries, s.queries.createMeta} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create snapshot table: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool if the store opened it.
func (s *SQLSnapshotStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// Load implements SnapshotStore.
func (s *SQLSnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: s.dialect == SQLDialectPostgres})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var generation, hits, misses int64
	err = tx.QueryRowContext(ctx, s.queries.selectMeta).Scan(&generation, &hits, &misses)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("select snapshot meta: %w", err)
	}
	snap := &Snapshot{Meta: SnapshotMeta{
		Generation: uint64(generation), //nolint:gosec // stored from uint64
		Timestamps: make(map[string]time.Time),
		Hits:       hits,
		Misses:     misses,
	}}

	rows, err := tx.QueryContext(ctx, s.queries.selectEntries)
	if err != nil {
		return nil, fmt.Errorf("select snapshot entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			key        string
			value      []byte
			insertedAt int64
		)
		if err = rows.Scan(&key, &value, &insertedAt); err != nil {
			return nil, fmt.Errorf("%w: scan snapshot entry: %v", ErrSnapshotCorrupted, err)
		}
		snap.Entries = append(snap.Entries, SnapshotEntry{Key: key, Value: value})
		snap.Meta.Timestamps[key] = time.Unix(0, insertedAt)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot entries: %w", err)
	}
	return snap, nil
}

// Save implements SnapshotStore.
func (s *SQLSnapshotStore) Save(ctx context.Context, snapshot *Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.queries.deleteEntries); err != nil {
		return fmt.Errorf("delete snapshot entries: %w", err)
	}
	if _, err = tx.ExecContext(ctx, s.queries.deleteMeta); err != nil {
		return fmt.Errorf("delete snapshot meta: %w", err)
	}
	if len(snapshot.Entries) > 0 {
		if err = s.insertEntries(ctx, tx, snapshot); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, s.queries.insertMeta,
		int64(snapshot.Meta.Generation), snapshot.Meta.Hits, snapshot.Meta.Misses); err != nil { //nolint:gosec
		return fmt.Errorf("insert snapshot meta: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *SQLSnapshotStore) insertEntries(ctx context.Context, tx *sql.Tx, snapshot *Snapshot) error {
	stmt, err := tx.PrepareContext(ctx, s.queries.insertEntry)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for i, e := range snapshot.Entries {
		ts, ok := snapshot.Meta.Timestamps[e.Key]
		if !ok {
			continue
		}
		if _, err = stmt.ExecContext(ctx, i, e.Key, e.Value, ts.UnixNano()); err != nil {
			return fmt.Errorf("insert snapshot entry %q: %w", e.Key, err)
		}
	}
	return nil
}
