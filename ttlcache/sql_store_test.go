/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestNewSQLSnapshotStore_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = NewSQLSnapshotStore(db, SQLDialectPostgres, "cache; DROP TABLE users")
	require.ErrorContains(t, err, "invalid table prefix")

	_, err = NewSQLSnapshotStore(db, SQLDialect("mysql"), "")
	require.ErrorContains(t, err, `unsupported SQL dialect "mysql"`)

	store, err := NewSQLSnapshotStore(db, SQLDialectSQLite, "")
	require.NoError(t, err)
	require.Contains(t, store.queries.selectEntries, DefaultSQLTablePrefix+"_entries")
	require.NoError(t, store.Close())
}

func TestSQLiteSnapshotStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteSnapshotStore(ctx, filepath.Join(t.TempDir(), "cache.db"), "reqguard")
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	ts := time.Date(2025, 3, 1, 12, 0, 0, 123, time.UTC)
	snap := &Snapshot{
		Entries: []SnapshotEntry{
			{Key: "b", Value: []byte(`"second"`)},
			{Key: "a", Value: []byte(`"first"`)},
		},
		Meta: SnapshotMeta{
			Generation: 9,
			Timestamps: map[string]time.Time{"a": ts, "b": ts.Add(time.Minute)},
			Hits:       3,
			Misses:     1,
		},
	}
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, snap.Entries, loaded.Entries)
	require.Equal(t, uint64(9), loaded.Meta.Generation)
	require.Equal(t, int64(3), loaded.Meta.Hits)
	require.Equal(t, int64(1), loaded.Meta.Misses)
	require.True(t, ts.Equal(loaded.Meta.Timestamps["a"]))
	require.True(t, ts.Add(time.Minute).Equal(loaded.Meta.Timestamps["b"]))

	// the next save fully replaces the previous one
	require.NoError(t, store.Save(ctx, &Snapshot{Meta: SnapshotMeta{Generation: 10}}))
	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded.Entries)
	require.Equal(t, uint64(10), loaded.Meta.Generation)
}

func TestCache_SQLitePersistence(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	mock := clock.NewMock()
	cfg := Config{TTL: time.Hour, MaxEntries: 10, Persistence: PersistenceConfig{FlushEvery: 1}}

	store1, err := OpenSQLiteSnapshotStore(ctx, dbPath, "")
	require.NoError(t, err)
	cache1, err := New[int](cfg, WithClock[int](mock), WithSnapshotStore[int](store1))
	require.NoError(t, err)
	cache1.Set("answer", 42)
	cache1.Set("question", 6*7)
	require.NoError(t, cache1.Close())
	require.NoError(t, store1.Close())

	store2, err := OpenSQLiteSnapshotStore(ctx, dbPath, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, store2.Close()) }()
	cache2, err := New[int](cfg, WithClock[int](mock), WithSnapshotStore[int](store2))
	require.NoError(t, err)
	val, found := cache2.Get("answer")
	require.True(t, found)
	require.Equal(t, 42, val)
	require.Equal(t, 2, cache2.Len())
}

type PostgresSnapshotStoreTestSuite struct {
	suite.Suite
	db    *sql.DB
	mock  sqlmock.Sqlmock
	store *SQLSnapshotStore
}

func TestPostgresSnapshotStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresSnapshotStoreTestSuite))
}

func (s *PostgresSnapshotStoreTestSuite) SetupTest() {
	var err error
	s.db, s.mock, err = sqlmock.New()
	s.Require().NoError(err)
	s.store, err = NewSQLSnapshotStore(s.db, SQLDialectPostgres, "reqguard")
	s.Require().NoError(err)
}

func (s *PostgresSnapshotStoreTestSuite) TearDownTest() {
	s.Require().NoError(s.mock.ExpectationsWereMet())
	_ = s.db.Close()
}

func (s *PostgresSnapshotStoreTestSuite) TestInit() {
	s.mock.ExpectExec(regexp.QuoteMeta(
		"CREATE TABLE IF NOT EXISTS reqguard_entries (position BIGINT PRIMARY KEY, cache_key TEXT NOT NULL, " +
			"value BYTEA NOT NULL, inserted_at BIGINT NOT NULL)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS reqguard_meta")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s.Require().NoError(s.store.Init(context.Background()))
}

func (s *PostgresSnapshotStoreTestSuite) TestSave() {
	ts := time.Unix(1700000000, 0)
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reqguard_entries")).WillReturnResult(sqlmock.NewResult(0, 3))
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reqguard_meta")).WillReturnResult(sqlmock.NewResult(0, 1))
	prep := s.mock.ExpectPrepare(regexp.QuoteMeta(
		"INSERT INTO reqguard_entries (position, cache_key, value, inserted_at) VALUES ($1, $2, $3, $4)"))
	prep.ExpectExec().WithArgs(0, "a", []byte(`"1"`), ts.UnixNano()).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(1, "b", []byte(`"2"`), ts.Add(time.Second).UnixNano()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reqguard_meta (id, generation, hits, misses) VALUES (1, $1, $2, $3)")).
		WithArgs(7, 2, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	err := s.store.Save(context.Background(), &Snapshot{
		Entries: []SnapshotEntry{{Key: "a", Value: []byte(`"1"`)}, {Key: "b", Value: []byte(`"2"`)}},
		Meta: SnapshotMeta{
			Generation: 7,
			Timestamps: map[string]time.Time{"a": ts, "b": ts.Add(time.Second)},
			Hits:       2,
			Misses:     1,
		},
	})
	s.Require().NoError(err)
}

func (s *PostgresSnapshotStoreTestSuite) TestSaveRollsBackOnError() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reqguard_entries")).WillReturnError(errors.New("connection reset"))
	s.mock.ExpectRollback()

	err := s.store.Save(context.Background(), &Snapshot{})
	s.Require().ErrorContains(err, "connection reset")
}

func (s *PostgresSnapshotStoreTestSuite) TestLoad() {
	ts := time.Unix(1700000000, 0)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT generation, hits, misses FROM reqguard_meta WHERE id = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"generation", "hits", "misses"}).AddRow(7, 2, 1))
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT cache_key, value, inserted_at FROM reqguard_entries ORDER BY position")).
		WillReturnRows(sqlmock.NewRows([]string{"cache_key", "value", "inserted_at"}).
			AddRow("a", []byte(`"1"`), ts.UnixNano()).
			AddRow("b", []byte(`"2"`), ts.Add(time.Second).UnixNano()))
	s.mock.ExpectRollback()

	snap, err := s.store.Load(context.Background())
	s.Require().NoError(err)
	s.Require().Equal([]SnapshotEntry{{Key: "a", Value: []byte(`"1"`)}, {Key: "b", Value: []byte(`"2"`)}}, snap.Entries)
	s.Require().Equal(uint64(7), snap.Meta.Generation)
	s.Require().Equal(int64(2), snap.Meta.Hits)
	s.Require().Equal(int64(1), snap.Meta.Misses)
	s.Require().True(ts.Equal(snap.Meta.Timestamps["a"]))
}

func (s *PostgresSnapshotStoreTestSuite) TestLoadNotFound() {
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT generation, hits, misses FROM reqguard_meta")).
		WillReturnRows(sqlmock.NewRows([]string{"generation", "hits", "misses"}))
	s.mock.ExpectRollback()

	_, err := s.store.Load(context.Background())
	s.Require().ErrorIs(err, ErrSnapshotNotFound)
}

func (s *PostgresSnapshotStoreTestSuite) TestLoadQueryError() {
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(regexp.QuoteMeta("SELECT generation, hits, misses FROM reqguard_meta")).
		WillReturnError(errors.New(`relation "reqguard_meta" does not exist`))
	s.mock.ExpectRollback()

	_, err := s.store.Load(context.Background())
	s.Require().ErrorContains(err, "select snapshot meta")
	s.Require().NotErrorIs(err, ErrSnapshotNotFound)
}
