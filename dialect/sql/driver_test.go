package sql

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/syssam/kaboom/dialect"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T, reg *dialect.Registry, opts ...Option) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	return NewDriver(db, reg, opts...), mock
}

func TestOpenDB(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
	}{
		{"Postgres", dialect.Postgres},
		{"MySQL", dialect.MySQL},
		{"SQLite", dialect.SQLite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			drv, err := OpenDB(tt.dialect, db)
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, drv.Dialect())
			assert.Same(t, db, drv.DB())
		})
	}

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = OpenDB("oracle", db)
	require.Error(t, err)
}

func TestConnection(t *testing.T) {
	t.Run("Select", func(t *testing.T) {
		drv, mock := newMock(t, dialect.PostgresRegistry())
		mock.ExpectQuery("SELECT id, name FROM planet WHERE name = $1 AND id > $2").
			WithArgs("Mars", int64(0)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "NAME"}).
				AddRow(int64(1), "Mars").
				AddRow(int64(2), "Mars"))

		var got []string
		err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) error {
			assert.False(t, c.InTx())
			return c.Select(ctx, "SELECT id, name FROM planet WHERE name = ? AND id > ?", Args("Mars", int64(0)), func(r *Row) error {
				id, ok := r.Value("id")
				require.True(t, ok)
				name, ok := r.Value("name")
				require.True(t, ok, "column lookup falls back to case-insensitive match")
				assert.Equal(t, 2, r.Len())
				assert.Equal(t, []string{"id", "NAME"}, r.Columns())
				assert.Equal(t, id, r.Index(0))
				got = append(got, name.(string))
				return nil
			})
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"Mars", "Mars"}, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CallbackError", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteRegistry())
		mock.ExpectQuery("SELECT 1").
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)).AddRow(int64(2))).
			RowsWillBeClosed()
		errStop := errors.New("stop")
		err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) error {
			return c.Select(ctx, "SELECT 1", nil, func(*Row) error { return errStop })
		})
		require.ErrorIs(t, err, errStop)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("QueryError", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteRegistry())
		errBoom := errors.New("boom")
		mock.ExpectQuery("SELECT 1").WillReturnError(errBoom)
		err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) error {
			return c.Select(ctx, "SELECT 1", nil, func(*Row) error { return nil })
		})
		require.ErrorIs(t, err, errBoom)
		assert.Contains(t, err.Error(), "dialect/sql: query:")
	})

	t.Run("RowsCloseErrorDoesNotMask", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteRegistry())
		errClose := errors.New("close failed")
		mock.ExpectQuery("SELECT 1").
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)).CloseError(errClose))

		errStop := errors.New("stop")
		err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) error {
			return c.Select(ctx, "SELECT 1", nil, func(*Row) error { return errStop })
		})
		require.ErrorIs(t, err, errStop)
		assert.NotErrorIs(t, err, errClose)
	})

	t.Run("HintedArguments", func(t *testing.T) {
		drv, mock := newMock(t, dialect.PostgresRegistry())
		mock.ExpectExec("INSERT INTO person (doc, tags) VALUES ($1::jsonb, $2::json)").
			WithArgs(`{"city":"Paris"}`, `["a"]`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) error {
			return c.Insert(ctx, "INSERT INTO person (doc, tags) VALUES (?, ?)", []Argument{
				HintedArg(map[string]string{"city": "Paris"}, dialect.HintJSONB),
				HintedArg([]string{"a"}, dialect.HintJSON),
			})
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BindError", func(t *testing.T) {
		drv, _ := newMock(t, dialect.PostgresRegistry())
		err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) error {
			return c.Insert(ctx, "INSERT INTO person (doc) VALUES (?)", []Argument{HintedArg("{", dialect.HintJSONB)})
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bind argument 1")
	})

	t.Run("Update", func(t *testing.T) {
		drv, mock := newMock(t, dialect.MySQLRegistry())
		mock.ExpectExec("UPDATE planet SET name = ? WHERE id = ?").
			WithArgs("Venus", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		var n int64
		err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) (err error) {
			n, err = c.Update(ctx, "UPDATE planet SET name = ? WHERE id = ?", Args("Venus", int64(1)))
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestInsertReturning(t *testing.T) {
	t.Run("Returning", func(t *testing.T) {
		drv, mock := newMock(t, dialect.PostgresRegistry())
		mock.ExpectQuery("INSERT INTO planet (name) VALUES ($1) RETURNING id").
			WithArgs("Mars").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		var keys []any
		err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) (err error) {
			keys, err = c.InsertReturning(ctx, "INSERT INTO planet (name) VALUES (?)", Args("Mars"), "id")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(7)}, keys)
	})

	t.Run("NoKeysRow", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteRegistry())
		mock.ExpectQuery("INSERT INTO planet (name) VALUES (?) RETURNING id").
			WithArgs("Mars").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) error {
			_, err := c.InsertReturning(ctx, "INSERT INTO planet (name) VALUES (?)", Args("Mars"), "id")
			return err
		})
		require.ErrorIs(t, err, ErrNoGeneratedKeys)
	})

	t.Run("LastInsertID", func(t *testing.T) {
		drv, mock := newMock(t, dialect.MySQLRegistry())
		mock.ExpectExec("INSERT INTO planet (name) VALUES (?)").
			WithArgs("Mars").
			WillReturnResult(sqlmock.NewResult(42, 1))
		var keys []any
		err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) (err error) {
			keys, err = c.InsertReturning(ctx, "INSERT INTO planet (name) VALUES (?)", Args("Mars"), "id")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(42)}, keys)

		err = drv.Connection(context.Background(), func(ctx context.Context, c *Conn) error {
			_, err := c.InsertReturning(ctx, "INSERT INTO t (a) VALUES (?)", Args(1), "k1", "k2")
			return err
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot report 2 generated keys")
	})

	t.Run("NoColumns", func(t *testing.T) {
		drv, mock := newMock(t, dialect.PostgresRegistry())
		mock.ExpectExec("INSERT INTO planet (name) VALUES ($1)").
			WithArgs("Mars").
			WillReturnResult(sqlmock.NewResult(0, 1))
		err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) error {
			keys, err := c.InsertReturning(ctx, "INSERT INTO planet (name) VALUES (?)", Args("Mars"))
			assert.Nil(t, keys)
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransaction(t *testing.T) {
	t.Run("Commit", func(t *testing.T) {
		stats := &QueryStats{}
		drv, mock := newMock(t, dialect.SQLiteRegistry(), WithStats(stats))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users (name) VALUES (?)").WithArgs("a").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO users (name) VALUES (?)").WithArgs("b").WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		err := drv.Transaction(context.Background(), func(ctx context.Context, c *Conn) error {
			assert.True(t, c.InTx())
			assert.True(t, drv.InTransaction(ctx))
			if err := c.Insert(ctx, "INSERT INTO users (name) VALUES (?)", Args("a")); err != nil {
				return err
			}
			// Nested scopes borrow the ambient transaction.
			return drv.Transaction(ctx, func(ctx context.Context, inner *Conn) error {
				assert.Same(t, c, inner)
				return drv.Connection(ctx, func(ctx context.Context, c *Conn) error {
					return c.Insert(ctx, "INSERT INTO users (name) VALUES (?)", Args("b"))
				})
			})
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, int64(1), stats.Commits.Load())
		assert.Equal(t, int64(2), stats.TotalExecs.Load())
	})

	t.Run("Rollback", func(t *testing.T) {
		stats := &QueryStats{}
		drv, mock := newMock(t, dialect.SQLiteRegistry(), WithStats(stats))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users (name) VALUES (?)").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectRollback()

		errBody := errors.New("body failed")
		err := drv.Transaction(context.Background(), func(ctx context.Context, c *Conn) error {
			if err := c.Insert(ctx, "INSERT INTO users (name) VALUES (?)", Args("a")); err != nil {
				return err
			}
			return errBody
		})
		require.Equal(t, errBody, err, "the body error is returned unchanged")
		assert.False(t, IsTxError(err))
		require.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, int64(1), stats.Rollbacks.Load())
	})

	t.Run("RollbackFailure", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteRegistry())
		errRollback := errors.New("connection reset")
		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(errRollback)

		errBody := errors.New("body failed")
		err := drv.Transaction(context.Background(), func(context.Context, *Conn) error {
			return errBody
		})
		require.ErrorIs(t, err, errBody)
		require.ErrorIs(t, err, errRollback)
		require.True(t, IsTxError(err))
		var txErr *TxError
		require.ErrorAs(t, err, &txErr)
		assert.Equal(t, "rollback", txErr.Op)
	})

	t.Run("BeginFailure", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteRegistry())
		mock.ExpectBegin().WillReturnError(errors.New("no more transactions"))
		called := false
		err := drv.Transaction(context.Background(), func(context.Context, *Conn) error {
			called = true
			return nil
		})
		require.True(t, IsTxError(err))
		assert.False(t, called)
		assert.Contains(t, err.Error(), "transaction failed: begin")
	})

	t.Run("CommitFailure", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteRegistry())
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
		err := drv.Transaction(context.Background(), func(context.Context, *Conn) error {
			return nil
		})
		var txErr *TxError
		require.ErrorAs(t, err, &txErr)
		assert.Equal(t, "commit", txErr.Op)
	})

	t.Run("Panic", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteRegistry())
		mock.ExpectBegin()
		mock.ExpectRollback()
		assert.PanicsWithValue(t, "boom", func() {
			_ = drv.Transaction(context.Background(), func(context.Context, *Conn) error {
				panic("boom")
			})
		})
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Independent", func(t *testing.T) {
		drv, mock := newMock(t, dialect.SQLiteRegistry())
		other, _ := newMock(t, dialect.SQLiteRegistry())
		mock.ExpectBegin()
		mock.ExpectCommit()
		err := drv.Transaction(context.Background(), func(ctx context.Context, _ *Conn) error {
			assert.False(t, other.InTransaction(ctx), "ambient transactions are scoped per driver")
			return nil
		})
		require.NoError(t, err)
		assert.False(t, drv.InTransaction(context.Background()))
	})
}

func TestWithVars(t *testing.T) {
	drv, mock := newMock(t, dialect.PostgresRegistry())
	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(int64(1)))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	err := drv.Connection(WithVar(context.Background(), "foo", "bar"), func(ctx context.Context, c *Conn) error {
		return c.Select(ctx, "SELECT 1", nil, func(*Row) error { return nil })
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET foo = 'baz'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users DEFAULT VALUES").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	ctx := WithVar(WithVar(context.Background(), "foo", "bar"), "foo", "baz")
	v, ok := VarFromContext(ctx, "foo")
	require.True(t, ok)
	assert.Equal(t, "baz", v)
	err = drv.Transaction(ctx, func(ctx context.Context, c *Conn) error {
		return c.Insert(ctx, "INSERT INTO users DEFAULT VALUES", nil)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("SET foo = 'it''s escaped'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	err = drv.Connection(WithVar(context.Background(), "foo", "it's escaped"), func(context.Context, *Conn) error {
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	err = drv.Connection(WithVar(context.Background(), "foo; DROP TABLE users; --", "bar"), func(context.Context, *Conn) error {
		t.Fatal("must not run with an invalid session variable")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session variable name")
}

func TestConnectionLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	drv, mock := newMock(t, dialect.SQLiteRegistry(), WithLogger(logger))
	mock.ExpectExec("DELETE FROM planet").WillReturnResult(sqlmock.NewResult(0, 3))
	err := drv.Connection(context.Background(), func(ctx context.Context, c *Conn) error {
		_, err := c.Exec(ctx, "DELETE FROM planet", nil)
		return err
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "connection acquired")
	assert.Contains(t, buf.String(), `query="DELETE FROM planet"`)
	assert.Same(t, logger, drv.Logger())
}

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"valid_simple", "foo", true},
		{"valid_with_underscore", "foo_bar", true},
		{"valid_with_dot", "schema.table", true},
		{"invalid_empty", "", false},
		{"invalid_starting_number", "123foo", false},
		{"invalid_with_quote", "foo'bar", false},
		{"invalid_with_semicolon", "foo;DROP TABLE", false},
		{"invalid_too_long", string(make([]byte, 129)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isValidIdentifier(tt.input))
		})
	}
}

func TestEscapeStringValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no_escaping_needed", "hello", "hello"},
		{"single_quote", "it's", "it''s"},
		{"backslash", `path\to\file`, `path\\to\\file`},
		{"sql_injection_attempt", "'; DROP TABLE users; --", "''; DROP TABLE users; --"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeStringValue(tt.input))
		})
	}
}
