package kaboom_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/kaboom"
	"github.com/syssam/kaboom/dialect"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	ttls    map[string]time.Duration
	failSet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet {
		return errors.New("cache unavailable")
	}
	c.entries[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *memoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

func (c *memoryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func TestCacheKey(t *testing.T) {
	k := kaboom.CacheKey{Table: "planet", Operation: "select", Query: "SELECT * FROM planet WHERE id = ?", Args: []any{int64(1)}}
	assert.Equal(t, "kaboom:planet:select:SELECT * FROM planet WHERE id = ?:int64=1", k.String())
	assert.True(t, strings.HasPrefix(k.String(), kaboom.CachePrefix("planet")))

	other := k
	other.Args = []any{"1"}
	assert.NotEqual(t, k.String(), other.String())
}

func TestRepositoryCache(t *testing.T) {
	t.Run("Hit", func(t *testing.T) {
		cache := newMemoryCache()
		repo, mock := planets(t, dialect.PostgresRegistry(), kaboom.WithCache(cache, time.Minute))
		mock.ExpectQuery("SELECT * FROM planet WHERE id = $1").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(planetColumns).AddRow(int64(3), "Earth", 5.97))
		mock.ExpectQuery("SELECT count(*) FROM planet").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(8)))

		ctx := context.Background()
		for range 2 {
			ps, err := repo.Where(ctx, "id = ?", int64(3))
			require.NoError(t, err)
			assert.Equal(t, []Planet{{ID: 3, Name: "Earth", Mass: 5.97}}, ps)

			n, err := repo.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(8), n)
		}
		assert.Equal(t, 2, cache.len())
		for _, ttl := range cache.ttls {
			assert.Equal(t, time.Minute, ttl)
		}
	})

	t.Run("EmptyHit", func(t *testing.T) {
		cache := newMemoryCache()
		repo, mock := planets(t, dialect.PostgresRegistry(), kaboom.WithCache(cache, 0))
		mock.ExpectQuery("SELECT * FROM planet WHERE mass > $1").
			WithArgs(1e30).
			WillReturnRows(sqlmock.NewRows(planetColumns))

		for range 2 {
			ps, err := repo.Where(context.Background(), "mass > ?", 1e30)
			require.NoError(t, err)
			assert.NotNil(t, ps)
			assert.Empty(t, ps)
		}
	})

	t.Run("InvalidatedByMutation", func(t *testing.T) {
		cache := newMemoryCache()
		repo, mock := planets(t, dialect.PostgresRegistry(), kaboom.WithCache(cache, time.Minute))
		mock.ExpectQuery("SELECT count(*) FROM planet").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(8)))
		mock.ExpectExec("INSERT INTO planet (name, mass) VALUES ($1, $2)").
			WithArgs("Vulcan", 1.0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT count(*) FROM planet").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(9)))

		ctx := context.Background()
		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(8), n)

		require.NoError(t, repo.Insert(ctx, Planet{Name: "Vulcan", Mass: 1.0}))
		assert.Zero(t, cache.len())

		n, err = repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(9), n)
	})

	t.Run("BypassedInTransaction", func(t *testing.T) {
		cache := newMemoryCache()
		repo, mock := planets(t, dialect.PostgresRegistry(), kaboom.WithCache(cache, time.Minute))
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT count(*) FROM planet").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(8)))
		mock.ExpectCommit()

		err := repo.Transaction(context.Background(), func(ctx context.Context, r *kaboom.Repository[Planet, int64]) error {
			_, err := r.Count(ctx)
			return err
		})
		require.NoError(t, err)
		assert.Zero(t, cache.len())
	})

	t.Run("Uncached", func(t *testing.T) {
		cache := newMemoryCache()
		repo, mock := planets(t, dialect.PostgresRegistry(), kaboom.WithCache(cache, time.Minute))
		for range 2 {
			mock.ExpectQuery("SELECT count(*) FROM planet").
				WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(8)))
		}

		for range 2 {
			_, err := repo.Query().Uncached().Count(context.Background())
			require.NoError(t, err)
		}
		assert.Zero(t, cache.len())
	})

	t.Run("StoreFailureIgnored", func(t *testing.T) {
		cache := newMemoryCache()
		cache.failSet = true
		repo, mock := planets(t, dialect.PostgresRegistry())
		mock.ExpectQuery("SELECT count(*) FROM planet").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(8)))

		n, err := repo.Query().Cached(cache, time.Minute).Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(8), n)
	})
}
