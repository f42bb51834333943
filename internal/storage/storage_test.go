package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dukerupert/checkout-embed/internal"
)

// exerciseStorage runs the behavior every backend must share.
func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()
	key := "checkout:chk_" + t.Name()

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound, "missing key")

	require.NoError(t, s.Put(ctx, key, []byte(`{"version":1}`)))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(got))

	require.NoError(t, s.Put(ctx, key, []byte(`{"version":2}`)))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, string(got), "put replaces payload")

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound, "deleted key")

	assert.NoError(t, s.Delete(ctx, key), "delete is idempotent")
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	exerciseStorage(t, s)
	assert.Zero(t, s.Len())
}

func TestMemoryStorage_CopiesPayload(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	payload := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", payload))
	payload[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestLocalStorage(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	exerciseStorage(t, s)
}

func TestLocalStorage_KeyEscaping(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "../escape", []byte("x")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "key stays inside the base directory")
}

func setupTestRedis(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStorage(client, time.Hour), mr
}

func TestRedisStorage(t *testing.T) {
	s, _ := setupTestRedis(t)
	exerciseStorage(t, s)
}

func TestRedisStorage_TTL(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "checkout:ttl", []byte("x")))
	assert.Equal(t, time.Hour, mr.TTL("checkout:ttl"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(ctx, "checkout:ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStorage_DefaultTTL(t *testing.T) {
	s := NewRedisStorage(nil, 0)
	assert.Equal(t, DefaultRedisTTL, s.ttl)
}

func TestRedisStorage_ConnectionError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := NewRedisStorage(client, time.Hour)
	mr.Close()

	_, err = s.Get(context.Background(), "checkout:x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

// setupPostgres starts a disposable Postgres container with the checkout
// migrations applied.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("checkout_test"),
		postgres.WithUsername("checkout"),
		postgres.WithPassword("checkout"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, internal.RunMigrations(ctx, pool))
	return pool
}

func TestPostgresStorage(t *testing.T) {
	pool := setupPostgres(t)
	exerciseStorage(t, NewPostgresStorage(pool))
}

func TestPostgresStorage_UpsertTouchesUpdatedAt(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	s := NewPostgresStorage(pool)

	require.NoError(t, s.Put(ctx, "checkout:chk_1", []byte("one")))
	var first time.Time
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT updated_at FROM checkout_state WHERE key = $1`, "checkout:chk_1").Scan(&first))

	require.NoError(t, s.Put(ctx, "checkout:chk_1", []byte("two")))
	var (
		payload []byte
		second  time.Time
		rows    int
	)
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT payload, updated_at, (SELECT count(*) FROM checkout_state) FROM checkout_state WHERE key = $1`,
		"checkout:chk_1").Scan(&payload, &second, &rows))
	assert.Equal(t, []byte("two"), payload)
	assert.False(t, second.Before(first))
	assert.Equal(t, 1, rows)
}

func TestNewR2Storage_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewR2Storage(ctx, R2Config{})
	assert.ErrorIs(t, err, ErrR2AccountIDRequired)

	_, err = NewR2Storage(ctx, R2Config{AccountID: "acct"})
	assert.ErrorIs(t, err, ErrR2CredentialsRequired)

	_, err = NewR2Storage(ctx, R2Config{AccountID: "acct", AccessKeyID: "id", SecretKey: "secret"})
	assert.ErrorIs(t, err, ErrR2BucketRequired)
}

func TestNewStorage(t *testing.T) {
	ctx := context.Background()

	s, err := NewStorage(ctx, internal.StorageConfig{Provider: "memory"}, Clients{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	s, err = NewStorage(ctx, internal.StorageConfig{Provider: "local", LocalPath: t.TempDir()}, Clients{})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = NewStorage(ctx, internal.StorageConfig{Provider: "redis"}, Clients{})
	assert.Error(t, err)

	_, err = NewStorage(ctx, internal.StorageConfig{Provider: "postgres"}, Clients{})
	assert.Error(t, err)

	_, err = NewStorage(ctx, internal.StorageConfig{Provider: "floppy"}, Clients{})
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, codeInvalid, se.ErrorCode())
}
