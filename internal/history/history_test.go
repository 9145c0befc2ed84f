package history

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, m.Append(ctx, 23.5))
	require.NoError(t, m.Append(ctx, 7))

	list, err = m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{23.5, 7}, list)

	list[0] = 0
	again, _ := m.List(ctx)
	assert.Equal(t, 23.5, again[0])
}

func TestMemoryConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Append(ctx, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, m.Len())
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "totals.txt")
	f := NewFile(path)

	list, err := f.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, f.Append(ctx, 23.5))
	require.NoError(t, f.Append(ctx, 12))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "23.50\n12.00\n", string(data))

	list, err = f.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{23.5, 12}, list)
}

func TestFileSkipsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "totals.txt")
	require.NoError(t, os.WriteFile(path, []byte("1.00\n\nabc\n2.50\n"), 0o644))

	list, err := NewFile(path).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5}, list)
}

func TestFileAppendError(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "missing", "totals.txt"))
	assert.Error(t, f.Append(context.Background(), 1))
}

type failingSink struct{ err error }

func (f failingSink) Append(context.Context, float64) error { return f.err }

func TestMulti(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemory(), NewMemory()

	require.NoError(t, Multi{a, b}.Append(ctx, 4.2))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())

	boom := assert.AnError
	err := Multi{a, failingSink{boom}, b}.Append(ctx, 1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 2, b.Len())
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(ctx, Config{Backend: "FILE", FilePath: filepath.Join(t.TempDir(), "h.txt")})
	require.NoError(t, err)
	assert.IsType(t, &File{}, s)
	assert.NoError(t, s.Close())

	_, err = New(ctx, Config{Backend: "mongo"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	for _, backend := range []string{BackendFile, BackendSheets, BackendPostgres, BackendRedis} {
		_, err = New(ctx, Config{Backend: backend})
		assert.ErrorIs(t, err, ErrInvalidConfiguration, backend)
	}
}

func TestRound2AndCents(t *testing.T) {
	assert.Equal(t, 23.5, Round2(23.499999))
	assert.Equal(t, 0.1, Round2(0.1000001))
	assert.Equal(t, int64(2350), toCents(23.5))
	assert.Equal(t, int64(29), toCents(0.29))
	assert.Equal(t, 23.5, fromCents(2350))
}

func TestPostgresIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	store, err := NewPostgres(dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.db.Exec("DELETE FROM receipt_totals").Error)

	require.NoError(t, store.Append(ctx, 23.5))
	require.NoError(t, store.Append(ctx, 0.29))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{23.5, 0.29}, list)
}

func TestRedisIntegration(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	store, err := NewRedis(ctx, url, "receipts:test:totals")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.client.Del(ctx, store.key).Err())

	require.NoError(t, store.Append(ctx, 23.5))
	require.NoError(t, store.Append(ctx, 7))

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{23.5, 7}, list)
}
