package querypool

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	_ "modernc.org/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPoolDo(t *testing.T) {
	db := openTestDB(t)
	p := New(db, 3, 8, time.Second, zerolog.Nop())
	defer p.Shutdown()

	value, err := p.Do(context.Background(), func(ctx context.Context, conn *sql.Conn) (any, error) {
		var one int
		err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
		return one, err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, value)
}

func TestPoolConcurrency(t *testing.T) {
	db := openTestDB(t)
	p := New(db, 3, 64, 5*time.Second, zerolog.Nop())
	defer p.Shutdown()

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Do(context.Background(), func(ctx context.Context, conn *sql.Conn) (any, error) {
				var n int
				return n, conn.QueryRowContext(ctx, "SELECT ?", i).Scan(&n)
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
}

func TestPoolTimeout(t *testing.T) {
	db := openTestDB(t)
	p := New(db, 1, 8, 50*time.Millisecond, zerolog.Nop())
	defer p.Shutdown()

	_, err := p.Do(context.Background(), func(ctx context.Context, conn *sql.Conn) (any, error) {
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	t.Run("slot is reusable after timeout", func(t *testing.T) {
		value, err := p.Do(context.Background(), func(ctx context.Context, conn *sql.Conn) (any, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", value)
	})
}

func TestPoolSaturation(t *testing.T) {
	db := openTestDB(t)
	p := New(db, 1, 1, time.Second, zerolog.Nop())
	defer p.Shutdown()

	block := make(chan struct{})
	var wg sync.WaitGroup
	// One job occupies the single worker, one fills the queue slot.
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Do(context.Background(), func(ctx context.Context, conn *sql.Conn) (any, error) {
				select {
				case <-block:
				case <-ctx.Done():
				}
				return nil, nil
			})
		}()
	}
	time.Sleep(100 * time.Millisecond)

	_, err := p.Do(context.Background(), func(ctx context.Context, conn *sql.Conn) (any, error) {
		return nil, nil
	})
	require.Error(t, err, "overflow past the queue limit must reject immediately")
	assert.Contains(t, err.Error(), "saturated")

	close(block)
	wg.Wait()
}

func TestPoolPanicRecovery(t *testing.T) {
	db := openTestDB(t)
	p := New(db, 1, 8, time.Second, zerolog.Nop())
	defer p.Shutdown()

	_, err := p.Do(context.Background(), func(ctx context.Context, conn *sql.Conn) (any, error) {
		panic("boom")
	})
	require.Error(t, err)

	t.Run("worker survives the panic", func(t *testing.T) {
		value, err := p.Do(context.Background(), func(ctx context.Context, conn *sql.Conn) (any, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, value)
	})
}

func TestPoolShutdown(t *testing.T) {
	db := openTestDB(t)
	p := New(db, 2, 8, time.Second, zerolog.Nop())
	p.Shutdown()

	_, err := p.Do(context.Background(), func(ctx context.Context, conn *sql.Conn) (any, error) {
		return nil, nil
	})
	require.Error(t, err)
}
