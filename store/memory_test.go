package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	N int `json:"n"`
}

func TestMemoryGetMissing(t *testing.T) {
	m := NewMemory(Options{})
	doc, err := m.Get(context.Background(), "things", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, doc.Exists)
	assert.Equal(t, "nope", doc.ID)
}

func TestMemorySetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{})

	require.NoError(t, m.Set(ctx, "things", "a", counter{N: 1}))
	doc, err := m.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.True(t, doc.Exists)

	var c counter
	require.NoError(t, doc.DataTo(&c))
	assert.Equal(t, 1, c.N)

	require.NoError(t, m.Set(ctx, "things", "a", counter{N: 2}))
	again, err := m.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Greater(t, again.Version, doc.Version)

	require.NoError(t, m.Delete(ctx, "things", "a"))
	_, err = m.Get(ctx, "things", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTransactionSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{})
	require.NoError(t, m.Set(ctx, "things", "gone", counter{N: 9}))

	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.Set("things", "a", counter{N: 5}))
		require.NoError(t, tx.Delete("things", "gone"))

		doc, err := tx.Get(ctx, "things", "a")
		require.NoError(t, err)
		var c counter
		require.NoError(t, doc.DataTo(&c))
		assert.Equal(t, 5, c.N)

		_, err = tx.Get(ctx, "things", "gone")
		assert.ErrorIs(t, err, ErrNotFound)

		docs, err := tx.Query(ctx, Query{Collection: "things"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "a", docs[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryTransactionErrorDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{})
	boom := errors.New("boom")
	calls := 0

	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		calls++
		require.NoError(t, tx.Set("things", "a", counter{N: 1}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	_, err = m.Get(ctx, "things", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryConflictRetriesAgainstFreshData(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{})
	require.NoError(t, m.Set(ctx, "things", "a", counter{N: 1}))

	attempts := 0
	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		doc, err := tx.Get(ctx, "things", "a")
		if err != nil {
			return err
		}
		var c counter
		if err := doc.DataTo(&c); err != nil {
			return err
		}
		if attempts == 1 {
			// A concurrent writer commits between our read and our commit.
			require.NoError(t, m.Set(ctx, "things", "a", counter{N: 10}))
		}
		c.N++
		return tx.Set("things", "a", c)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	doc, err := m.Get(ctx, "things", "a")
	require.NoError(t, err)
	var c counter
	require.NoError(t, doc.DataTo(&c))
	assert.Equal(t, 11, c.N)
}

func TestMemoryQueryPhantomConflicts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{})

	attempts := 0
	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		docs, err := tx.Query(ctx, Query{Collection: "queue"})
		if err != nil {
			return err
		}
		if attempts == 1 {
			assert.Empty(t, docs)
			require.NoError(t, m.Set(ctx, "queue", "other", counter{N: 1}))
		} else {
			assert.Len(t, docs, 1)
		}
		return tx.Set("queue", "mine", counter{N: 2})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestMemoryGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{MaxAttempts: 3})
	require.NoError(t, m.Set(ctx, "things", "a", counter{N: 1}))

	attempts := 0
	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		attempts++
		if _, err := tx.Get(ctx, "things", "a"); err != nil {
			return err
		}
		require.NoError(t, m.Set(ctx, "things", "a", counter{N: attempts}))
		return tx.Set("things", "a", counter{N: -1})
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, attempts)
}

func TestMemoryConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{MaxAttempts: 50})
	require.NoError(t, m.Set(ctx, "things", "a", counter{}))

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
				doc, err := tx.Get(ctx, "things", "a")
				if err != nil {
					return err
				}
				var c counter
				if err := doc.DataTo(&c); err != nil {
					return err
				}
				c.N++
				return tx.Set("things", "a", c)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	doc, err := m.Get(ctx, "things", "a")
	require.NoError(t, err)
	var c counter
	require.NoError(t, doc.DataTo(&c))
	assert.Equal(t, workers, c.N)
}

func TestMemoryClosed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{})
	require.NoError(t, m.Close())

	_, err := m.Get(ctx, "things", "a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Set(ctx, "things", "a", counter{}), ErrClosed)
}
