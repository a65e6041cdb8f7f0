// Package storagetest runs the crawler repository contract against any backend.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
	"github.com/JakeFAU/crawler-manager/internal/crawler/crawlertest"
)

// Factory returns an empty repository for one subtest.
type Factory func(t *testing.T) crawler.Repository

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// NewRecord builds a CREATED record with the fixture config.
func NewRecord(id string) crawler.Record {
	return crawler.NewRecord(id, "Test Crawler", crawlertest.ValidConfig(), baseTime)
}

// RunRepositoryContract exercises the behavior every Repository must share.
func RunRepositoryContract(t *testing.T, newRepo Factory) {
	t.Helper()

	t.Run("insert and find", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		rec := NewRecord("crawler-1")
		rec.Version = 7
		stored, err := repo.Insert(ctx, rec)
		require.NoError(t, err)
		require.Equal(t, int64(0), stored.Version)

		ok, err := repo.Exists(ctx, "crawler-1")
		require.NoError(t, err)
		require.True(t, ok)

		got, err := repo.FindByID(ctx, "crawler-1")
		require.NoError(t, err)
		require.Equal(t, "Test Crawler", got.Name)
		require.Equal(t, crawler.StatusCreated, got.Status)
		require.Equal(t, crawlertest.ValidConfig(), got.Config)
		require.True(t, baseTime.Equal(got.CreatedAt))
		require.True(t, baseTime.Equal(got.UpdatedAt))
		require.Equal(t, int64(0), got.Version)
	})

	t.Run("insert duplicate", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Insert(ctx, NewRecord("dup"))
		require.NoError(t, err)
		_, err = repo.Insert(ctx, NewRecord("dup"))
		require.ErrorIs(t, err, crawler.ErrAlreadyExists)
	})

	t.Run("missing id", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		ok, err := repo.Exists(ctx, "missing")
		require.NoError(t, err)
		require.False(t, ok)

		_, err = repo.FindByID(ctx, "missing")
		require.ErrorIs(t, err, crawler.ErrNotFound)

		_, err = repo.Save(ctx, NewRecord("missing"))
		require.ErrorIs(t, err, crawler.ErrNotFound)

		require.NoError(t, repo.DeleteByID(ctx, "missing"))
	})

	t.Run("save bumps version", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		stored, err := repo.Insert(ctx, NewRecord("crawler-2"))
		require.NoError(t, err)

		next := stored.WithDefinition("Renamed", crawlertest.UpdatedConfig()).WithStatus(crawler.StatusStarted)
		next.UpdatedAt = baseTime.Add(time.Minute)
		saved, err := repo.Save(ctx, next)
		require.NoError(t, err)
		require.Equal(t, int64(1), saved.Version)

		got, err := repo.FindByID(ctx, "crawler-2")
		require.NoError(t, err)
		require.Equal(t, "Renamed", got.Name)
		require.Equal(t, crawler.StatusStarted, got.Status)
		require.Equal(t, crawlertest.UpdatedConfig(), got.Config)
		require.True(t, baseTime.Equal(got.CreatedAt))
		require.True(t, next.UpdatedAt.Equal(got.UpdatedAt))
		require.Equal(t, int64(1), got.Version)
	})

	t.Run("stale save is rejected", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		stored, err := repo.Insert(ctx, NewRecord("crawler-3"))
		require.NoError(t, err)

		_, err = repo.Save(ctx, stored.WithStatus(crawler.StatusStarted))
		require.NoError(t, err)

		_, err = repo.Save(ctx, stored.WithStatus(crawler.StatusStopped))
		require.ErrorIs(t, err, crawler.ErrVersionConflict)

		got, err := repo.FindByID(ctx, "crawler-3")
		require.NoError(t, err)
		require.Equal(t, crawler.StatusStarted, got.Status)
		require.Equal(t, int64(1), got.Version)
	})

	t.Run("concurrent saves have one winner", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		stored, err := repo.Insert(ctx, NewRecord("crawler-4"))
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, saveErr := repo.Save(ctx, stored.WithStatus(crawler.StatusStarted))
				results <- saveErr
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for saveErr := range results {
			if saveErr == nil {
				wins++
				continue
			}
			require.ErrorIs(t, saveErr, crawler.ErrVersionConflict)
		}
		require.Equal(t, 1, wins)
	})

	t.Run("find all and delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		all, err := repo.FindAll(ctx)
		require.NoError(t, err)
		require.Empty(t, all)

		for _, id := range []string{"a", "b", "c"} {
			_, err = repo.Insert(ctx, NewRecord(id))
			require.NoError(t, err)
		}
		all, err = repo.FindAll(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(all))
		for _, rec := range all {
			ids = append(ids, rec.ID)
		}
		require.ElementsMatch(t, []string{"a", "b", "c"}, ids)

		require.NoError(t, repo.DeleteByID(ctx, "b"))
		require.NoError(t, repo.DeleteByID(ctx, "b"))
		_, err = repo.FindByID(ctx, "b")
		require.ErrorIs(t, err, crawler.ErrNotFound)

		all, err = repo.FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.Insert(ctx, NewRecord("crawler-5"))
		require.NoError(t, err)

		got, err := repo.FindByID(ctx, "crawler-5")
		require.NoError(t, err)
		got.Config.StartURLs[0] = "https://mutated.example"

		again, err := repo.FindByID(ctx, "crawler-5")
		require.NoError(t, err)
		require.Equal(t, crawlertest.ValidConfig().StartURLs, again.Config.StartURLs)
	})
}
