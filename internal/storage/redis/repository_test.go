package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
	"github.com/JakeFAU/crawler-manager/internal/storage/redis"
	"github.com/JakeFAU/crawler-manager/internal/storage/storagetest"
)

func newRepo(t *testing.T) (*redis.Repository, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewRepository(client, "test"), srv
}

func TestRepositoryContract(t *testing.T) {
	storagetest.RunRepositoryContract(t, func(t *testing.T) crawler.Repository {
		repo, _ := newRepo(t)
		return repo
	})
}

func TestRepositoryKeyLayout(t *testing.T) {
	repo, srv := newRepo(t)
	ctx := context.Background()

	_, err := repo.Insert(ctx, storagetest.NewRecord("crawler-1"))
	require.NoError(t, err)

	require.True(t, srv.Exists("test:crawler-1"))
	members, err := srv.Members("test:ids")
	require.NoError(t, err)
	require.Equal(t, []string{"crawler-1"}, members)

	require.NoError(t, repo.DeleteByID(ctx, "crawler-1"))
	require.False(t, srv.Exists("test:crawler-1"))
	require.False(t, srv.Exists("test:ids"))
}

func TestInsertIndexesAtomically(t *testing.T) {
	repo, srv := newRepo(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := repo.Insert(ctx, storagetest.NewRecord(id))
		require.NoError(t, err)
	}
	members, err := srv.Members("test:ids")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b", "c"}, members)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestInsertRepairsUnindexedRecord(t *testing.T) {
	repo, srv := newRepo(t)
	ctx := context.Background()

	_, err := repo.Insert(ctx, storagetest.NewRecord("orphan"))
	require.NoError(t, err)
	_, err = srv.SRem("test:ids", "orphan")
	require.NoError(t, err)

	_, err = repo.Insert(ctx, storagetest.NewRecord("orphan"))
	require.ErrorIs(t, err, crawler.ErrAlreadyExists)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "orphan", all[0].ID)
}

func TestFindAllSkipsDanglingIDs(t *testing.T) {
	repo, srv := newRepo(t)
	ctx := context.Background()

	_, err := repo.Insert(ctx, storagetest.NewRecord("kept"))
	require.NoError(t, err)
	_, err = srv.SAdd("test:ids", "dangling")
	require.NoError(t, err)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "kept", all[0].ID)
}

func TestCorruptRecord(t *testing.T) {
	repo, srv := newRepo(t)
	require.NoError(t, srv.Set("test:broken", "{not json"))

	_, err := repo.FindByID(context.Background(), "broken")
	require.ErrorContains(t, err, "decode crawler")
}

func TestPing(t *testing.T) {
	repo, srv := newRepo(t)
	require.NoError(t, repo.Ping(context.Background()))

	srv.Close()
	require.Error(t, repo.Ping(context.Background()))
}

func TestDefaultPrefix(t *testing.T) {
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	defer client.Close() //nolint:errcheck

	repo := redis.NewRepository(client, "")
	_, err := repo.Insert(context.Background(), storagetest.NewRecord("x"))
	require.NoError(t, err)
	require.True(t, srv.Exists(redis.DefaultKeyPrefix+":x"))
}
