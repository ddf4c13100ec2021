package search

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiraoku/grooveline/internal/app/cache"
	"github.com/hiraoku/grooveline/internal/domain/track"
)

type fakeProvider struct {
	calls  atomic.Int64
	tracks []track.Track
	err    error
}

func (p *fakeProvider) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	if limit < len(p.tracks) {
		return p.tracks[:limit], nil
	}
	return p.tracks, nil
}

func (p *fakeProvider) GetTrack(ctx context.Context, trackID string) (*track.Track, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	for i := range p.tracks {
		if p.tracks[i].ID == trackID {
			return &p.tracks[i], nil
		}
	}
	return nil, errors.Newf("track %q not found", trackID)
}

func testService(t *testing.T, p Provider) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.New(client, cache.Settings{
		LocalCapacity:   64,
		CleanupInterval: time.Minute,
		Namespace:       "test",
		RemoteOpTimeout: 500 * time.Millisecond,
		Breaker: cache.BreakerSettings{
			FailureRatio: 0.5, MinSamples: 4, Window: time.Minute, Cooldown: time.Minute,
		},
	}, zerolog.Nop())
	t.Cleanup(func() {
		c.Close()
		_ = client.Close()
	})
	return New(p, c, 10*time.Minute, zerolog.Nop())
}

func TestService_SearchCachesResults(t *testing.T) {
	p := &fakeProvider{tracks: []track.Track{
		{ID: "t1", Title: "One", Artists: []string{"A"}},
		{ID: "t2", Title: "Two"},
	}}
	s := testService(t, p)
	ctx := context.Background()

	got, err := s.Search(ctx, "some query", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)

	// A repeated query is served from cache.
	got, err = s.Search(ctx, "some query", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), p.calls.Load())
}

func TestService_QueryNormalization(t *testing.T) {
	p := &fakeProvider{tracks: []track.Track{{ID: "t1"}}}
	s := testService(t, p)
	ctx := context.Background()

	_, err := s.Search(ctx, "Daft  Punk", 10)
	require.NoError(t, err)
	_, err = s.Search(ctx, "daft punk", 10)
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.calls.Load(), "spelling variants share one cache entry")

	// A different limit is a different result set.
	_, err = s.Search(ctx, "daft punk", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.calls.Load())
}

func TestService_DefaultLimit(t *testing.T) {
	p := &fakeProvider{tracks: []track.Track{{ID: "t1"}}}
	s := testService(t, p)

	_, err := s.Search(context.Background(), "q", 0)
	require.NoError(t, err)
	_, err = s.Search(context.Background(), "q", DefaultLimit)
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.calls.Load(), "limit 0 uses the default")
}

func TestService_ResolveCachesTrack(t *testing.T) {
	p := &fakeProvider{tracks: []track.Track{
		{ID: "t1", Title: "One", Artists: []string{"A"}, Duration: 215 * time.Second},
	}}
	s := testService(t, p)
	ctx := context.Background()

	got, err := s.Resolve(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "One", got.Title)
	assert.Equal(t, 215*time.Second, got.Duration)

	// A repeated lookup is served from cache.
	_, err = s.Resolve(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.calls.Load())

	_, err = s.Resolve(ctx, "missing")
	require.Error(t, err)
}

func TestService_ProviderErrorPropagates(t *testing.T) {
	p := &fakeProvider{err: errors.New("rate limited")}
	s := testService(t, p)

	_, err := s.Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}
