// Package search resolves free-text track queries against a provider and
// caches the results, so repeated lookups for popular queries do not hit
// the provider's rate limits.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/hiraoku/grooveline/internal/app/cache"
	"github.com/hiraoku/grooveline/internal/domain/track"
)

// DefaultLimit is used when a search request does not specify one.
const DefaultLimit = 10

// Provider looks up tracks in an external catalog.
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)
	GetTrack(ctx context.Context, trackID string) (*track.Track, error)
}

// Service answers track searches through the shared cache.
type Service struct {
	provider Provider
	cache    *cache.Cache
	ttl      time.Duration
	log      zerolog.Logger
}

// New builds a search service. Results are cached for ttl under a key
// derived from the normalized query.
func New(provider Provider, c *cache.Cache, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		provider: provider,
		cache:    c,
		ttl:      ttl,
		log:      log.With().Str("component", "search").Logger(),
	}
}

// Search returns up to limit tracks matching query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	key := cacheKey(query, limit)

	data, err := s.cache.GetOrCompute(ctx, key, s.ttl, func(ctx context.Context) ([]byte, error) {
		tracks, err := s.provider.Search(ctx, query, limit)
		if err != nil {
			return nil, errors.Wrapf(err, "search %q failed", query)
		}
		return json.Marshal(tracks)
	})
	if err != nil {
		return nil, err
	}

	var tracks []track.Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal cached search result")
	}
	return tracks, nil
}

// Resolve looks a single track up by ID, URI, or share URL. Lookups are
// cached so a track played in many sessions costs one provider call.
func (s *Service) Resolve(ctx context.Context, trackID string) (*track.Track, error) {
	data, err := s.cache.GetOrCompute(ctx, "track:"+trackID, s.ttl, func(ctx context.Context) ([]byte, error) {
		t, err := s.provider.GetTrack(ctx, trackID)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %q failed", trackID)
		}
		return json.Marshal(t)
	})
	if err != nil {
		return nil, err
	}

	var t track.Track
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal cached track")
	}
	return &t, nil
}

// cacheKey normalizes the query so trivially different spellings share an
// entry.
func cacheKey(query string, limit int) string {
	q := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return fmt.Sprintf("search:%s:%d", q, limit)
}
