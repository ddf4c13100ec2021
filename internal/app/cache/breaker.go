package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrRemoteUnavailable indicates the remote tier is circuit-broken. The
// cache absorbs it (degrading to local-only + compute); it never reaches
// callers as a hard error.
var ErrRemoteUnavailable = errors.New("remote cache tier unavailable")

// BreakerSettings are the remote-tier breaker tunables.
type BreakerSettings struct {
	FailureRatio float64       // trip when failures/requests reaches this
	MinSamples   int           // minimum request volume before tripping
	Window       time.Duration // rolling measurement window (closed state)
	Cooldown     time.Duration // open-state wait before the half-open trial
}

type remoteResult struct {
	value []byte
	found bool
}

// breakerRemote guards the remote tier with a circuit breaker.
// MaxRequests is pinned to 1 so the half-open state admits exactly one
// trial request before deciding to close or re-open.
type breakerRemote struct {
	remote *remoteTier
	cb     *gobreaker.CircuitBreaker[remoteResult]
}

func newBreakerRemote(remote *remoteTier, settings BreakerSettings, log zerolog.Logger) *breakerRemote {
	cb := gobreaker.NewCircuitBreaker[remoteResult](gobreaker.Settings{
		Name:        "cache-remote",
		MaxRequests: 1,
		Interval:    settings.Window,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(settings.MinSamples) {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("remote tier breaker state change")
		},
	})
	return &breakerRemote{remote: remote, cb: cb}
}

func (b *breakerRemote) get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := b.cb.Execute(func() (remoteResult, error) {
		val, found, err := b.remote.get(ctx, key)
		return remoteResult{value: val, found: found}, err
	})
	if err != nil {
		return nil, false, b.wrap(err)
	}
	return res.value, res.found, nil
}

func (b *breakerRemote) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (remoteResult, error) {
		return remoteResult{}, b.remote.set(ctx, key, value, ttl)
	})
	return b.wrap(err)
}

func (b *breakerRemote) delete(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() (remoteResult, error) {
		return remoteResult{}, b.remote.delete(ctx, key)
	})
	return b.wrap(err)
}

// wrap normalizes breaker rejections so callers can distinguish "skipped
// because open" from a real store failure.
func (b *breakerRemote) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.WithSecondaryError(ErrRemoteUnavailable, err)
	}
	return err
}

// state exposes the breaker state for stats and tests.
func (b *breakerRemote) state() gobreaker.State {
	return b.cb.State()
}
