// Package dispatcher consumes the shared command channel and routes each
// envelope to the session manager or the query path, publishing a reply
// when the caller asked for one.
package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/hiraoku/grooveline/internal/app/cache"
	"github.com/hiraoku/grooveline/internal/app/search"
	"github.com/hiraoku/grooveline/internal/app/session"
	"github.com/hiraoku/grooveline/internal/domain/command"
	"github.com/hiraoku/grooveline/internal/domain/track"
	"github.com/hiraoku/grooveline/internal/infra/broker"
)

// Dispatcher pulls command envelopes off the broker, enqueues them on the
// owning session actor in arrival order, and replies asynchronously so one
// slow session cannot stall the pump.
type Dispatcher struct {
	broker   *broker.Broker
	manager  *session.Manager
	cache    *cache.Cache
	search   *search.Service
	queryTTL time.Duration
	log      zerolog.Logger
}

// New builds a dispatcher. search may be nil when no provider is
// configured; search commands are then rejected.
func New(b *broker.Broker, m *session.Manager, c *cache.Cache, s *search.Service, queryTTL time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		broker:   b,
		manager:  m,
		cache:    c,
		search:   s,
		queryTTL: queryTTL,
		log:      log.With().Str("component", "dispatcher").Logger(),
	}
}

// Run consumes the command channel until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().Str("channel", command.CommandChannel).Msg("command pump started")
	return d.broker.Consume(ctx, command.CommandChannel, func(payload []byte) {
		d.handle(ctx, payload)
	})
}

func (d *Dispatcher) handle(ctx context.Context, payload []byte) {
	env, err := command.UnmarshalEnvelope(payload)
	if err != nil {
		d.log.Warn().Err(err).Msg("dropping malformed envelope")
		return
	}
	if !env.Type.Valid() {
		d.log.Warn().Str("type", string(env.Type)).Msg("unknown command type")
		d.reject(ctx, env, "unknown command type: "+string(env.Type))
		return
	}

	cmd, err := command.Decode(env)
	if err != nil {
		d.log.Warn().Err(err).Str("type", string(env.Type)).Msg("command rejected")
		d.reject(ctx, env, err.Error())
		return
	}

	switch {
	case env.Type == command.TypeSearch:
		go d.handleSearch(ctx, env, cmd)
	case env.Type.IsQuery():
		go d.handleQuery(ctx, env, cmd)
	default:
		if err := d.resolveTrack(ctx, cmd); err != nil {
			d.log.Warn().Err(err).Str("type", string(env.Type)).Msg("track resolution failed")
			d.reject(ctx, env, err.Error())
			return
		}
		// Enqueue synchronously so per-session ordering follows channel
		// arrival order; only the wait for the outcome is asynchronous.
		respCh, err := d.manager.Submit(ctx, cmd)
		if err != nil {
			d.reject(ctx, env, err.Error())
			return
		}
		go d.awaitReply(ctx, env, respCh)
	}
}

// resolveTrack fills in catalog metadata for play and addToQueue commands
// that arrive with only a track ID. The lookup is cached, so the pump pays
// the provider round trip once per track.
func (d *Dispatcher) resolveTrack(ctx context.Context, cmd *command.Command) error {
	switch cmd.Type {
	case command.TypePlay:
		if cmd.Play.Title != "" {
			return nil
		}
		t, err := d.lookup(ctx, cmd.Play.TrackID)
		if err != nil {
			return err
		}
		cmd.Play.TrackID = t.ID
		cmd.Play.Title = t.Title
		cmd.Play.Artists = t.Artists
		cmd.Play.DurationMs = t.Duration.Milliseconds()
	case command.TypeAddToQueue:
		if cmd.AddToQueue.Title != "" {
			return nil
		}
		t, err := d.lookup(ctx, cmd.AddToQueue.TrackID)
		if err != nil {
			return err
		}
		cmd.AddToQueue.TrackID = t.ID
		cmd.AddToQueue.Title = t.Title
		cmd.AddToQueue.Artists = t.Artists
		cmd.AddToQueue.DurationMs = t.Duration.Milliseconds()
	}
	return nil
}

func (d *Dispatcher) lookup(ctx context.Context, trackID string) (*track.Track, error) {
	if d.search == nil {
		return nil, errors.New("track metadata is unavailable: no catalog provider configured")
	}
	return d.search.Resolve(ctx, trackID)
}

func (d *Dispatcher) awaitReply(ctx context.Context, env command.Envelope, respCh <-chan session.Response) {
	var r session.Response
	select {
	case r = <-respCh:
	case <-ctx.Done():
		return
	}

	if r.Err != nil {
		d.reject(ctx, env, r.Err.Error())
		return
	}

	d.invalidateProjections(ctx, env.SessionKey)
	d.replyOK(ctx, env, r.Result)
}

// invalidateProjections drops the cached query views for a session after a
// mutation, so the next query observes the new state.
func (d *Dispatcher) invalidateProjections(ctx context.Context, sessionKey string) {
	d.cache.Invalidate(ctx, "np:"+sessionKey)
	d.cache.Invalidate(ctx, "queue:"+sessionKey)
}

func (d *Dispatcher) handleQuery(ctx context.Context, env command.Envelope, cmd *command.Command) {
	var key string
	switch env.Type {
	case command.TypeQueryNowPlaying:
		key = "np:" + env.SessionKey
	case command.TypeQueryQueue:
		key = "queue:" + env.SessionKey
	}

	data, err := d.cache.GetOrCompute(ctx, key, d.queryTTL, func(ctx context.Context) ([]byte, error) {
		result, err := d.manager.Dispatch(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	if err != nil {
		d.reject(ctx, env, err.Error())
		return
	}
	d.replyRaw(ctx, env, data)
}

func (d *Dispatcher) handleSearch(ctx context.Context, env command.Envelope, cmd *command.Command) {
	if d.search == nil {
		d.reject(ctx, env, "search is not configured")
		return
	}
	tracks, err := d.search.Search(ctx, cmd.Search.Query, cmd.Search.Limit)
	if err != nil {
		d.reject(ctx, env, err.Error())
		return
	}
	d.replyOK(ctx, env, tracks)
}

func (d *Dispatcher) replyOK(ctx context.Context, env command.Envelope, result any) {
	if env.CorrelationID == "" {
		return
	}
	reply, err := command.OKReply(env.CorrelationID, result)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to build reply")
		return
	}
	d.publish(ctx, reply)
}

func (d *Dispatcher) replyRaw(ctx context.Context, env command.Envelope, result json.RawMessage) {
	if env.CorrelationID == "" {
		return
	}
	d.publish(ctx, command.Reply{CorrelationID: env.CorrelationID, OK: true, Result: result})
}

func (d *Dispatcher) reject(ctx context.Context, env command.Envelope, reason string) {
	if env.CorrelationID == "" {
		return
	}
	d.publish(ctx, command.ErrorReply(env.CorrelationID, reason))
}

func (d *Dispatcher) publish(ctx context.Context, reply command.Reply) {
	data, err := reply.Marshal()
	if err != nil {
		d.log.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	channel := command.ReplyChannel(reply.CorrelationID)
	if err := d.broker.Publish(ctx, channel, data); err != nil {
		d.log.Warn().Err(err).Str("channel", channel).Msg("failed to publish reply")
	}
}
