// Package broker provides the shared pub/sub substrate client: a thin
// publisher/subscriber pair over Redis with per-channel subscribe lifecycle.
// Delivery is at-most-once and fire-and-forget; everything above this
// package (correlation, replies, ordering guards) is built on that
// assumption.
package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrTransport marks a publish or subscribe failure on the substrate.
// It is surfaced immediately; retrying is caller policy.
var ErrTransport = errors.New("broker transport failure")

// Config holds broker connection configuration.
type Config struct {
	Addr           string
	Password       string
	DB             int
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRetries     int
	ConsumeBackoff time.Duration // wait before resubscribing after a consume failure
}

// Broker is a Redis-backed publish/subscribe client. The underlying client
// connects lazily and go-redis reconnects subscriptions with its own
// backoff; Consume adds channel-level resubscribe on top.
type Broker struct {
	client *redis.Client
	log    zerolog.Logger
	cfg    Config

	activeSubs atomic.Int64
}

// New creates a broker. No connection is made until the first operation;
// call Ping to verify connectivity eagerly.
func New(cfg Config, log zerolog.Logger) *Broker {
	if cfg.ConsumeBackoff <= 0 {
		cfg.ConsumeBackoff = time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	})
	return &Broker{client: client, log: log, cfg: cfg}
}

// Client exposes the underlying Redis client for components sharing the
// connection (the remote cache tier).
func (b *Broker) Client() *redis.Client {
	return b.client
}

// Ping verifies connectivity.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(ErrTransport, err.Error())
	}
	return nil
}

// Publish sends a payload on a channel. Failures surface as ErrTransport.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errors.Wrapf(ErrTransport, "publish on %s: %v", channel, err)
	}
	return nil
}

// Subscription is a live subscription to one or more channels. Close is
// idempotent and must be called on every exit path.
type Subscription struct {
	ps     *redis.PubSub
	ch     <-chan *redis.Message
	broker *Broker
	once   sync.Once
}

// Subscribe opens a subscription and waits for the substrate to confirm it,
// so a publish issued after Subscribe returns cannot race past the
// subscription.
func (b *Broker) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrapf(ErrTransport, "subscribe %v: %v", channels, err)
	}
	b.activeSubs.Add(1)
	return &Subscription{ps: ps, ch: ps.Channel(), broker: b}, nil
}

// Messages returns the delivery channel. It is closed when the
// subscription closes.
func (s *Subscription) Messages() <-chan *redis.Message {
	return s.ch
}

// Close tears the subscription down.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		s.broker.activeSubs.Add(-1)
	})
	return err
}

// ActiveSubscriptions returns the number of open subscriptions. Used to
// verify cleanup-on-all-paths.
func (b *Broker) ActiveSubscriptions() int64 {
	return b.activeSubs.Load()
}

// Consume subscribes to a channel and invokes handle for every message
// until ctx is done, resubscribing with backoff after failures. Handler
// panics or errors never terminate the loop.
func (b *Broker) Consume(ctx context.Context, channel string, handle func(payload []byte)) error {
	for {
		sub, err := b.Subscribe(ctx, channel)
		if err != nil {
			b.log.Warn().Err(err).Str("channel", channel).Msg("subscribe failed, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.cfg.ConsumeBackoff):
				continue
			}
		}

		b.consumeLoop(ctx, sub, handle)
		_ = sub.Close()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.log.Warn().Str("channel", channel).Msg("consume interrupted, resubscribing")
		}
	}
}

func (b *Broker) consumeLoop(ctx context.Context, sub *Subscription, handle func(payload []byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			b.safeHandle(handle, []byte(msg.Payload))
		}
	}
}

func (b *Broker) safeHandle(handle func(payload []byte), payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Msg("message handler panicked")
		}
	}()
	handle(payload)
}

// Close releases the Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}
