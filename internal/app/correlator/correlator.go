// Package correlator fabricates a request/reply protocol on top of the
// fire-and-forget broker: each request gets a unique correlation id and an
// ephemeral single-use subscription on the reply channel derived from it,
// raced against a deadline. The substrate gives no delivery guarantee, so a
// timeout means "outcome unknown", never failure.
package correlator

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hiraoku/grooveline/internal/domain/command"
	"github.com/hiraoku/grooveline/internal/infra/broker"
)

// ErrTimeout indicates no reply arrived before the deadline. The command
// may still have been applied server-side; callers must not treat this as
// failure (nor success).
var ErrTimeout = errors.New("no reply before deadline; outcome unknown")

// Correlator issues commands on the shared command channel.
type Correlator struct {
	broker  *broker.Broker
	log     zerolog.Logger
	timeout time.Duration // default reply timeout
}

// New creates a correlator with the given default reply timeout.
func New(b *broker.Broker, timeout time.Duration, log zerolog.Logger) *Correlator {
	return &Correlator{broker: b, log: log, timeout: timeout}
}

// Send publishes a command with no reply expected. The caller has no way
// to know whether the worker received it.
func (c *Correlator) Send(ctx context.Context, env command.Envelope) error {
	env.CorrelationID = ""
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return c.broker.Publish(ctx, command.CommandChannel, data)
}

// SendAndWait publishes a command and waits for its reply. timeout <= 0
// uses the correlator default. The ephemeral reply subscription is released
// on every exit path: reply, timeout, transport failure, and context
// cancellation. Concurrent callers never share a reply channel; uniqueness
// of the correlation id is the only collision defense needed.
func (c *Correlator) SendAndWait(ctx context.Context, env command.Envelope, timeout time.Duration) (command.Reply, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}

	env.CorrelationID = uuid.NewString()
	data, err := env.Marshal()
	if err != nil {
		return command.Reply{}, err
	}

	// Subscribe before publishing so the reply cannot race past us.
	sub, err := c.broker.Subscribe(ctx, command.ReplyChannel(env.CorrelationID))
	if err != nil {
		return command.Reply{}, err
	}
	defer func() { _ = sub.Close() }()

	if err := c.broker.Publish(ctx, command.CommandChannel, data); err != nil {
		return command.Reply{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			return command.Reply{}, errors.Wrap(broker.ErrTransport, "reply subscription closed")
		}
		reply, err := command.UnmarshalReply([]byte(msg.Payload))
		if err != nil {
			return command.Reply{}, err
		}
		if reply.CorrelationID != env.CorrelationID {
			// Cannot happen unless the channel derivation is broken.
			return command.Reply{}, errors.Newf("reply correlation mismatch: %s", reply.CorrelationID)
		}
		return reply, nil

	case <-timer.C:
		c.log.Debug().
			Str("type", string(env.Type)).
			Str("session_key", env.SessionKey).
			Msg("reply timeout; outcome unknown")
		return command.Reply{}, errors.Wrapf(ErrTimeout, "%s on %s", env.Type, env.SessionKey)

	case <-ctx.Done():
		return command.Reply{}, ctx.Err()
	}
}
