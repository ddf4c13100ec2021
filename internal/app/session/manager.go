// Package session runs the authoritative session state machines: one
// single-owner actor goroutine per active session key. All mutations flow
// through the actor's inbox, which serializes command application per key
// while keeping different keys fully parallel. Nothing outside the actor
// ever holds a mutable reference to the aggregate.
package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/hiraoku/grooveline/internal/domain/command"
	domain "github.com/hiraoku/grooveline/internal/domain/session"
	"github.com/hiraoku/grooveline/internal/domain/track"
	"github.com/hiraoku/grooveline/internal/infra/store"
)

// ErrShutdown indicates the manager is shutting down and accepts no more
// commands.
var ErrShutdown = errors.New("session manager is shutting down")

// SnapshotStore is the persistence collaborator contract. The manager does
// not care about the storage engine.
type SnapshotStore interface {
	Save(snap domain.Snapshot) error
	Load(sessionKey string) (domain.Snapshot, error)
	Delete(sessionKey string) error
}

// Config holds manager tunables.
type Config struct {
	SnapshotEveryEvents int           // snapshot after this many folded events...
	SnapshotEvery       time.Duration // ...or after this much time, whichever first
	IdleTimeout         time.Duration // tear an inactive session down after this
	InboxSize           int           // per-actor command buffer
}

// NowPlaying is the queryNowPlaying projection handed to callers.
type NowPlaying struct {
	SessionKey string             `json:"sessionKey"`
	State      string             `json:"state"`
	Track      *track.QueuedTrack `json:"track,omitempty"`
	PositionMs int64              `json:"positionMs"`
	Volume     int                `json:"volume"`
	LoopMode   string             `json:"loopMode"`
}

// QueueInfo is the queryQueue projection handed to callers.
type QueueInfo struct {
	SessionKey string              `json:"sessionKey"`
	Length     int                 `json:"length"`
	Tracks     []track.QueuedTrack `json:"tracks,omitempty"`
}

// CommandAck is the result of a successful mutating command.
type CommandAck struct {
	SessionKey  string `json:"sessionKey"`
	State       string `json:"state"`
	QueueLength int    `json:"queueLength"`
	EventSeq    uint64 `json:"eventSeq"`
}

// Response is the outcome of one submitted command.
type Response struct {
	Result any
	Err    error
}

type task struct {
	cmd  *command.Command
	resp chan Response
}

// Manager owns the actors.
type Manager struct {
	mu     sync.Mutex
	actors map[string]*actor
	quit   chan struct{}
	closed bool

	store SnapshotStore
	cfg   Config
	log   zerolog.Logger
	wg    sync.WaitGroup
}

// NewManager creates a manager. Actors are spawned lazily on the first
// command for their key.
func NewManager(st SnapshotStore, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		actors: make(map[string]*actor),
		quit:   make(chan struct{}),
		store:  st,
		cfg:    cfg,
		log:    log,
	}
}

// Submit enqueues a command for its session key, preserving the caller's
// submission order per key, and returns the channel the response will
// arrive on. Per-key serialization happens in the actor; cross-key
// commands proceed in parallel.
func (m *Manager) Submit(ctx context.Context, cmd *command.Command) (<-chan Response, error) {
	t := task{cmd: cmd, resp: make(chan Response, 1)}
	for {
		a, err := m.actorFor(cmd.SessionKey)
		if err != nil {
			return nil, err
		}
		select {
		case a.inbox <- t:
			// A send can still win the race against a teardown whose
			// drain already finished. done is closed only while the
			// inbox is empty, so observing it open here proves remove
			// cannot have missed this task; observing it closed means
			// a second drain pass must reclaim whatever is left.
			select {
			case <-a.done:
				m.drain(a)
			default:
			}
			return t.resp, nil
		case <-a.done:
			// Actor tore down between lookup and send; get a fresh one.
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.quit:
			return nil, ErrShutdown
		}
	}
}

// Dispatch submits a command and waits for its response.
func (m *Manager) Dispatch(ctx context.Context, cmd *command.Command) (any, error) {
	respCh, err := m.Submit(ctx, cmd)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-respCh:
		return r.Result, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveSessions returns the number of live actors.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// Shutdown stops all actors, persisting a final snapshot for each.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.quit)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) actorFor(key string) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShutdown
	}
	if a, ok := m.actors[key]; ok {
		return a, nil
	}

	snap, err := m.store.Load(key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.log.Warn().Err(err).Str("session_key", key).Msg("snapshot load failed, starting fresh")
		}
		snap = domain.NewSnapshot(key)
	} else {
		m.log.Info().
			Str("session_key", key).
			Uint64("last_event_seq", snap.LastEventSeq).
			Msg("session restored from snapshot")
	}

	a := &actor{
		key:        key,
		inbox:      make(chan task, m.cfg.InboxSize),
		done:       make(chan struct{}),
		snap:       snap,
		lastSnapAt: time.Now(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		m:          m,
	}
	m.actors[key] = a
	m.wg.Add(1)
	go a.run()
	return a, nil
}

// remove drops the actor from the registry. Returns false when new work
// arrived in its inbox, in which case the actor must keep running. A task
// that raced past the emptiness check is drained and resubmitted to the
// actor's successor in its original order.
func (m *Manager) remove(a *actor) bool {
	m.mu.Lock()
	if len(a.inbox) > 0 {
		m.mu.Unlock()
		return false
	}
	delete(m.actors, a.key)
	close(a.done)
	m.mu.Unlock()

	m.drain(a)
	return true
}

// drain reclaims tasks stranded in a dead actor's inbox, replaying them
// against the actor's successor in their original order. Both remove and
// a racing Submit may call this; the channel receive makes sure each task
// is replayed exactly once.
func (m *Manager) drain(a *actor) {
	for {
		select {
		case t := <-a.inbox:
			respCh, err := m.Submit(context.Background(), t.cmd)
			if err != nil {
				t.resp <- Response{Err: err}
				continue
			}
			go func(t task) { t.resp <- <-respCh }(t)
		default:
			return
		}
	}
}

// actor is the single owner of one session aggregate.
type actor struct {
	key   string
	inbox chan task
	done  chan struct{}

	snap            domain.Snapshot
	eventsSinceSnap int
	lastSnapAt      time.Time
	rng             *rand.Rand
	m               *Manager
}

func (a *actor) run() {
	defer a.m.wg.Done()

	idle := time.NewTimer(a.m.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case t := <-a.inbox:
			t.resp <- a.handle(t.cmd)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(a.m.cfg.IdleTimeout)

		case <-idle.C:
			a.expire()
			if a.m.remove(a) {
				return
			}
			idle.Reset(a.m.cfg.IdleTimeout)

		case <-a.m.quit:
			a.persist()
			return
		}
	}
}

// handle applies one command. Errors are local to this session key; they
// can never affect other actors.
func (a *actor) handle(cmd *command.Command) Response {
	switch cmd.Type {
	case command.TypeQueryNowPlaying:
		return Response{Result: a.nowPlaying()}
	case command.TypeQueryQueue:
		return Response{Result: a.queueInfo()}
	}

	events, err := domain.Decide(a.snap, cmd, time.Now(), a.rng)
	if err != nil {
		return Response{Err: err}
	}

	a.snap = domain.Fold(a.snap, events)
	a.eventsSinceSnap += len(events)

	if err := a.snap.CheckInvariants(); err != nil {
		// A fold can only break invariants through a Decide/Apply bug;
		// log loudly and keep the session alive.
		a.m.log.Error().Err(err).Str("session_key", a.key).Msg("aggregate invariant violated")
	}

	a.maybeSnapshot()

	return Response{Result: CommandAck{
		SessionKey:  a.key,
		State:       string(a.snap.State),
		QueueLength: a.snap.QueueLength(),
		EventSeq:    a.snap.LastEventSeq,
	}}
}

func (a *actor) nowPlaying() NowPlaying {
	return NowPlaying{
		SessionKey: a.key,
		State:      string(a.snap.State),
		Track:      a.snap.CurrentTrack,
		PositionMs: a.snap.PositionMs,
		Volume:     a.snap.Volume,
		LoopMode:   string(a.snap.LoopMode),
	}
}

func (a *actor) queueInfo() QueueInfo {
	return QueueInfo{
		SessionKey: a.key,
		Length:     a.snap.QueueLength(),
		Tracks:     a.snap.Queue,
	}
}

// expire reverts an inactive session to idle, as if disconnected.
func (a *actor) expire() {
	if a.snap.State != domain.StateIdle {
		a.m.log.Info().Str("session_key", a.key).Msg("idle timeout, disconnecting session")
		e := domain.Event{
			Type:       domain.EventSessionDisconnected,
			Seq:        a.snap.LastEventSeq + 1,
			SessionKey: a.key,
			At:         time.Now(),
		}
		a.snap = domain.Apply(a.snap, e)
		a.eventsSinceSnap++
	}
	a.persist()
}

// maybeSnapshot persists after N folded events or T elapsed time,
// whichever comes first, to bound replay cost.
func (a *actor) maybeSnapshot() {
	if a.eventsSinceSnap == 0 {
		return
	}
	if a.eventsSinceSnap < a.m.cfg.SnapshotEveryEvents &&
		time.Since(a.lastSnapAt) < a.m.cfg.SnapshotEvery {
		return
	}
	a.persist()
}

func (a *actor) persist() {
	// An idle session is indistinguishable from a fresh one after
	// replay, so its snapshot is deleted rather than stored.
	var err error
	if a.snap.State == domain.StateIdle {
		err = a.m.store.Delete(a.key)
	} else {
		err = a.m.store.Save(a.snap)
	}
	if err != nil {
		a.m.log.Warn().Err(err).Str("session_key", a.key).Msg("snapshot persist failed")
		return
	}
	a.eventsSinceSnap = 0
	a.lastSnapAt = time.Now()
}
