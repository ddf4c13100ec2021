// Package session implements the event-sourced playback aggregate: one
// authoritative state machine per session key. Commands are validated by
// Decide, which raises domain events; Apply folds events into the projected
// snapshot. Events are the source of truth, the snapshot is a rebuildable
// projection.
package session

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hiraoku/grooveline/internal/domain/track"
)

// Errors
var (
	// ErrGuardViolation marks a command that is illegal in the current
	// state. The command raises no event and leaves state unchanged.
	ErrGuardViolation = errors.New("command not allowed in current state")
)

// State represents the playback state.
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// LoopMode represents the queue loop mode.
type LoopMode string

const (
	LoopOff   LoopMode = "off"
	LoopTrack LoopMode = "track"
	LoopQueue LoopMode = "queue"
)

// DefaultVolume is the volume a fresh or disconnected session returns to.
const DefaultVolume = 100

// Snapshot is the projected aggregate state plus the sequence number of the
// last folded event. It is JSON-serializable for the snapshot store.
//
// Invariants: State==playing implies CurrentTrack != nil;
// State==idle implies CurrentTrack == nil and an empty queue.
type Snapshot struct {
	SessionKey   string              `json:"sessionKey"`
	State        State               `json:"state"`
	CurrentTrack *track.QueuedTrack  `json:"currentTrack,omitempty"`
	Volume       int                 `json:"volume"`
	PositionMs   int64               `json:"positionMs"`
	LoopMode     LoopMode            `json:"loopMode"`
	Queue        []track.QueuedTrack `json:"queue,omitempty"`
	VoiceChannel string              `json:"voiceChannel,omitempty"`
	TextChannel  string              `json:"textChannel,omitempty"`
	LastEventSeq uint64              `json:"lastEventSeq"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// NewSnapshot returns the initial (idle) projection for a session key.
func NewSnapshot(sessionKey string) Snapshot {
	return Snapshot{
		SessionKey: sessionKey,
		State:      StateIdle,
		Volume:     DefaultVolume,
		LoopMode:   LoopOff,
	}
}

// QueueLength returns the number of queued tracks.
func (s Snapshot) QueueLength() int {
	return len(s.Queue)
}

// CheckInvariants verifies the aggregate invariants. Used by tests and as a
// tripwire after folds.
func (s Snapshot) CheckInvariants() error {
	if s.State == StatePlaying && s.CurrentTrack == nil {
		return errors.New("playing session has no current track")
	}
	if s.State == StateIdle {
		if s.CurrentTrack != nil {
			return errors.New("idle session has a current track")
		}
		if len(s.Queue) != 0 {
			return errors.New("idle session has a non-empty queue")
		}
	}
	if s.Volume < 0 || s.Volume > 200 {
		return errors.Newf("volume %d out of range", s.Volume)
	}
	if s.PositionMs < 0 {
		return errors.Newf("negative position %d", s.PositionMs)
	}
	return nil
}
