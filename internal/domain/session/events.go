package session

import (
	"time"

	"github.com/hiraoku/grooveline/internal/domain/track"
)

// EventType identifies a domain event.
type EventType string

const (
	EventSessionStarted      EventType = "MusicSessionStarted"
	EventSessionPaused       EventType = "MusicSessionPaused"
	EventSessionResumed      EventType = "MusicSessionResumed"
	EventSessionStopped      EventType = "MusicSessionStopped"
	EventSessionDisconnected EventType = "MusicSessionDisconnected"
	EventVolumeChanged       EventType = "VolumeChanged"
	EventLoopModeChanged     EventType = "LoopModeChanged"
	EventPositionSeeked      EventType = "PositionSeeked"
	EventTrackSkipped        EventType = "TrackSkipped"
	EventTrackQueued         EventType = "TrackQueued"
	EventTrackRemoved        EventType = "TrackRemoved"
	EventTrackMoved          EventType = "TrackMoved"
	EventQueueShuffled       EventType = "QueueShuffled"
	EventQueueCleared        EventType = "QueueCleared"
)

// Event is an immutable fact describing a state change. Seq is assigned by
// Decide relative to the deciding snapshot; At is the decision time. Both
// are recorded on the event so that replaying the same events always yields
// an identical projection.
type Event struct {
	Type       EventType `json:"type"`
	Seq        uint64    `json:"seq"`
	SessionKey string    `json:"sessionKey"`
	At         time.Time `json:"at"`

	Track        *track.QueuedTrack `json:"track,omitempty"`
	Volume       *int               `json:"volume,omitempty"`
	PositionMs   *int64             `json:"positionMs,omitempty"`
	LoopMode     *LoopMode          `json:"loopMode,omitempty"`
	Index        *int               `json:"index,omitempty"`
	From         *int               `json:"from,omitempty"`
	To           *int               `json:"to,omitempty"`
	Order        []int              `json:"order,omitempty"` // shuffle permutation
	VoiceChannel string             `json:"voiceChannel,omitempty"`
	TextChannel  string             `json:"textChannel,omitempty"`
}
