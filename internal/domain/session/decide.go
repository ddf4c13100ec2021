package session

import (
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hiraoku/grooveline/internal/domain/command"
	"github.com/hiraoku/grooveline/internal/domain/track"
)

// Decide validates a typed command against the current projection and
// raises the resulting domain events. It either returns events matching the
// transition table, or ErrGuardViolation with the state untouched; never a
// third outcome. Queries raise no events.
//
// rng is only consulted for shuffle; the generated permutation is recorded
// on the event so that replay does not depend on it.
func Decide(s Snapshot, cmd *command.Command, now time.Time, rng *rand.Rand) ([]Event, error) {
	switch cmd.Type {
	case command.TypePlay:
		if s.State != StateIdle && s.State != StateStopped {
			return nil, errors.Wrapf(ErrGuardViolation, "play: session is %s", s.State)
		}
		p := cmd.Play
		e := s.newEvent(EventSessionStarted, now)
		e.Track = queuedTrack(p.TrackID, p.Title, p.Artists, p.DurationMs, p.RequestedBy, now)
		e.VoiceChannel = p.VoiceChannel
		e.TextChannel = p.TextChannel
		return []Event{e}, nil

	case command.TypePause:
		if s.State != StatePlaying {
			return nil, errors.Wrapf(ErrGuardViolation, "pause: session is %s", s.State)
		}
		return []Event{s.newEvent(EventSessionPaused, now)}, nil

	case command.TypeResume:
		if s.State != StatePaused {
			return nil, errors.Wrapf(ErrGuardViolation, "resume: session is %s", s.State)
		}
		return []Event{s.newEvent(EventSessionResumed, now)}, nil

	case command.TypeStop:
		if s.State != StatePlaying && s.State != StatePaused {
			return nil, errors.Wrapf(ErrGuardViolation, "stop: session is %s", s.State)
		}
		return []Event{s.newEvent(EventSessionStopped, now)}, nil

	case command.TypeSkip:
		if s.State != StatePlaying {
			return nil, errors.Wrapf(ErrGuardViolation, "skip: session is %s", s.State)
		}
		if len(s.Queue) == 0 {
			return nil, errors.Wrap(ErrGuardViolation, "skip: queue is empty")
		}
		return []Event{s.newEvent(EventTrackSkipped, now)}, nil

	case command.TypeSeek:
		if s.State != StatePlaying && s.State != StatePaused {
			return nil, errors.Wrapf(ErrGuardViolation, "seek: session is %s", s.State)
		}
		pos := cmd.Seek.PositionMs
		if s.CurrentTrack != nil && s.CurrentTrack.Track.Duration > 0 &&
			pos > s.CurrentTrack.Track.Duration.Milliseconds() {
			return nil, errors.Wrap(ErrGuardViolation, "seek: position beyond track end")
		}
		e := s.newEvent(EventPositionSeeked, now)
		e.PositionMs = &pos
		return []Event{e}, nil

	case command.TypeSetVolume:
		if s.State != StatePlaying && s.State != StatePaused {
			return nil, errors.Wrapf(ErrGuardViolation, "setVolume: session is %s", s.State)
		}
		v := cmd.SetVolume.Volume
		e := s.newEvent(EventVolumeChanged, now)
		e.Volume = &v
		return []Event{e}, nil

	case command.TypeSetLoopMode:
		if s.State == StateIdle {
			return nil, errors.Wrap(ErrGuardViolation, "setLoopMode: no active session")
		}
		m := LoopMode(cmd.SetLoopMode.Mode)
		e := s.newEvent(EventLoopModeChanged, now)
		e.LoopMode = &m
		return []Event{e}, nil

	case command.TypeAddToQueue:
		if s.State == StateIdle {
			return nil, errors.Wrap(ErrGuardViolation, "addToQueue: no active session")
		}
		p := cmd.AddToQueue
		e := s.newEvent(EventTrackQueued, now)
		e.Track = queuedTrack(p.TrackID, p.Title, p.Artists, p.DurationMs, p.RequestedBy, now)
		return []Event{e}, nil

	case command.TypeRemove:
		if s.State == StateIdle {
			return nil, errors.Wrap(ErrGuardViolation, "remove: no active session")
		}
		idx := cmd.Remove.Index
		if idx >= len(s.Queue) {
			return nil, errors.Wrapf(ErrGuardViolation, "remove: index %d out of range", idx)
		}
		e := s.newEvent(EventTrackRemoved, now)
		e.Index = &idx
		return []Event{e}, nil

	case command.TypeMove:
		if s.State == StateIdle {
			return nil, errors.Wrap(ErrGuardViolation, "move: no active session")
		}
		from, to := cmd.Move.From, cmd.Move.To
		if from >= len(s.Queue) || to >= len(s.Queue) {
			return nil, errors.Wrapf(ErrGuardViolation, "move: index out of range (%d -> %d)", from, to)
		}
		if from == to {
			return nil, errors.Wrap(ErrGuardViolation, "move: source equals destination")
		}
		e := s.newEvent(EventTrackMoved, now)
		e.From = &from
		e.To = &to
		return []Event{e}, nil

	case command.TypeShuffle:
		if s.State == StateIdle {
			return nil, errors.Wrap(ErrGuardViolation, "shuffle: no active session")
		}
		if len(s.Queue) < 2 {
			return nil, errors.Wrap(ErrGuardViolation, "shuffle: not enough queued tracks")
		}
		e := s.newEvent(EventQueueShuffled, now)
		e.Order = rng.Perm(len(s.Queue))
		return []Event{e}, nil

	case command.TypeClear:
		if s.State == StateIdle {
			return nil, errors.Wrap(ErrGuardViolation, "clear: no active session")
		}
		return []Event{s.newEvent(EventQueueCleared, now)}, nil

	case command.TypeDisconnect:
		return []Event{s.newEvent(EventSessionDisconnected, now)}, nil

	case command.TypeQueryNowPlaying, command.TypeQueryQueue, command.TypeSearch:
		return nil, nil

	default:
		return nil, errors.Wrapf(command.ErrUnknownType, "type %q", cmd.Type)
	}
}

func (s Snapshot) newEvent(t EventType, now time.Time) Event {
	return Event{
		Type:       t,
		Seq:        s.LastEventSeq + 1,
		SessionKey: s.SessionKey,
		At:         now,
	}
}

func queuedTrack(id, title string, artists []string, durationMs int64, requestedBy string, now time.Time) *track.QueuedTrack {
	return &track.QueuedTrack{
		Track: track.Track{
			ID:       id,
			Title:    title,
			Artists:  artists,
			Duration: time.Duration(durationMs) * time.Millisecond,
		},
		RequestedBy: requestedBy,
		AddedAt:     now,
	}
}
