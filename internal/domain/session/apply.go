package session

import "github.com/hiraoku/grooveline/internal/domain/track"

// Apply folds one event into the projection. It is a pure, deterministic
// function: the same snapshot and event always yield the same result, which
// is what makes replay from a snapshot equivalent to continuous folding.
func Apply(s Snapshot, e Event) Snapshot {
	s.LastEventSeq = e.Seq
	s.UpdatedAt = e.At

	switch e.Type {
	case EventSessionStarted:
		s.State = StatePlaying
		s.CurrentTrack = e.Track
		s.PositionMs = 0
		if e.VoiceChannel != "" {
			s.VoiceChannel = e.VoiceChannel
		}
		if e.TextChannel != "" {
			s.TextChannel = e.TextChannel
		}

	case EventSessionPaused:
		s.State = StatePaused

	case EventSessionResumed:
		s.State = StatePlaying

	case EventSessionStopped:
		s.State = StateStopped

	case EventSessionDisconnected:
		s.State = StateIdle
		s.CurrentTrack = nil
		s.Queue = nil
		s.PositionMs = 0
		s.LoopMode = LoopOff
		s.Volume = DefaultVolume
		s.VoiceChannel = ""
		s.TextChannel = ""

	case EventVolumeChanged:
		if e.Volume != nil {
			s.Volume = *e.Volume
		}

	case EventLoopModeChanged:
		if e.LoopMode != nil {
			s.LoopMode = *e.LoopMode
		}

	case EventPositionSeeked:
		if e.PositionMs != nil {
			s.PositionMs = *e.PositionMs
		}

	case EventTrackSkipped:
		if len(s.Queue) > 0 {
			skipped := s.CurrentTrack
			next := s.Queue[0]
			s.Queue = copyQueue(s.Queue[1:])
			s.CurrentTrack = &next
			s.PositionMs = 0
			// Queue loop keeps the skipped track cycling at the tail.
			if s.LoopMode == LoopQueue && skipped != nil {
				s.Queue = append(s.Queue, *skipped)
			}
		}

	case EventTrackQueued:
		if e.Track != nil {
			s.Queue = append(copyQueue(s.Queue), *e.Track)
		}

	case EventTrackRemoved:
		if e.Index != nil && *e.Index < len(s.Queue) {
			q := copyQueue(s.Queue)
			s.Queue = append(q[:*e.Index], q[*e.Index+1:]...)
		}

	case EventTrackMoved:
		if e.From != nil && e.To != nil &&
			*e.From < len(s.Queue) && *e.To < len(s.Queue) {
			q := copyQueue(s.Queue)
			moved := q[*e.From]
			q = append(q[:*e.From], q[*e.From+1:]...)
			out := make([]track.QueuedTrack, 0, len(q)+1)
			out = append(out, q[:*e.To]...)
			out = append(out, moved)
			out = append(out, q[*e.To:]...)
			s.Queue = out
		}

	case EventQueueShuffled:
		if len(e.Order) == len(s.Queue) {
			shuffled := make([]track.QueuedTrack, len(s.Queue))
			for i, j := range e.Order {
				shuffled[i] = s.Queue[j]
			}
			s.Queue = shuffled
		}

	case EventQueueCleared:
		s.Queue = nil
	}

	return s
}

// Fold applies events in order.
func Fold(s Snapshot, events []Event) Snapshot {
	for _, e := range events {
		s = Apply(s, e)
	}
	return s
}

func copyQueue(q []track.QueuedTrack) []track.QueuedTrack {
	out := make([]track.QueuedTrack, len(q))
	copy(out, q)
	return out
}
