package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiraoku/grooveline/internal/domain/command"
	"github.com/hiraoku/grooveline/internal/domain/track"
)

func testTrack(id string) *track.QueuedTrack {
	return &track.QueuedTrack{
		Track: track.Track{ID: id, Title: "Track " + id, Duration: 3 * time.Minute},
	}
}

func snapshotInState(state State) Snapshot {
	s := NewSnapshot("guild-1")
	s.State = state
	if state != StateIdle {
		s.CurrentTrack = testTrack("t1")
	}
	return s
}

func TestDecide_Guards(t *testing.T) {
	now := time.Now()
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name    string
		state   State
		queue   []track.QueuedTrack
		cmd     *command.Command
		wantErr bool
		event   EventType
	}{
		{
			name:  "play from idle",
			state: StateIdle,
			cmd: &command.Command{Type: command.TypePlay, Play: &command.PlayPayload{
				TrackID: "t1", Title: "Track t1", VoiceChannel: "vc", TextChannel: "tc",
			}},
			event: EventSessionStarted,
		},
		{
			name:  "play from stopped",
			state: StateStopped,
			cmd: &command.Command{Type: command.TypePlay, Play: &command.PlayPayload{
				TrackID: "t1", Title: "Track t1", VoiceChannel: "vc", TextChannel: "tc",
			}},
			event: EventSessionStarted,
		},
		{
			name:    "play while playing",
			state:   StatePlaying,
			cmd:     &command.Command{Type: command.TypePlay, Play: &command.PlayPayload{TrackID: "t1", Title: "x", VoiceChannel: "vc", TextChannel: "tc"}},
			wantErr: true,
		},
		{
			name:  "pause while playing",
			state: StatePlaying,
			cmd:   &command.Command{Type: command.TypePause},
			event: EventSessionPaused,
		},
		{
			name:    "pause while paused",
			state:   StatePaused,
			cmd:     &command.Command{Type: command.TypePause},
			wantErr: true,
		},
		{
			name:  "resume while paused",
			state: StatePaused,
			cmd:   &command.Command{Type: command.TypeResume},
			event: EventSessionResumed,
		},
		{
			name:    "resume while playing",
			state:   StatePlaying,
			cmd:     &command.Command{Type: command.TypeResume},
			wantErr: true,
		},
		{
			name:    "stop while idle",
			state:   StateIdle,
			cmd:     &command.Command{Type: command.TypeStop},
			wantErr: true,
		},
		{
			name:  "stop while paused",
			state: StatePaused,
			cmd:   &command.Command{Type: command.TypeStop},
			event: EventSessionStopped,
		},
		{
			name:  "skip with queued track",
			state: StatePlaying,
			queue: []track.QueuedTrack{*testTrack("t2")},
			cmd:   &command.Command{Type: command.TypeSkip},
			event: EventTrackSkipped,
		},
		{
			name:    "skip with empty queue",
			state:   StatePlaying,
			cmd:     &command.Command{Type: command.TypeSkip},
			wantErr: true,
		},
		{
			name:    "skip while paused",
			state:   StatePaused,
			queue:   []track.QueuedTrack{*testTrack("t2")},
			cmd:     &command.Command{Type: command.TypeSkip},
			wantErr: true,
		},
		{
			name:  "seek within track",
			state: StatePlaying,
			cmd:   &command.Command{Type: command.TypeSeek, Seek: &command.SeekPayload{PositionMs: 1000}},
			event: EventPositionSeeked,
		},
		{
			name:    "seek past track end",
			state:   StatePlaying,
			cmd:     &command.Command{Type: command.TypeSeek, Seek: &command.SeekPayload{PositionMs: int64(10 * time.Minute / time.Millisecond)}},
			wantErr: true,
		},
		{
			name:  "set volume while paused",
			state: StatePaused,
			cmd:   &command.Command{Type: command.TypeSetVolume, SetVolume: &command.SetVolumePayload{Volume: 50}},
			event: EventVolumeChanged,
		},
		{
			name:    "set volume while idle",
			state:   StateIdle,
			cmd:     &command.Command{Type: command.TypeSetVolume, SetVolume: &command.SetVolumePayload{Volume: 50}},
			wantErr: true,
		},
		{
			name:  "set loop mode while stopped",
			state: StateStopped,
			cmd:   &command.Command{Type: command.TypeSetLoopMode, SetLoopMode: &command.SetLoopModePayload{Mode: "queue"}},
			event: EventLoopModeChanged,
		},
		{
			name:    "set loop mode while idle",
			state:   StateIdle,
			cmd:     &command.Command{Type: command.TypeSetLoopMode, SetLoopMode: &command.SetLoopModePayload{Mode: "queue"}},
			wantErr: true,
		},
		{
			name:  "add to queue while playing",
			state: StatePlaying,
			cmd:   &command.Command{Type: command.TypeAddToQueue, AddToQueue: &command.AddToQueuePayload{TrackID: "t2", Title: "x"}},
			event: EventTrackQueued,
		},
		{
			name:    "add to queue while idle",
			state:   StateIdle,
			cmd:     &command.Command{Type: command.TypeAddToQueue, AddToQueue: &command.AddToQueuePayload{TrackID: "t2", Title: "x"}},
			wantErr: true,
		},
		{
			name:    "remove index out of range",
			state:   StatePlaying,
			queue:   []track.QueuedTrack{*testTrack("t2")},
			cmd:     &command.Command{Type: command.TypeRemove, Remove: &command.RemovePayload{Index: 5}},
			wantErr: true,
		},
		{
			name:  "remove valid index",
			state: StatePlaying,
			queue: []track.QueuedTrack{*testTrack("t2")},
			cmd:   &command.Command{Type: command.TypeRemove, Remove: &command.RemovePayload{Index: 0}},
			event: EventTrackRemoved,
		},
		{
			name:    "move source equals destination",
			state:   StatePlaying,
			queue:   []track.QueuedTrack{*testTrack("t2"), *testTrack("t3")},
			cmd:     &command.Command{Type: command.TypeMove, Move: &command.MovePayload{From: 1, To: 1}},
			wantErr: true,
		},
		{
			name:  "move valid",
			state: StatePlaying,
			queue: []track.QueuedTrack{*testTrack("t2"), *testTrack("t3")},
			cmd:   &command.Command{Type: command.TypeMove, Move: &command.MovePayload{From: 0, To: 1}},
			event: EventTrackMoved,
		},
		{
			name:    "shuffle single entry",
			state:   StatePlaying,
			queue:   []track.QueuedTrack{*testTrack("t2")},
			cmd:     &command.Command{Type: command.TypeShuffle},
			wantErr: true,
		},
		{
			name:  "shuffle",
			state: StatePlaying,
			queue: []track.QueuedTrack{*testTrack("t2"), *testTrack("t3")},
			cmd:   &command.Command{Type: command.TypeShuffle},
			event: EventQueueShuffled,
		},
		{
			name:  "clear while stopped",
			state: StateStopped,
			queue: []track.QueuedTrack{*testTrack("t2")},
			cmd:   &command.Command{Type: command.TypeClear},
			event: EventQueueCleared,
		},
		{
			name:  "disconnect is always legal",
			state: StateIdle,
			cmd:   &command.Command{Type: command.TypeDisconnect},
			event: EventSessionDisconnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := snapshotInState(tt.state)
			s.Queue = tt.queue
			tt.cmd.SessionKey = s.SessionKey

			events, err := Decide(s, tt.cmd, now, rng)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrGuardViolation)
				assert.Empty(t, events)
				return
			}
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tt.event, events[0].Type)
			assert.Equal(t, s.LastEventSeq+1, events[0].Seq)
		})
	}
}

func TestDecide_QueriesRaiseNoEvents(t *testing.T) {
	s := snapshotInState(StatePlaying)
	now := time.Now()

	for _, typ := range []command.Type{command.TypeQueryNowPlaying, command.TypeQueryQueue} {
		events, err := Decide(s, &command.Command{Type: typ, SessionKey: s.SessionKey}, now, nil)
		assert.NoError(t, err)
		assert.Nil(t, events)
	}
}

func TestDecide_RejectedCommandLeavesStateUntouched(t *testing.T) {
	s := snapshotInState(StatePlaying)
	before := s

	_, err := Decide(s, &command.Command{Type: command.TypeResume, SessionKey: s.SessionKey}, time.Now(), nil)
	require.ErrorIs(t, err, ErrGuardViolation)
	assert.Equal(t, before, s)
}

func TestDecide_FullLifecycle(t *testing.T) {
	now := time.Now()
	rng := rand.New(rand.NewSource(42))
	s := NewSnapshot("guild-1")

	step := func(cmd *command.Command) {
		t.Helper()
		cmd.SessionKey = s.SessionKey
		events, err := Decide(s, cmd, now, rng)
		require.NoError(t, err)
		s = Fold(s, events)
		require.NoError(t, s.CheckInvariants())
	}

	step(&command.Command{Type: command.TypePlay, Play: &command.PlayPayload{
		TrackID: "t1", Title: "Track t1", VoiceChannel: "vc", TextChannel: "tc",
	}})
	assert.Equal(t, StatePlaying, s.State)

	step(&command.Command{Type: command.TypePause})
	assert.Equal(t, StatePaused, s.State)

	step(&command.Command{Type: command.TypeResume})
	assert.Equal(t, StatePlaying, s.State)

	// A second resume must be rejected without raising an event.
	_, err := Decide(s, &command.Command{Type: command.TypeResume, SessionKey: s.SessionKey}, now, rng)
	assert.ErrorIs(t, err, ErrGuardViolation)
	assert.Equal(t, uint64(3), s.LastEventSeq)
}
