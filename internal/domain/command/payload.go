package command

import (
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// PlayPayload starts a session with an initial track. An empty Title asks
// the worker to resolve the metadata from the catalog by TrackID.
type PlayPayload struct {
	TrackID      string   `mapstructure:"trackId" validate:"required"`
	Title        string   `mapstructure:"title"`
	Artists      []string `mapstructure:"artists"`
	DurationMs   int64    `mapstructure:"durationMs" validate:"gte=0"`
	RequestedBy  string   `mapstructure:"requestedBy"`
	VoiceChannel string   `mapstructure:"voiceChannel" validate:"required"`
	TextChannel  string   `mapstructure:"textChannel" validate:"required"`
}

// SeekPayload moves the playback position.
type SeekPayload struct {
	PositionMs int64 `mapstructure:"positionMs" validate:"gte=0"`
}

// SetVolumePayload changes the playback volume.
type SetVolumePayload struct {
	Volume int `mapstructure:"volume" validate:"gte=0,lte=200"`
}

// SetLoopModePayload changes the loop mode.
type SetLoopModePayload struct {
	Mode string `mapstructure:"mode" validate:"oneof=off track queue"`
}

// AddToQueuePayload appends a track to the queue. An empty Title is
// resolved from the catalog like PlayPayload's.
type AddToQueuePayload struct {
	TrackID     string   `mapstructure:"trackId" validate:"required"`
	Title       string   `mapstructure:"title"`
	Artists     []string `mapstructure:"artists"`
	DurationMs  int64    `mapstructure:"durationMs" validate:"gte=0"`
	RequestedBy string   `mapstructure:"requestedBy"`
}

// RemovePayload removes the queue entry at Index.
type RemovePayload struct {
	Index int `mapstructure:"index" validate:"gte=0"`
}

// MovePayload moves a queue entry from From to To.
type MovePayload struct {
	From int `mapstructure:"from" validate:"gte=0"`
	To   int `mapstructure:"to" validate:"gte=0"`
}

// SearchPayload looks up tracks by free-text query. Limit 0 means the
// provider default.
type SearchPayload struct {
	Query string `mapstructure:"query" validate:"required"`
	Limit int    `mapstructure:"limit" validate:"gte=0,lte=50"`
}

// Command is a validated, typed command. Exactly one payload pointer is
// non-nil for commands that carry one; the rest are nil.
type Command struct {
	Type       Type
	SessionKey string

	Play        *PlayPayload
	Seek        *SeekPayload
	SetVolume   *SetVolumePayload
	SetLoopMode *SetLoopModePayload
	AddToQueue  *AddToQueuePayload
	Remove      *RemovePayload
	Move        *MovePayload
	Search      *SearchPayload
}

var validate = validator.New()

// Decode turns a wire envelope into a typed command. Malformed or
// out-of-range payloads are rejected with ErrValidation, unknown types with
// ErrUnknownType; neither ever reaches the session state machine.
func Decode(env Envelope) (*Command, error) {
	if !env.Type.Valid() {
		return nil, errors.Wrapf(ErrUnknownType, "type %q", env.Type)
	}
	if env.SessionKey == "" {
		return nil, errors.Wrap(ErrValidation, "sessionKey is required")
	}

	cmd := &Command{Type: env.Type, SessionKey: env.SessionKey}

	switch env.Type {
	case TypePlay:
		cmd.Play = &PlayPayload{}
		if err := decodePayload(env.Payload, cmd.Play); err != nil {
			return nil, err
		}
	case TypeSeek:
		cmd.Seek = &SeekPayload{}
		if err := decodePayload(env.Payload, cmd.Seek); err != nil {
			return nil, err
		}
	case TypeSetVolume:
		cmd.SetVolume = &SetVolumePayload{}
		if err := decodePayload(env.Payload, cmd.SetVolume); err != nil {
			return nil, err
		}
	case TypeSetLoopMode:
		cmd.SetLoopMode = &SetLoopModePayload{}
		if err := decodePayload(env.Payload, cmd.SetLoopMode); err != nil {
			return nil, err
		}
	case TypeAddToQueue:
		cmd.AddToQueue = &AddToQueuePayload{}
		if err := decodePayload(env.Payload, cmd.AddToQueue); err != nil {
			return nil, err
		}
	case TypeRemove:
		cmd.Remove = &RemovePayload{}
		if err := decodePayload(env.Payload, cmd.Remove); err != nil {
			return nil, err
		}
	case TypeMove:
		cmd.Move = &MovePayload{}
		if err := decodePayload(env.Payload, cmd.Move); err != nil {
			return nil, err
		}
	case TypeSearch:
		cmd.Search = &SearchPayload{}
		if err := decodePayload(env.Payload, cmd.Search); err != nil {
			return nil, err
		}
	}

	return cmd, nil
}

// decodePayload maps the untyped payload onto a typed struct and validates
// it. mapstructure rejects unexpected value types; validator enforces the
// declared ranges.
func decodePayload(payload map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      target,
		ErrorUnused: false,
	})
	if err != nil {
		return errors.Wrap(err, "failed to build payload decoder")
	}
	if err := dec.Decode(payload); err != nil {
		return errors.Wrapf(ErrValidation, "malformed payload: %v", err)
	}
	if err := validate.Struct(target); err != nil {
		return errors.Wrapf(ErrValidation, "payload out of range: %v", err)
	}
	return nil
}
