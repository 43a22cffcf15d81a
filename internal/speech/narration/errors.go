package narration

import "errors"

var (
	// ErrUnsupportedPlatform is returned when the host has no narration engine.
	ErrUnsupportedPlatform = errors.New("text-to-speech is not supported on this platform")
	// ErrNoVoiceSelected is returned by Start until a voice is chosen.
	ErrNoVoiceSelected = errors.New("no voice selected")
	// ErrVoiceNotFound is returned by SetVoice for a name missing from the catalog.
	ErrVoiceNotFound = errors.New("voice not found")
	// ErrInvalidRate is returned by SetRate for a rate the engines cannot use.
	ErrInvalidRate = errors.New("invalid speech rate")
	// ErrEmptyText is returned by Start when there is nothing to narrate.
	ErrEmptyText = errors.New("nothing to narrate")
)
