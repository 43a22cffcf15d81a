package narration

// State is the playback state observed by the UI
type State int

const (
	Idle State = iota
	Speaking
	SpeakingPaused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speaking:
		return "speaking"
	case SpeakingPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// active reports whether a session exists in this state
func (s State) active() bool {
	return s == Speaking || s == SpeakingPaused
}
