package narration

import (
	"dyslexiareader/internal/speech/tts"

	"github.com/rs/xid"
)

// Session correlates one engine utterance with its position in the source text.
// Offsets are byte offsets into the source text.
type Session struct {
	ID           xid.ID
	UtteranceID  uint64
	StartOffset  int
	LastBoundary int
	Voice        tts.Voice
	Rate         float64
}

func newSession(utteranceID uint64, start int, voice tts.Voice, rate float64) *Session {
	return &Session{
		ID:           xid.New(),
		UtteranceID:  utteranceID,
		StartOffset:  start,
		LastBoundary: start,
		Voice:        voice,
		Rate:         rate,
	}
}
