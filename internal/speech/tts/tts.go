// internal/speech/tts/tts.go
package tts

import "sync"

type Config struct {
	Type           string
	Volume         float64
	WordsPerMinute int
	CachePath      string
}

// Voice describes a narration voice offered by the host
type Voice struct {
	Name        string `json:"name" yaml:"name"`
	LanguageTag string `json:"language_tag" yaml:"language_tag"`
}

// Utterance is one engine-level request to speak a span of text.
// ID is assigned by the caller and echoed back on every event.
type Utterance struct {
	ID    uint64
	Text  string
	Voice Voice
	Rate  float64
}

// Listener receives asynchronous engine events.
// charIndex is a byte offset into the utterance's own text.
type Listener interface {
	OnBoundary(id uint64, charIndex int)
	OnEnd(id uint64)
	OnVoicesChanged()
}

// Engine is a narration engine able to speak one utterance at a time.
//
// Speak, Cancel, Pause and Resume return as soon as the request is issued.
// Listeners are never invoked from the goroutine calling these methods, and
// never while the engine holds its own lock, so a listener may call back
// into the engine.
type Engine interface {
	Name() string
	Speak(u Utterance) error
	Cancel(id uint64) error
	Pause(id uint64) error
	Resume(id uint64) error
	Voices() ([]Voice, error)
	Subscribe(l Listener)
	Close() error
}

// AudioCache is implemented by engines that keep synthesized audio on disk
type AudioCache interface {
	ClearCache() error
}

// listeners fans engine events out to subscribers
type listeners struct {
	mu sync.RWMutex
	ls []Listener
}

func (s *listeners) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ls = append(s.ls, l)
}

func (s *listeners) snapshot() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Listener(nil), s.ls...)
}

func (s *listeners) boundary(id uint64, charIndex int) {
	for _, l := range s.snapshot() {
		l.OnBoundary(id, charIndex)
	}
}

func (s *listeners) end(id uint64) {
	for _, l := range s.snapshot() {
		l.OnEnd(id)
	}
}

func (s *listeners) voicesChanged() {
	for _, l := range s.snapshot() {
		l.OnVoicesChanged()
	}
}
