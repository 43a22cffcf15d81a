package tts

import (
	"fmt"
	"sync"

	"github.com/fatih/color"
)

// MockEngine is an in-memory engine. It records every request and only
// delivers events when told to, unless it was created paced.
type MockEngine struct {
	listeners

	mu      sync.Mutex
	voices  []Voice
	active  map[uint64]bool
	paused  map[uint64]bool
	speaks  []Utterance
	cancels []uint64
	pauses  []uint64
	resumes []uint64
	maxLive int
	failErr error

	// paced mode
	wpm    int
	pacers map[uint64]*pacer
}

// NewMockEngine creates a manual engine offering the given voices
func NewMockEngine(voices ...Voice) *MockEngine {
	return &MockEngine{
		voices: append([]Voice(nil), voices...),
		active: make(map[uint64]bool),
		paused: make(map[uint64]bool),
	}
}

// NewPacedMockEngine creates an engine that walks through each utterance
// word by word without producing audio
func NewPacedMockEngine(c Config) *MockEngine {
	m := NewMockEngine(
		Voice{Name: "Google UK English Male", LanguageTag: "en-GB"},
		Voice{Name: "Google UK English Female", LanguageTag: "en-GB"},
		Voice{Name: "Google US English", LanguageTag: "en-US"},
	)
	m.wpm = c.WordsPerMinute
	if m.wpm <= 0 {
		m.wpm = DefaultWordsPerMinute
	}
	m.pacers = make(map[uint64]*pacer)
	return m
}

func (m *MockEngine) Name() string {
	return EngineTypeMock.String()
}

func (m *MockEngine) Speak(u Utterance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}

	m.speaks = append(m.speaks, u)
	m.active[u.ID] = true
	if len(m.active) > m.maxLive {
		m.maxLive = len(m.active)
	}

	if m.pacers != nil {
		color.Yellow("🔊 Reading aloud with %s at %.1fx (simulated)", u.Voice.Name, u.Rate)
		id := u.ID
		m.pacers[id] = startPacer(u.Text, wordInterval(m.wpm, u.Rate),
			func(idx int) { m.boundary(id, idx) },
			func() { m.finish(id) },
		)
	}
	return nil
}

func (m *MockEngine) Cancel(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancels = append(m.cancels, id)
	m.release(id)
	return nil
}

func (m *MockEngine) Pause(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active[id] {
		return fmt.Errorf("utterance %d is not active", id)
	}
	m.pauses = append(m.pauses, id)
	m.paused[id] = true
	if p := m.pacers[id]; p != nil {
		p.Pause()
	}
	return nil
}

func (m *MockEngine) Resume(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active[id] {
		return fmt.Errorf("utterance %d is not active", id)
	}
	m.resumes = append(m.resumes, id)
	delete(m.paused, id)
	if p := m.pacers[id]; p != nil {
		p.Resume()
	}
	return nil
}

func (m *MockEngine) Voices() ([]Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Voice(nil), m.voices...), nil
}

func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.active {
		m.release(id)
	}
	return nil
}

// release must be called with m.mu held
func (m *MockEngine) release(id uint64) {
	delete(m.active, id)
	delete(m.paused, id)
	if p := m.pacers[id]; p != nil {
		p.Stop()
		delete(m.pacers, id)
	}
}

func (m *MockEngine) boundary(id uint64, charIndex int) {
	m.mu.Lock()
	live := m.active[id]
	m.mu.Unlock()
	if live {
		m.listeners.boundary(id, charIndex)
	}
}

func (m *MockEngine) finish(id uint64) {
	m.mu.Lock()
	m.release(id)
	m.mu.Unlock()
	m.listeners.end(id)
}

// Boundary delivers a word boundary event for utterance id, whether or not
// it is still active, the way a late platform callback would.
func (m *MockEngine) Boundary(id uint64, charIndex int) {
	m.listeners.boundary(id, charIndex)
}

// End delivers a completion event for utterance id and forgets it
func (m *MockEngine) End(id uint64) {
	m.finish(id)
}

// SetVoices replaces the host voice list and announces the change
func (m *MockEngine) SetVoices(voices ...Voice) {
	m.mu.Lock()
	m.voices = append([]Voice(nil), voices...)
	m.mu.Unlock()
	m.listeners.voicesChanged()
}

// FailSpeak makes every following Speak return err; nil restores success
func (m *MockEngine) FailSpeak(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Spoken returns every utterance requested so far
func (m *MockEngine) Spoken() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Utterance(nil), m.speaks...)
}

// Cancelled returns the ids passed to Cancel so far
func (m *MockEngine) Cancelled() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.cancels...)
}

func (m *MockEngine) Paused() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.pauses...)
}

func (m *MockEngine) Resumed() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.resumes...)
}

// Active returns the number of utterances currently speaking or paused
func (m *MockEngine) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// MaxActive returns the highest number of simultaneously active utterances seen
func (m *MockEngine) MaxActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxLive
}
