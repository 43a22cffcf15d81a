package narration

import (
	"dyslexiareader/internal/speech/tts"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const sampleText = "The Adventure of Leo the Little Squirrel. In the heart of a bustling oak forest lived a young squirrel named Leo."

type fixture struct {
	c      *Controller
	engine *tts.MockEngine
	sched  *manualScheduler
	hook   *test.Hook
}

func newFixture(t *testing.T, text string, cfg Config, host ...tts.Voice) *fixture {
	t.Helper()
	if host == nil {
		host = voices("Google UK English Male", "Google UK English Female")
	}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	engine := tts.NewMockEngine(host...)
	sched := &manualScheduler{}
	cfg.Scheduler = sched
	cfg.Logger = logger

	return &fixture{
		c:      NewController(text, engine, cfg),
		engine: engine,
		sched:  sched,
		hook:   hook,
	}
}

func (f *fixture) expectState(t *testing.T, want State) {
	t.Helper()
	if got := f.c.State(); got != want {
		t.Fatalf("state = %s, want %s", got, want)
	}
}

func TestStartSpeaksWholeText(t *testing.T) {
	f := newFixture(t, sampleText, Config{Rate: 1.2})

	if err := f.c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.expectState(t, Speaking)

	spoken := f.engine.Spoken()
	if len(spoken) != 1 {
		t.Fatalf("expected 1 speak request, got %d", len(spoken))
	}
	u := spoken[0]
	if u.Text != sampleText {
		t.Errorf("spoken text = %q", u.Text)
	}
	if u.Voice.Name != "Google UK English Male" {
		t.Errorf("voice = %q, want first male voice", u.Voice.Name)
	}
	if u.Rate != 1.2 {
		t.Errorf("rate = %v, want 1.2", u.Rate)
	}

	s := f.c.Session()
	if s == nil || s.StartOffset != 0 || s.LastBoundary != 0 || s.UtteranceID != u.ID {
		t.Errorf("unexpected session %+v", s)
	}
}

func TestStartErrors(t *testing.T) {
	t.Run("unsupported platform", func(t *testing.T) {
		c := NewController(sampleText, nil, Config{Logger: logrus.New()})
		if err := c.Start(); !errors.Is(err, ErrUnsupportedPlatform) {
			t.Fatalf("Start() error = %v, want ErrUnsupportedPlatform", err)
		}
		if c.State() != Idle {
			t.Errorf("state = %s, want idle", c.State())
		}
	})

	t.Run("no voice selected", func(t *testing.T) {
		f := newFixture(t, sampleText, Config{}, voices("Unlisted Voice")...)
		if err := f.c.Start(); !errors.Is(err, ErrNoVoiceSelected) {
			t.Fatalf("Start() error = %v, want ErrNoVoiceSelected", err)
		}
		f.expectState(t, Idle)
		if len(f.engine.Spoken()) != 0 {
			t.Error("engine should not have been asked to speak")
		}
	})

	t.Run("empty text", func(t *testing.T) {
		f := newFixture(t, "", Config{})
		if err := f.c.Start(); !errors.Is(err, ErrEmptyText) {
			t.Fatalf("Start() error = %v, want ErrEmptyText", err)
		}
		f.expectState(t, Idle)
	})

	t.Run("engine failure", func(t *testing.T) {
		f := newFixture(t, sampleText, Config{})
		boom := errors.New("audio device busy")
		f.engine.FailSpeak(boom)

		if err := f.c.Start(); !errors.Is(err, boom) {
			t.Fatalf("Start() error = %v, want %v", err, boom)
		}
		f.expectState(t, Idle)
		if f.c.Session() != nil {
			t.Error("expected no session after failed start")
		}
	})
}

func TestStartWhileSpeakingIsNoop(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if n := len(f.engine.Spoken()); n != 1 {
		t.Errorf("expected 1 speak request, got %d", n)
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	// not speaking yet
	if err := f.c.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.Resume(); err != nil {
		t.Fatal(err)
	}
	f.expectState(t, Idle)

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.Resume(); err != nil {
		t.Fatal(err)
	}
	f.expectState(t, Speaking)

	if err := f.c.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	f.expectState(t, SpeakingPaused)
	if err := f.c.Pause(); err != nil {
		t.Fatal(err)
	}

	if err := f.c.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	f.expectState(t, Speaking)

	if got := f.engine.Paused(); len(got) != 1 || got[0] != 1 {
		t.Errorf("engine pauses = %v, want [1]", got)
	}
	if got := f.engine.Resumed(); len(got) != 1 || got[0] != 1 {
		t.Errorf("engine resumes = %v, want [1]", got)
	}
}

func TestStartPauseStop(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	f.expectState(t, Idle)
	if n := f.engine.Active(); n != 0 {
		t.Errorf("expected no active utterances, got %d", n)
	}
	if f.c.Session() != nil {
		t.Error("expected session to be discarded")
	}
}

func TestStopFromIdleIsNoop(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	if err := f.c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := len(f.engine.Cancelled()); n != 0 {
		t.Errorf("expected no cancel requests, got %d", n)
	}
}

func TestRateChangeRestartsFromLastBoundary(t *testing.T) {
	f := newFixture(t, "Hello world, this is a test.", Config{})

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	f.engine.Boundary(1, 6)
	if s := f.c.Session(); s.LastBoundary != 6 {
		t.Fatalf("LastBoundary = %d, want 6", s.LastBoundary)
	}

	if err := f.c.SetRate(1.5); err != nil {
		t.Fatal(err)
	}
	f.sched.Advance(DefaultDebounceDelay)

	if got := f.engine.Cancelled(); len(got) != 1 || got[0] != 1 {
		t.Errorf("cancelled = %v, want [1]", got)
	}
	spoken := f.engine.Spoken()
	if len(spoken) != 2 {
		t.Fatalf("expected 2 speak requests, got %d", len(spoken))
	}
	u := spoken[1]
	if u.ID != 2 || u.Text != "world, this is a test." || u.Rate != 1.5 {
		t.Errorf("restart utterance = %+v", u)
	}
	f.expectState(t, Speaking)

	s := f.c.Session()
	if s.StartOffset != 6 || s.LastBoundary != 6 {
		t.Errorf("session offsets = %d/%d, want 6/6", s.StartOffset, s.LastBoundary)
	}
	if f.c.Rate() != 1.5 {
		t.Errorf("Rate() = %v, want 1.5", f.c.Rate())
	}
}

func TestRateBurstRestartsOnce(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	for _, r := range []float64{0.8, 1.0, 1.2} {
		if err := f.c.SetRate(r); err != nil {
			t.Fatal(err)
		}
		f.sched.Advance(20 * time.Millisecond)
	}
	f.sched.Advance(time.Second)

	spoken := f.engine.Spoken()
	if len(spoken) != 2 {
		t.Fatalf("expected exactly one restart, got %d speak requests", len(spoken))
	}
	if spoken[1].Rate != 1.2 {
		t.Errorf("restart rate = %v, want 1.2", spoken[1].Rate)
	}
}

func TestStaleCallbacksAfterRestart(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	f.engine.Boundary(1, 40)

	if err := f.c.SetRate(1.3); err != nil {
		t.Fatal(err)
	}
	f.sched.Advance(DefaultDebounceDelay)

	// late events from the cancelled utterance
	f.engine.Boundary(1, 60)
	f.engine.End(1)

	f.expectState(t, Speaking)
	s := f.c.Session()
	if s.UtteranceID != 2 || s.LastBoundary != 40 {
		t.Errorf("session = %+v, want utterance 2 at offset 40", s)
	}

	f.engine.End(2)
	f.expectState(t, Idle)
}

func TestRestartWhilePausedResumesSpeaking(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.SetRate(0.7); err != nil {
		t.Fatal(err)
	}
	f.sched.Advance(DefaultDebounceDelay)

	f.expectState(t, Speaking)
	if n := len(f.engine.Spoken()); n != 2 {
		t.Errorf("expected restart, got %d speak requests", n)
	}
}

func TestRateChangeWhileIdle(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	if err := f.c.SetRate(2.0); err != nil {
		t.Fatal(err)
	}
	f.sched.Advance(DefaultDebounceDelay)

	if f.c.Rate() != 2.0 {
		t.Errorf("Rate() = %v, want 2.0", f.c.Rate())
	}
	if n := len(f.engine.Spoken()); n != 0 {
		t.Errorf("expected no speak requests, got %d", n)
	}

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	if r := f.engine.Spoken()[0].Rate; r != 2.0 {
		t.Errorf("start rate = %v, want 2.0", r)
	}
}

func TestSetRateRejectsInvalid(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	for _, r := range []float64{0, -1, 3.5} {
		if err := f.c.SetRate(r); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("SetRate(%v) error = %v, want ErrInvalidRate", r, err)
		}
	}
	if f.sched.Pending() != 0 {
		t.Error("invalid rates must not be scheduled")
	}
}

func TestBoundaryStaysMonotonicAndInRange(t *testing.T) {
	text := "Hello world, this is a test."
	f := newFixture(t, text, Config{})

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	f.engine.Boundary(1, 13)
	if err := f.c.SetRate(1.1); err != nil {
		t.Fatal(err)
	}
	f.sched.Advance(DefaultDebounceDelay)

	// utterance 2 starts at offset 13
	for _, idx := range []int{0, 5, 2, -1, 8, 100, 3} {
		f.engine.Boundary(2, idx)

		s := f.c.Session()
		if s.LastBoundary < s.StartOffset || s.LastBoundary > len(text) {
			t.Fatalf("LastBoundary %d outside [%d, %d]", s.LastBoundary, s.StartOffset, len(text))
		}
	}

	if s := f.c.Session(); s.LastBoundary != 13+8 {
		t.Errorf("LastBoundary = %d, want %d", s.LastBoundary, 13+8)
	}
}

func TestBoundaryInsideRuneIsDropped(t *testing.T) {
	f := newFixture(t, "héllo wörld", Config{})

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	f.engine.Boundary(1, 2) // second byte of é
	if s := f.c.Session(); s.LastBoundary != 0 {
		t.Errorf("LastBoundary = %d, want 0", s.LastBoundary)
	}

	f.engine.Boundary(1, 7)
	if s := f.c.Session(); s.LastBoundary != 7 {
		t.Errorf("LastBoundary = %d, want 7", s.LastBoundary)
	}
}

func TestNaturalEndReturnsToIdle(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	// no session yet
	f.engine.End(1)
	f.expectState(t, Idle)

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.Pause(); err != nil {
		t.Fatal(err)
	}
	f.engine.End(1)
	f.expectState(t, Idle)

	// a new start gets a fresh utterance id
	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	if s := f.c.Session(); s.UtteranceID != 2 {
		t.Errorf("UtteranceID = %d, want 2", s.UtteranceID)
	}
}

func TestSelectedVoiceDisappears(t *testing.T) {
	cfg := Config{Catalog: CatalogConfig{Male: []string{"V1", "V2"}}}
	f := newFixture(t, sampleText, cfg, voices("V1", "V2")...)

	if err := f.c.SetVoice("V1"); err != nil {
		t.Fatal(err)
	}
	f.engine.SetVoices(voices("V2")...)

	if v := f.c.SelectedVoice(); v != nil {
		t.Fatalf("SelectedVoice() = %v, want nil", v.Name)
	}
	if err := f.c.Start(); !errors.Is(err, ErrNoVoiceSelected) {
		t.Fatalf("Start() error = %v, want ErrNoVoiceSelected", err)
	}

	if err := f.c.SetVoice("V2"); err != nil {
		t.Fatal(err)
	}
	if err := f.c.Start(); err != nil {
		t.Fatalf("Start() after choosing a voice: %v", err)
	}
}

func TestSelectedVoiceSurvivesRefresh(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	if err := f.c.SetVoice("Google UK English Female"); err != nil {
		t.Fatal(err)
	}
	f.engine.SetVoices(voices("Google US English", "Google UK English Female")...)

	if v := f.c.SelectedVoice(); v == nil || v.Name != "Google UK English Female" {
		t.Errorf("SelectedVoice() = %v", v)
	}
}

func TestVoicesArriveLate(t *testing.T) {
	f := newFixture(t, sampleText, Config{Voice: "Google US English"}, []tts.Voice{}...)

	if f.c.SelectedVoice() != nil {
		t.Fatal("expected no selection before voices are reported")
	}
	if err := f.c.Start(); !errors.Is(err, ErrNoVoiceSelected) {
		t.Fatalf("Start() error = %v", err)
	}

	f.engine.SetVoices(voices("Google UK English Male", "Google US English")...)

	v := f.c.SelectedVoice()
	if v == nil || v.Name != "Google US English" {
		t.Fatalf("SelectedVoice() = %v, want preferred voice", v)
	}
	if got := names(f.c.Voices()); len(got) != 2 {
		t.Errorf("Voices() = %v", got)
	}
}

// gatedVoicesEngine holds every Voices call until the test answers it
type gatedVoicesEngine struct {
	*tts.MockEngine

	mu      sync.Mutex
	gated   bool
	answers []chan []tts.Voice
	calls   chan struct{}
}

func (e *gatedVoicesEngine) Voices() ([]tts.Voice, error) {
	e.mu.Lock()
	if !e.gated {
		e.mu.Unlock()
		return e.MockEngine.Voices()
	}
	answer := make(chan []tts.Voice)
	e.answers = append(e.answers, answer)
	e.mu.Unlock()

	e.calls <- struct{}{}
	return <-answer, nil
}

func (e *gatedVoicesEngine) answer(i int, list []tts.Voice) {
	e.mu.Lock()
	ch := e.answers[i]
	e.mu.Unlock()
	ch <- list
}

func TestOlderVoiceListIsDiscarded(t *testing.T) {
	engine := &gatedVoicesEngine{
		MockEngine: tts.NewMockEngine(voices("V1")...),
		calls:      make(chan struct{}),
	}
	logger, _ := test.NewNullLogger()
	c := NewController(sampleText, engine, Config{
		Catalog:   CatalogConfig{Male: []string{"V1", "V2", "V3"}},
		Scheduler: &manualScheduler{},
		Logger:    logger,
	})

	engine.mu.Lock()
	engine.gated = true
	engine.mu.Unlock()

	older := make(chan error, 1)
	go func() { older <- c.RefreshVoices() }()
	<-engine.calls

	newer := make(chan error, 1)
	go func() { newer <- c.RefreshVoices() }()
	<-engine.calls

	engine.answer(1, voices("V1", "V3"))
	if err := <-newer; err != nil {
		t.Fatal(err)
	}
	engine.answer(0, voices("V1", "V2"))
	if err := <-older; err != nil {
		t.Fatal(err)
	}

	if got, want := names(c.Voices()), []string{"V1", "V3"}; !equal(got, want) {
		t.Errorf("Voices() = %v, want %v", got, want)
	}
}

func TestSetVoice(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	err := f.c.SetVoice("Nobody")
	if !errors.Is(err, ErrVoiceNotFound) {
		t.Fatalf("SetVoice() error = %v, want ErrVoiceNotFound", err)
	}
	if v := f.c.SelectedVoice(); v == nil || v.Name != "Google UK English Male" {
		t.Errorf("selection changed after unknown voice: %v", v)
	}

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.SetVoice("Google UK English Female"); err != nil {
		t.Fatal(err)
	}
	if n := len(f.engine.Spoken()); n != 1 {
		t.Errorf("voice change must not retarget the utterance in flight, got %d speaks", n)
	}

	if err := f.c.SetRate(1.1); err != nil {
		t.Fatal(err)
	}
	f.sched.Advance(DefaultDebounceDelay)

	spoken := f.engine.Spoken()
	if got := spoken[len(spoken)-1].Voice.Name; got != "Google UK English Female" {
		t.Errorf("restart voice = %q, want the newly selected one", got)
	}
}

func TestRestartWithoutVoiceStops(t *testing.T) {
	cfg := Config{Catalog: CatalogConfig{Male: []string{"V1"}}}
	f := newFixture(t, sampleText, cfg, voices("V1")...)

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	f.engine.SetVoices()
	if err := f.c.SetRate(1.4); err != nil {
		t.Fatal(err)
	}
	f.sched.Advance(DefaultDebounceDelay)

	f.expectState(t, Idle)
	if f.engine.Active() != 0 {
		t.Error("expected the utterance to be cancelled")
	}

	warned := false
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "Cannot restart narration without a selected voice" {
			warned = true
		}
	}
	if !warned {
		t.Error("expected a warning about the missing voice")
	}
}

func TestRestartEngineFailureFallsBackToIdle(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	f.engine.FailSpeak(errors.New("engine gone"))
	if err := f.c.SetRate(1.4); err != nil {
		t.Fatal(err)
	}
	f.sched.Advance(DefaultDebounceDelay)

	f.expectState(t, Idle)
	if entry := f.hook.LastEntry(); entry == nil || entry.Level != logrus.ErrorLevel {
		t.Errorf("expected an error log entry, got %v", entry)
	}
}

func TestCloseCancelsPendingRateChange(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.SetRate(1.8); err != nil {
		t.Fatal(err)
	}
	if err := f.c.Close(); err != nil {
		t.Fatal(err)
	}
	f.sched.Advance(time.Second)

	f.expectState(t, Idle)
	if n := len(f.engine.Spoken()); n != 1 {
		t.Errorf("expected no restart after Close, got %d speaks", n)
	}
	if f.c.Rate() != DefaultRate {
		t.Errorf("Rate() = %v, want %v", f.c.Rate(), DefaultRate)
	}
}

func TestObserversSeeTransitions(t *testing.T) {
	f := newFixture(t, sampleText, Config{})

	var states []State
	f.c.OnChange(func(s Snapshot) {
		states = append(states, s.State)
		// observers may call back into the controller
		_ = f.c.Rate()
	})

	if err := f.c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := f.c.Resume(); err != nil {
		t.Fatal(err)
	}
	f.engine.End(1)

	want := []State{Speaking, SpeakingPaused, Speaking, Idle}
	if len(states) != len(want) {
		t.Fatalf("observed %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("observed %v, want %v", states, want)
		}
	}
}

func TestAtMostOneActiveUtterance(t *testing.T) {
	f := newFixture(t, sampleText, Config{})
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		switch rng.Intn(7) {
		case 0:
			_ = f.c.Start()
		case 1:
			_ = f.c.Stop()
		case 2:
			_ = f.c.Pause()
		case 3:
			_ = f.c.Resume()
		case 4:
			_ = f.c.SetRate(0.5 + rng.Float64())
			f.sched.Advance(time.Duration(rng.Intn(400)) * time.Millisecond)
		case 5:
			if s := f.c.Session(); s != nil {
				f.engine.Boundary(s.UtteranceID, rng.Intn(20))
			}
		case 6:
			if s := f.c.Session(); s != nil {
				f.engine.End(s.UtteranceID)
			}
		}

		if n := f.engine.Active(); n > 1 {
			t.Fatalf("step %d: %d active utterances", i, n)
		}
		st := f.c.State()
		if (f.c.Session() != nil) != (st != Idle) {
			t.Fatalf("step %d: state %s inconsistent with session", i, st)
		}
	}

	if f.engine.MaxActive() > 1 {
		t.Errorf("MaxActive() = %d", f.engine.MaxActive())
	}
}
