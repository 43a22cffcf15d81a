package narration

import (
	"dyslexiareader/internal/speech/tts"
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Rates accepted by every engine
const (
	MinRate     = 0.1
	MaxRate     = 3.0
	DefaultRate = 1.0
)

type Config struct {
	Rate float64
	// Voice is picked on the first catalog refresh when available
	Voice         string
	DebounceDelay time.Duration
	Catalog       CatalogConfig
	Scheduler     Scheduler
	Logger        logrus.FieldLogger
}

// Snapshot is the observable controller state
type Snapshot struct {
	State       State
	Voice       *tts.Voice
	Rate        float64
	Offset      int
	UtteranceID uint64
}

// Controller keeps a single narration session consistent across playback
// commands, debounced rate changes and asynchronous engine events.
//
// Operations and engine callbacks are serialised by one mutex. Every
// utterance is tagged with a generation number and callbacks carrying any
// other number are dropped.
type Controller struct {
	mu sync.Mutex

	engine     tts.Engine
	text       string
	catalog    *Catalog
	preferred  string
	selected   *tts.Voice
	autoSelect bool
	rate       float64
	state      State
	session    *Session
	generation uint64

	// voice list requests, numbered so an older answer never replaces a newer one
	refreshes uint64
	refreshed uint64

	debouncer *Debouncer[float64]
	observers []func(Snapshot)
	log       logrus.FieldLogger
}

// NewController creates a controller narrating text. A nil engine means the
// host cannot narrate; Start then fails with ErrUnsupportedPlatform.
func NewController(text string, engine tts.Engine, cfg Config) *Controller {
	if cfg.Rate == 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultDebounceDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	c := &Controller{
		engine:     engine,
		text:       text,
		catalog:    NewCatalog(cfg.Catalog),
		preferred:  cfg.Voice,
		autoSelect: true,
		rate:       clampRate(cfg.Rate),
		log:        cfg.Logger.WithField("component", "narration"),
	}
	c.debouncer = NewDebouncer(cfg.DebounceDelay, cfg.Scheduler, c.applyRate)

	if engine != nil {
		engine.Subscribe(c)
		// some hosts report an empty list first and announce the real one later
		if err := c.RefreshVoices(); err != nil {
			c.log.WithError(err).Warn("Failed to load voices")
		}
	}
	return c
}

func clampRate(rate float64) float64 {
	return math.Min(math.Max(rate, MinRate), MaxRate)
}

// OnChange registers fn to receive a snapshot after every state change.
// fn runs without the controller lock held.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// mutate runs fn under the lock and notifies observers when fn reports a change
func (c *Controller) mutate(fn func() bool) {
	c.mu.Lock()
	changed := fn()
	snap := c.snapshotLocked()
	observers := c.observers
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, o := range observers {
		o(snap)
	}
}

// Start begins narrating the whole text from Idle. It is a no-op otherwise.
func (c *Controller) Start() error {
	var err error
	c.mutate(func() bool {
		if c.state != Idle {
			return false
		}
		switch {
		case c.engine == nil:
			err = ErrUnsupportedPlatform
		case c.selected == nil:
			err = ErrNoVoiceSelected
		case c.text == "":
			err = ErrEmptyText
		default:
			err = c.speakLocked(0, *c.selected)
		}
		return err == nil
	})
	return err
}

// Stop cancels narration and returns to Idle
func (c *Controller) Stop() error {
	var err error
	c.mutate(func() bool {
		if !c.state.active() {
			return false
		}
		err = c.cancelLocked()
		c.state = Idle
		return true
	})
	return err
}

// Pause pauses the active utterance. The engine keeps the audio position.
func (c *Controller) Pause() error {
	var err error
	c.mutate(func() bool {
		if c.state != Speaking {
			return false
		}
		if err = c.engine.Pause(c.session.UtteranceID); err != nil {
			err = fmt.Errorf("pause utterance %d: %w", c.session.UtteranceID, err)
			return false
		}
		c.state = SpeakingPaused
		return true
	})
	return err
}

// Resume continues a paused utterance
func (c *Controller) Resume() error {
	var err error
	c.mutate(func() bool {
		if c.state != SpeakingPaused {
			return false
		}
		if err = c.engine.Resume(c.session.UtteranceID); err != nil {
			err = fmt.Errorf("resume utterance %d: %w", c.session.UtteranceID, err)
			return false
		}
		c.state = Speaking
		return true
	})
	return err
}

// SetVoice selects a catalog voice for the next start or restart.
// The utterance in flight keeps its voice.
func (c *Controller) SetVoice(name string) error {
	var err error
	c.mutate(func() bool {
		v, ok := c.catalog.Lookup(name)
		if !ok {
			err = fmt.Errorf("%w: %q", ErrVoiceNotFound, name)
			return false
		}
		c.selected = &v
		c.autoSelect = false
		return true
	})
	return err
}

// SetRate schedules a rate change. Bursts of calls within the debounce
// delay collapse into one change using the last rate.
func (c *Controller) SetRate(rate float64) error {
	if math.IsNaN(rate) || rate < MinRate || rate > MaxRate {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrInvalidRate, rate, MinRate, MaxRate)
	}
	c.debouncer.Submit(rate)
	return nil
}

// applyRate is the debounced effect of SetRate. An active session restarts
// from its last reported word boundary and always ends up Speaking.
func (c *Controller) applyRate(rate float64) {
	c.mutate(func() bool {
		c.rate = rate
		if !c.state.active() {
			return true
		}

		resumeAt := c.session.LastBoundary
		log := c.log.WithFields(logrus.Fields{
			"session": c.session.ID.String(),
			"offset":  resumeAt,
			"rate":    rate,
		})

		if c.selected == nil {
			log.Warn("Cannot restart narration without a selected voice")
			if err := c.cancelLocked(); err != nil {
				log.WithError(err).Warn("Failed to cancel utterance")
			}
			c.state = Idle
			return true
		}

		if err := c.speakLocked(resumeAt, *c.selected); err != nil {
			log.WithError(err).Error("Failed to restart narration")
			return true
		}
		log.Debug("Restarted narration at new rate")
		return true
	})
}

// speakLocked cancels whatever is active and starts a new utterance at offset.
// On failure the controller is left Idle.
func (c *Controller) speakLocked(offset int, voice tts.Voice) error {
	if err := c.cancelLocked(); err != nil {
		c.log.WithError(err).Warn("Failed to cancel utterance")
	}

	c.generation++
	session := newSession(c.generation, offset, voice, c.rate)

	err := c.engine.Speak(tts.Utterance{
		ID:    session.UtteranceID,
		Text:  c.text[offset:],
		Voice: voice,
		Rate:  session.Rate,
	})
	if err != nil {
		c.state = Idle
		return fmt.Errorf("speak utterance %d: %w", session.UtteranceID, err)
	}

	c.session = session
	c.state = Speaking
	c.log.WithFields(logrus.Fields{
		"session":   session.ID.String(),
		"utterance": session.UtteranceID,
		"offset":    offset,
		"voice":     voice.Name,
		"rate":      session.Rate,
	}).Debug("Narration started")
	return nil
}

// cancelLocked cancels the current utterance and forgets the session.
// Callbacks for it are stale from here on.
func (c *Controller) cancelLocked() error {
	if c.session == nil {
		return nil
	}
	id := c.session.UtteranceID
	c.session = nil
	if err := c.engine.Cancel(id); err != nil {
		return fmt.Errorf("cancel utterance %d: %w", id, err)
	}
	return nil
}

// OnBoundary records the word boundary reached by the current utterance
func (c *Controller) OnBoundary(id uint64, charIndex int) {
	c.mutate(func() bool {
		if c.session == nil || c.session.UtteranceID != id {
			c.log.WithField("utterance", id).Debug("Ignoring stale boundary")
			return false
		}

		offset := c.session.StartOffset + charIndex
		switch {
		case charIndex < 0, offset > len(c.text):
			return false
		case offset < c.session.LastBoundary:
			return false
		case offset < len(c.text) && !utf8.RuneStart(c.text[offset]):
			return false
		}

		c.session.LastBoundary = offset
		return true
	})
}

// OnEnd returns to Idle when the current utterance finished on its own
func (c *Controller) OnEnd(id uint64) {
	c.mutate(func() bool {
		if c.session == nil || c.session.UtteranceID != id {
			c.log.WithField("utterance", id).Debug("Ignoring stale end of utterance")
			return false
		}
		c.session = nil
		c.state = Idle
		return true
	})
}

// OnVoicesChanged refreshes the catalog when the host's voice list changes
func (c *Controller) OnVoicesChanged() {
	if err := c.RefreshVoices(); err != nil {
		c.log.WithError(err).Warn("Failed to refresh voices")
	}
}

// RefreshVoices reloads the catalog from the engine and re-validates the
// selected voice. A selected voice that disappeared leaves no selection.
// The engine is queried without the lock; a list that arrives after a
// newer one has been applied is discarded.
func (c *Controller) RefreshVoices() error {
	if c.engine == nil {
		return ErrUnsupportedPlatform
	}

	c.mu.Lock()
	c.refreshes++
	seq := c.refreshes
	c.mu.Unlock()

	host, err := c.engine.Voices()
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}

	c.mutate(func() bool {
		if seq < c.refreshed {
			c.log.WithField("request", seq).Debug("Dropping stale voice list")
			return false
		}
		c.refreshed = seq
		voices := c.catalog.Refresh(host)

		if c.selected != nil {
			if v, ok := c.catalog.Lookup(c.selected.Name); ok {
				c.selected = &v
			} else {
				c.log.WithField("voice", c.selected.Name).Info("Selected voice is no longer available")
				c.selected = nil
			}
			return true
		}

		if c.autoSelect && len(voices) > 0 {
			v, ok := c.catalog.Lookup(c.preferred)
			if !ok {
				v = voices[0]
			}
			c.selected = &v
			c.autoSelect = false
		}
		return true
	})
	return nil
}

// Close cancels a pending rate change and stops narration
func (c *Controller) Close() error {
	c.debouncer.Cancel()
	return c.Stop()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state, Rate: c.rate}
	if c.selected != nil {
		v := *c.selected
		snap.Voice = &v
	}
	if c.session != nil {
		snap.Offset = c.session.LastBoundary
		snap.UtteranceID = c.session.UtteranceID
	}
	return snap
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the active session, or nil when Idle
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

func (c *Controller) SelectedVoice() *tts.Voice {
	return c.Snapshot().Voice
}

func (c *Controller) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// Voices returns the display catalog
func (c *Controller) Voices() []tts.Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog.Voices()
}
