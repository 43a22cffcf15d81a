package tts

import (
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"
)

// wordStarts returns the byte offset of every word in text
func wordStarts(text string) []int {
	var starts []int
	inWord := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && !inWord {
			starts = append(starts, i)
		}
		inWord = !space
	}
	return starts
}

// lastWordStart returns the start of the word containing offset, or of the
// closest word before it. It returns -1 when no word starts at or before offset.
func lastWordStart(text string, offset int) int {
	if offset >= len(text) {
		offset = len(text) - 1
	}
	for offset >= 0 && !utf8.RuneStart(text[offset]) {
		offset--
	}
	last := -1
	for _, start := range wordStarts(text[:max(offset+1, 0)]) {
		last = start
	}
	return last
}

// wordInterval converts a words-per-minute pace and a rate multiplier into
// the time spent on a single word
func wordInterval(wordsPerMinute int, rate float64) time.Duration {
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	if rate <= 0 {
		rate = 1
	}
	return time.Duration(float64(time.Minute) / (float64(wordsPerMinute) * rate))
}

// pacer reports word boundaries on a ticker for engines that cannot report
// them natively. Its methods never block, so they are safe to call while a
// listener is being notified.
type pacer struct {
	paused atomic.Bool
	stop   chan struct{}
	once   sync.Once
}

// startPacer emits onWord for the first word immediately and then one word
// per interval. onDone, if set, runs after the last word's interval elapsed.
func startPacer(text string, interval time.Duration, onWord func(int), onDone func()) *pacer {
	p := &pacer{stop: make(chan struct{})}
	go p.run(wordStarts(text), interval, onWord, onDone)
	return p
}

func (p *pacer) run(starts []int, interval time.Duration, onWord func(int), onDone func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	next := 0
	if len(starts) > 0 {
		onWord(starts[0])
		next = 1
	}

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if p.paused.Load() {
				continue
			}
			if p.stopped() {
				return
			}
			if next >= len(starts) {
				if onDone != nil {
					onDone()
				}
				return
			}
			onWord(starts[next])
			next++
		}
	}
}

func (p *pacer) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (p *pacer) Pause() {
	p.paused.Store(true)
}

func (p *pacer) Resume() {
	p.paused.Store(false)
}

// Stop halts the pacer without calling onDone
func (p *pacer) Stop() {
	p.once.Do(func() { close(p.stop) })
}
