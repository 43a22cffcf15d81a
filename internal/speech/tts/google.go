package tts

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/sirupsen/logrus"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"
)

// chunkLimit keeps each request, in bytes, a little under the 5000 byte API limit
const chunkLimit = 4800

// positionPoll is how often playback position is turned into boundaries
const positionPoll = 100 * time.Millisecond

// GoogleEngine narrates with Google Cloud Text-to-Speech and plays the
// synthesized MP3 through beep. Synthesized audio is cached on disk.
type GoogleEngine struct {
	listeners

	client   *texttospeech.Client
	ctx      context.Context
	cancel   context.CancelFunc
	volume   float64
	cacheDir string

	mu      sync.Mutex
	current *googlePlayback

	speakerOnce sync.Once
	speakerRate beep.SampleRate
	speakerErr  error
}

type googlePlayback struct {
	id   uint64
	text string
	stop chan struct{}
	once sync.Once

	// guarded by GoogleEngine.mu; paused is applied when ctrl is created
	ctrl   *beep.Ctrl
	paused bool

	mu       sync.Mutex
	chunks   []playChunk
	released bool
	playing  int
	last     int
}

type playChunk struct {
	start, end int
	streamer   beep.StreamSeekCloser
	format     beep.Format
}

// textChunk is a span of the utterance text sent in one synthesis request
type textChunk struct {
	start, end int
}

func newGoogleEngine(config Config) (*GoogleEngine, error) {
	ctx, cancel := context.WithCancel(context.Background())
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}

	cacheDir := config.CachePath
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "dyslexiareader", "tts")
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	return &GoogleEngine{
		client:   client,
		ctx:      ctx,
		cancel:   cancel,
		volume:   config.Volume,
		cacheDir: cacheDir,
	}, nil
}

func (g *GoogleEngine) Name() string {
	return EngineTypeGoogle.String()
}

// Speak synthesizes in the background; network latency never blocks the caller
func (g *GoogleEngine) Speak(u Utterance) error {
	g.mu.Lock()
	g.stopLocked()
	p := &googlePlayback{id: u.ID, text: u.Text, stop: make(chan struct{}), last: -1}
	g.current = p
	g.mu.Unlock()

	go g.play(u, p)
	return nil
}

// play starts audio as soon as the first chunk is ready and synthesizes the
// rest while it plays
func (g *GoogleEngine) play(u Utterance, p *googlePlayback) {
	log := logrus.WithField("utterance", u.ID)

	spans := splitIntoChunks(u.Text, chunkLimit)
	if len(spans) == 0 {
		g.finish(p)
		return
	}

	first, err := g.loadChunk(u, 0, spans[0])
	if err != nil {
		log.WithError(err).Error("Google TTS synthesis failed")
		g.finish(p)
		return
	}
	if err := g.initSpeaker(first.format); err != nil {
		first.streamer.Close()
		log.WithError(err).Error("failed to initialise speaker")
		g.finish(p)
		return
	}

	queue := make(chan playChunk, len(spans))
	if !p.add(first) {
		first.streamer.Close()
		return
	}
	queue <- first

	g.mu.Lock()
	if g.current != p {
		g.mu.Unlock()
		return
	}
	stream := &chunkStream{p: p, queue: queue, rate: g.speakerRate}
	p.ctrl = &beep.Ctrl{
		Streamer: beep.Seq(stream, beep.Callback(func() { go g.finish(p) })),
		Paused:   p.paused,
	}
	speaker.Play(p.ctrl)
	g.mu.Unlock()

	go g.track(p)
	g.synthesizeAhead(u, p, spans, queue)
}

// synthesizeAhead prepares the remaining chunks in order and hands them to
// the playing stream. Closing queue lets playback end after the last one.
func (g *GoogleEngine) synthesizeAhead(u Utterance, p *googlePlayback, spans []textChunk, queue chan<- playChunk) {
	defer close(queue)

	for i := 1; i < len(spans); i++ {
		if p.stopped() {
			return
		}
		ch, err := g.loadChunk(u, i, spans[i])
		if err != nil {
			logrus.WithField("utterance", u.ID).WithError(err).Error("Google TTS synthesis failed")
			return
		}
		if !p.add(ch) {
			ch.streamer.Close()
			return
		}
		queue <- ch
	}
}

// loadChunk decodes chunk i of the utterance, synthesizing it when not cached
func (g *GoogleEngine) loadChunk(u Utterance, i int, span textChunk) (playChunk, error) {
	path := filepath.Join(g.cacheDir, fmt.Sprintf("%s_%d.mp3", g.cacheKey(u), i))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := g.synthesize(u, u.Text[span.start:span.end], path); err != nil {
			return playChunk{}, fmt.Errorf("failed to synthesize chunk %d: %w", i, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return playChunk{}, fmt.Errorf("failed to open cached MP3 %s: %w", path, err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return playChunk{}, fmt.Errorf("failed to decode MP3 %s: %w", path, err)
	}

	return playChunk{start: span.start, end: span.end, streamer: streamer, format: format}, nil
}

func (g *GoogleEngine) synthesize(u Utterance, text, path string) error {
	audioCfg := &texttospeechpb.AudioConfig{
		AudioEncoding: texttospeechpb.AudioEncoding_MP3,
	}

	// Chirp voices don't support speakingRate or volume gain
	if !strings.Contains(strings.ToLower(u.Voice.Name), "chirp") {
		audioCfg.SpeakingRate = u.Rate
		audioCfg.VolumeGainDb = g.volume
	}

	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: u.Voice.LanguageTag,
			Name:         u.Voice.Name,
		},
		AudioConfig: audioCfg,
	}

	resp, err := g.client.SynthesizeSpeech(g.ctx, req)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, resp.AudioContent, 0644); err != nil {
		return fmt.Errorf("failed to write MP3 to %s: %w", path, err)
	}

	logrus.WithField("file", path).Debug("Cached synthesized audio")
	return nil
}

func (g *GoogleEngine) initSpeaker(format beep.Format) error {
	g.speakerOnce.Do(func() {
		g.speakerRate = format.SampleRate
		g.speakerErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	return g.speakerErr
}

// track turns playback position into word boundaries
func (g *GoogleEngine) track(p *googlePlayback) {
	ticker := time.NewTicker(positionPoll)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if p.stopped() {
				return
			}
			if idx, ok := p.boundary(); ok {
				g.listeners.boundary(p.id, idx)
			}
		}
	}
}

func (p *googlePlayback) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// add keeps ch for position tracking; it fails once the playback is released
func (p *googlePlayback) add(ch playChunk) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return false
	}
	p.chunks = append(p.chunks, ch)
	return true
}

// release closes every chunk; later chunks are refused
func (p *googlePlayback) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = true
	closeChunks(p.chunks)
	p.chunks = nil
}

func (p *googlePlayback) setPlaying(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = i
}

// boundary returns the start of the word currently heard, if it moved
func (p *googlePlayback) boundary() (int, bool) {
	p.mu.Lock()
	if p.playing >= len(p.chunks) {
		p.mu.Unlock()
		return 0, false
	}
	ch := p.chunks[p.playing]
	p.mu.Unlock()

	speaker.Lock()
	pos, length := ch.streamer.Position(), ch.streamer.Len()
	speaker.Unlock()
	if length <= 0 {
		return 0, false
	}

	offset := ch.start + int(float64(ch.end-ch.start)*float64(pos)/float64(length))
	start := lastWordStart(p.text, offset)

	p.mu.Lock()
	defer p.mu.Unlock()
	if start <= p.last {
		return 0, false
	}
	p.last = start
	return start, true
}

// chunkStream plays chunks in order as they arrive on queue. While the next
// chunk is still being synthesized it plays silence; it is drained once queue
// is closed and empty.
type chunkStream struct {
	p       *googlePlayback
	queue   <-chan playChunk
	rate    beep.SampleRate
	current beep.Streamer
	next    int
}

func (s *chunkStream) Stream(samples [][2]float64) (int, bool) {
	filled := 0
	for filled < len(samples) {
		if s.current == nil {
			select {
			case ch, ok := <-s.queue:
				if !ok {
					return filled, filled > 0
				}
				s.current = ch.streamer
				if ch.format.SampleRate != s.rate {
					s.current = beep.Resample(4, ch.format.SampleRate, s.rate, ch.streamer)
				}
				s.p.setPlaying(s.next)
				s.next++
			default:
				clear(samples[filled:])
				return len(samples), true
			}
		}

		n, ok := s.current.Stream(samples[filled:])
		filled += n
		if !ok {
			s.current = nil
		}
	}
	return filled, true
}

func (s *chunkStream) Err() error {
	return nil
}

// finish reports natural completion when p is still current
func (g *GoogleEngine) finish(p *googlePlayback) {
	g.mu.Lock()
	natural := g.current == p
	if natural {
		g.stopLocked()
	}
	g.mu.Unlock()

	if natural {
		g.listeners.end(p.id)
	}
}

// stopLocked must be called with g.mu held
func (g *GoogleEngine) stopLocked() {
	p := g.current
	if p == nil {
		return
	}
	g.current = nil
	p.once.Do(func() { close(p.stop) })

	if p.ctrl != nil {
		speaker.Lock()
		p.ctrl.Streamer = nil
		speaker.Unlock()
	}
	p.release()
}

func (g *GoogleEngine) Cancel(id uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current != nil && g.current.id == id {
		g.stopLocked()
	}
	return nil
}

func (g *GoogleEngine) Pause(id uint64) error {
	return g.setPaused(id, true)
}

func (g *GoogleEngine) Resume(id uint64) error {
	return g.setPaused(id, false)
}

func (g *GoogleEngine) setPaused(id uint64, paused bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.current
	if p == nil || p.id != id {
		return nil
	}
	if p.ctrl == nil {
		// still synthesizing the first chunk
		p.paused = paused
		return nil
	}

	speaker.Lock()
	p.ctrl.Paused = paused
	speaker.Unlock()
	return nil
}

func (g *GoogleEngine) Voices() ([]Voice, error) {
	resp, err := g.client.ListVoices(g.ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, err
	}
	voices := []Voice{}
	for _, v := range resp.Voices {
		voice := Voice{Name: v.Name}
		if len(v.LanguageCodes) > 0 {
			voice.LanguageTag = v.LanguageCodes[0]
		}
		voices = append(voices, voice)
	}
	return voices, nil
}

func (g *GoogleEngine) Close() error {
	g.mu.Lock()
	g.stopLocked()
	g.mu.Unlock()

	g.cancel()
	return g.client.Close()
}

// ClearCache removes all cached audio
func (g *GoogleEngine) ClearCache() error {
	if err := os.RemoveAll(g.cacheDir); err != nil {
		return err
	}
	return os.MkdirAll(g.cacheDir, 0755)
}

func (g *GoogleEngine) cacheKey(u Utterance) string {
	return md5Sum(fmt.Sprintf("%s|%s|%.2f", u.Text, u.Voice.Name, u.Rate))[:16]
}

func closeChunks(chunks []playChunk) {
	for _, ch := range chunks {
		ch.streamer.Close()
	}
}

func md5Sum(s string) string {
	h := md5.New()
	io.WriteString(h, s)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// splitIntoChunks splits text into spans of at most limit bytes. A span
// ends after the last sentence within the budget, else after the last
// space, else on the last rune boundary.
func splitIntoChunks(text string, limit int) []textChunk {
	var chunks []textChunk
	start := 0
	for len(text)-start > limit {
		end := start + limit
		for end > start && !utf8.RuneStart(text[end]) {
			end--
		}
		if cut := breakPoint(text[start:end]); cut > 0 {
			end = start + cut
		}
		if end == start {
			// a single rune wider than the budget
			_, size := utf8.DecodeRuneInString(text[start:])
			end = start + size
		}
		chunks = append(chunks, textChunk{start: start, end: end})
		start = end
	}
	if start < len(text) {
		chunks = append(chunks, textChunk{start: start, end: len(text)})
	}
	return chunks
}

// sentenceEnds are the separators a chunk prefers to end after
var sentenceEnds = []string{". ", "! ", "? ", "\n", "。"}

// breakPoint returns the length of the longest prefix of window ending on a
// sentence or word break, or 0 when there is none
func breakPoint(window string) int {
	cut := 0
	for _, sep := range sentenceEnds {
		if i := strings.LastIndex(window, sep); i >= 0 && i+len(sep) > cut {
			cut = i + len(sep)
		}
	}
	if cut > 0 {
		return cut
	}
	if i := strings.LastIndexFunc(window, unicode.IsSpace); i >= 0 {
		_, size := utf8.DecodeRuneInString(window[i:])
		return i + size
	}
	return 0
}
