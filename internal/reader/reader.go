package reader

import (
	"context"
	"dyslexiareader/internal/cli/scheme/colours"
	"dyslexiareader/internal/config"
	"dyslexiareader/internal/document"
	"dyslexiareader/internal/speech/narration"
	"dyslexiareader/internal/speech/tts"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Reader is the command line application
type Reader struct {
	settings *config.Settings
	files    document.Source
	library  *document.GutenbergSource

	in  io.Reader
	out io.Writer

	// newEngine is swapped out in tests
	newEngine func(tts.Config) (tts.Engine, error)

	mu     sync.Mutex
	active *narration.Controller

	ctx    context.Context
	Cancel context.CancelFunc
}

// syncWriter serialises output from controller observers and the prompt loop
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func NewReader(settings *config.Settings) *Reader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reader{
		settings:  settings,
		files:     document.FileSource{},
		library:   document.NewGutenbergSource(settings.Documents.CacheDir, settings.Documents.MaxAge),
		in:        os.Stdin,
		out:       &syncWriter{w: os.Stdout},
		newEngine: tts.NewEngine,
		ctx:       ctx,
		Cancel:    cancel,
	}
}

func (r *Reader) ShowWelcome() {
	fmt.Fprintln(r.out)
	colours.Title.Fprintln(r.out, "📖 Welcome to Dyslexia Reader! 📖")
	fmt.Fprintln(r.out)
	colours.Info.Fprintln(r.out, "📚 Available commands:")
	fmt.Fprintln(r.out, "  • dyslexiareader read <file>          - Read a text file aloud")
	fmt.Fprintln(r.out, "  • dyslexiareader read --gutenberg <id> - Read a Project Gutenberg book")
	fmt.Fprintln(r.out, "  • dyslexiareader voices               - List narration voices")
	fmt.Fprintln(r.out, "  • dyslexiareader settings             - Show effective settings")
	fmt.Fprintln(r.out, "  • dyslexiareader gutenberg            - Search and manage books")
	fmt.Fprintln(r.out, "  • dyslexiareader clear-audio          - Clear synthesized audio")
	fmt.Fprintln(r.out)
}

func (r *Reader) current() *config.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// engineConfig builds the engine config, honouring an --engine override
func (r *Reader) engineConfig(override string) tts.Config {
	s := r.current()
	c := tts.Config{
		Type:           s.Narration.Engine,
		Volume:         s.Narration.Volume,
		WordsPerMinute: s.Narration.WordsPerMinute,
		CachePath:      s.TTS.CachePath,
	}
	if override != "" {
		c.Type = override
	}
	return c
}

// openEngine returns a nil engine when the host has none, so narration
// reports the platform as unsupported instead of aborting
func (r *Reader) openEngine(override string) (tts.Engine, error) {
	engine, err := r.newEngine(r.engineConfig(override))
	if errors.Is(err, tts.ErrNoEngine) {
		logrus.WithError(err).Warn("Narration disabled")
		return nil, nil
	}
	return engine, err
}

// EngineUsage is the --engine flag help, naming the engines this host offers
func EngineUsage() string {
	return engineUsage(tts.GetAvailableEngines())
}

func engineUsage(engines []tts.EngineType) string {
	names := []string{tts.EngineTypeAuto.String()}
	for _, e := range engines {
		names = append(names, e.String())
	}
	return "Narration engine: " + strings.Join(names, ", ")
}

func (r *Reader) controllerConfig(voice string, rate float64) narration.Config {
	s := r.current()
	if voice == "" {
		voice = s.Narration.Voice
	}
	if rate == 0 {
		rate = s.Narration.Rate
	}
	return narration.Config{
		Rate:          rate,
		Voice:         voice,
		DebounceDelay: s.Narration.Debounce,
		Catalog: narration.CatalogConfig{
			Male:        s.Voices.Male,
			Female:      s.Voices.Female,
			FallbackAll: s.Voices.FallbackAll,
		},
	}
}

// ReadDocument narrates a file or a Gutenberg book interactively
func (r *Reader) ReadDocument(cmd *cobra.Command, args []string) {
	bookID, _ := cmd.Flags().GetString("gutenberg")
	voice, _ := cmd.Flags().GetString("voice")
	rate, _ := cmd.Flags().GetFloat64("rate")
	engineType, _ := cmd.Flags().GetString("engine")

	doc, err := r.loadDocument(bookID, args)
	if err != nil {
		colours.Error.Fprintf(r.out, "❌ %v\n", err)
		return
	}

	engine, err := r.openEngine(engineType)
	if err != nil {
		colours.Error.Fprintf(r.out, "❌ Failed to create narration engine: %v\n", err)
		return
	}
	if engine != nil {
		defer engine.Close()
	}

	if err := r.narrate(doc, engine, r.controllerConfig(voice, rate)); err != nil {
		colours.Error.Fprintf(r.out, "❌ %v\n", err)
	}
}

func (r *Reader) loadDocument(bookID string, args []string) (*document.Document, error) {
	var src document.Source
	var ref string
	switch {
	case bookID != "":
		colours.Info.Fprintf(r.out, "🌐 Loading Project Gutenberg book %s...\n", bookID)
		src, ref = r.library, bookID
	case len(args) > 0:
		src, ref = r.files, args[0]
	default:
		return nil, errors.New("nothing to read: pass a file or --gutenberg <id>")
	}
	return src.Load(r.ctx, ref)
}

// ListVoices prints the narration catalog, or every host voice with --all
func (r *Reader) ListVoices(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")
	engineType, _ := cmd.Flags().GetString("engine")

	engine, err := r.openEngine(engineType)
	if err != nil {
		colours.Error.Fprintf(r.out, "❌ Failed to create narration engine: %v\n", err)
		return
	}
	if engine == nil {
		colours.Notice.Fprintf(r.out, "⚠️  %v\n", narration.ErrUnsupportedPlatform)
		return
	}
	defer engine.Close()

	var voices []tts.Voice
	if all {
		voices, err = engine.Voices()
		if err != nil {
			colours.Error.Fprintf(r.out, "❌ Failed to list voices: %v\n", err)
			return
		}
	} else {
		ctrl := narration.NewController("", engine, r.controllerConfig("", 0))
		voices = ctrl.Voices()
	}

	fmt.Fprintln(r.out)
	colours.Title.Fprintf(r.out, "🎤 Voices (%s)\n", engine.Name())
	fmt.Fprintln(r.out)
	r.printVoices(voices)
}

func (r *Reader) printVoices(voices []tts.Voice) {
	if len(voices) == 0 {
		colours.Warning.Fprintln(r.out, "🔍 No voices available.")
		return
	}
	for i, v := range voices {
		fmt.Fprintf(r.out, "  %d. ", i+1)
		colours.Title.Fprint(r.out, v.Name)
		if v.LanguageTag != "" {
			colours.Info.Fprintf(r.out, " (%s)", v.LanguageTag)
		}
		fmt.Fprintln(r.out)
	}
}

// ClearAudioCache removes audio the engine synthesized and kept on disk
func (r *Reader) ClearAudioCache(cmd *cobra.Command, args []string) {
	engineType, _ := cmd.Flags().GetString("engine")

	engine, err := r.openEngine(engineType)
	if err != nil {
		colours.Error.Fprintf(r.out, "❌ Failed to create narration engine: %v\n", err)
		return
	}
	if engine == nil {
		colours.Notice.Fprintf(r.out, "⚠️  %v\n", narration.ErrUnsupportedPlatform)
		return
	}
	defer engine.Close()

	cache, ok := engine.(tts.AudioCache)
	if !ok {
		colours.Info.Fprintf(r.out, "ℹ️  The %s engine keeps no audio cache\n", engine.Name())
		return
	}
	if err := cache.ClearCache(); err != nil {
		colours.Error.Fprintf(r.out, "❌ Failed to clear audio cache: %v\n", err)
		return
	}
	colours.Success.Fprintln(r.out, "✅ Audio cache cleared")
}

// ShowSettings prints the effective settings as YAML
func (r *Reader) ShowSettings(cmd *cobra.Command, args []string) {
	data, err := yaml.Marshal(r.current())
	if err != nil {
		colours.Error.Fprintf(r.out, "❌ Failed to encode settings: %v\n", err)
		return
	}

	fmt.Fprintln(r.out)
	colours.Title.Fprintln(r.out, "⚙️ Settings ⚙️")
	fmt.Fprintln(r.out)
	fmt.Fprint(r.out, string(data))
}

// ApplySettings takes new settings, usually from a config file reload.
// Rate and voice changes reach the running narration.
func (r *Reader) ApplySettings(s *config.Settings) {
	r.mu.Lock()
	old := r.settings
	r.settings = s
	ctrl := r.active
	r.mu.Unlock()

	if err := config.ConfigureLogging(s.Log); err != nil {
		logrus.WithError(err).Warn("Ignoring invalid log settings")
	}
	if ctrl == nil {
		return
	}

	if s.Narration.Rate != old.Narration.Rate {
		if err := ctrl.SetRate(s.Narration.Rate); err != nil {
			logrus.WithError(err).Warn("Ignoring configured rate")
		}
	}
	if s.Narration.Voice != old.Narration.Voice && s.Narration.Voice != "" {
		if err := ctrl.SetVoice(s.Narration.Voice); err != nil {
			logrus.WithError(err).Warn("Ignoring configured voice")
		}
	}
}
