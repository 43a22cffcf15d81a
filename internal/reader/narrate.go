package reader

import (
	"bufio"
	"dyslexiareader/internal/cli/scheme/colours"
	"dyslexiareader/internal/document"
	"dyslexiareader/internal/speech/narration"
	"dyslexiareader/internal/speech/tts"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// rateStep is the change applied by the + and - keys
const rateStep = 0.1

// contextWords already read are shown dimmed before the current word
const contextWords = 3

type action int

const (
	actionNone action = iota
	actionRead
	actionToggle
	actionStop
	actionFaster
	actionSlower
	actionRate
	actionVoice
	actionVoices
	actionHelp
	actionQuit
)

type command struct {
	action action
	rate   float64
	voice  string
}

// parseCommand turns one line of user input into a command
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(word) {
	case "":
		return command{action: actionNone}, nil
	case "r", "read":
		return command{action: actionRead}, nil
	case "p", "pause", "resume":
		return command{action: actionToggle}, nil
	case "s", "stop":
		return command{action: actionStop}, nil
	case "+", "faster":
		return command{action: actionFaster}, nil
	case "-", "slower":
		return command{action: actionSlower}, nil
	case "rate":
		rate, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return command{}, fmt.Errorf("rate needs a number, got %q", rest)
		}
		return command{action: actionRate, rate: rate}, nil
	case "voice":
		if rest == "" {
			return command{}, errors.New("voice needs a name, see 'voices'")
		}
		return command{action: actionVoice, voice: rest}, nil
	case "v", "voices":
		return command{action: actionVoices}, nil
	case "h", "help", "?":
		return command{action: actionHelp}, nil
	case "q", "quit", "exit":
		return command{action: actionQuit}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", word)
	}
}

// narrate runs the interactive narration loop over doc until the user quits
// or input ends
func (r *Reader) narrate(doc *document.Document, engine tts.Engine, cfg narration.Config) error {
	if engine == nil {
		colours.Notice.Fprintf(r.out, "⚠️  %v\n", narration.ErrUnsupportedPlatform)
	}

	ctrl := narration.NewController(doc.Text, engine, cfg)
	ctrl.OnChange(func(s narration.Snapshot) { r.render(doc.Text, s) })

	r.mu.Lock()
	r.active = ctrl
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active = nil
		r.mu.Unlock()
		if err := ctrl.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to stop narration")
		}
	}()

	fmt.Fprintln(r.out)
	colours.Title.Fprintf(r.out, "📖 %s\n", doc.Title)
	if doc.Author != "" {
		colours.Author.Fprintf(r.out, "✍️  by %s\n", doc.Author)
	}
	r.showHelp()

	target := ctrl.Rate()
	scanner := bufio.NewScanner(r.in)
	for {
		colours.Prompt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		select {
		case <-r.ctx.Done():
			return nil
		default:
		}

		cmd, err := parseCommand(scanner.Text())
		if err != nil {
			colours.Warning.Fprintf(r.out, "ℹ️  %v\n", err)
			continue
		}
		if cmd.action == actionQuit {
			colours.Warning.Fprintln(r.out, "👋 Goodbye!")
			return nil
		}
		target = r.execute(ctrl, cmd, target)
	}
}

// execute applies cmd and returns the rate the user is steering towards.
// Rate changes are debounced, so + and - step from the last requested rate.
func (r *Reader) execute(ctrl *narration.Controller, cmd command, target float64) float64 {
	switch cmd.action {
	case actionRead:
		r.notify(ctrl.Start())
	case actionToggle:
		switch ctrl.State() {
		case narration.Speaking:
			r.notify(ctrl.Pause())
		case narration.SpeakingPaused:
			r.notify(ctrl.Resume())
		default:
			colours.Info.Fprintln(r.out, "ℹ️  Nothing is playing, press 'r' to read")
		}
	case actionStop:
		r.notify(ctrl.Stop())
	case actionFaster, actionSlower, actionRate:
		rate := cmd.rate
		switch cmd.action {
		case actionFaster:
			rate = stepRate(target, rateStep)
		case actionSlower:
			rate = stepRate(target, -rateStep)
		}
		if err := ctrl.SetRate(rate); err != nil {
			r.notify(err)
			return target
		}
		colours.Info.Fprintf(r.out, "⏩ Rate %.1fx\n", rate)
		return rate
	case actionVoice:
		r.notify(ctrl.SetVoice(cmd.voice))
	case actionVoices:
		r.printVoices(ctrl.Voices())
	case actionHelp:
		r.showHelp()
	}
	return target
}

func stepRate(rate, step float64) float64 {
	rate = math.Round((rate+step)*10) / 10
	return math.Min(math.Max(rate, narration.MinRate), narration.MaxRate)
}

// notify shows controller errors the reader has to act on
func (r *Reader) notify(err error) {
	switch {
	case err == nil:
	case errors.Is(err, narration.ErrNoVoiceSelected):
		colours.Notice.Fprintln(r.out, "⚠️  No voice selected. Pick one with 'voice <name>', see 'voices'")
	case errors.Is(err, narration.ErrUnsupportedPlatform):
		colours.Notice.Fprintf(r.out, "⚠️  %v\n", err)
	case errors.Is(err, narration.ErrVoiceNotFound), errors.Is(err, narration.ErrInvalidRate), errors.Is(err, narration.ErrEmptyText):
		colours.Warning.Fprintf(r.out, "ℹ️  %v\n", err)
	default:
		colours.Error.Fprintf(r.out, "❌ %v\n", err)
	}
}

func (r *Reader) showHelp() {
	colours.Info.Fprintln(r.out, "💡 r read | p pause/resume | s stop | + / - rate | rate <x> | voice <name> | voices | q quit")
}

// render prints one status line per controller change
func (r *Reader) render(text string, s narration.Snapshot) {
	voice := "none"
	if s.Voice != nil {
		voice = s.Voice.Name
	}

	colours.State.Fprintf(r.out, "[%s] ", s.State)
	fmt.Fprintf(r.out, "%.1fx %s", s.Rate, voice)
	if s.State != narration.Idle {
		if word := wordAt(text, s.Offset); word != "" {
			fmt.Fprint(r.out, " ")
			if spoken := spokenBefore(text, s.Offset, contextWords); spoken != "" {
				colours.Spoken.Fprint(r.out, spoken+" ")
			}
			colours.Word.Fprint(r.out, word)
		}
	}
	fmt.Fprintln(r.out)
}

// spokenBefore returns up to n words read just before offset
func spokenBefore(text string, offset, n int) string {
	if offset <= 0 || offset > len(text) {
		return ""
	}
	words := strings.Fields(text[:offset])
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}

// wordAt returns the word starting at byte offset
func wordAt(text string, offset int) string {
	if offset < 0 || offset >= len(text) || !utf8.RuneStart(text[offset]) {
		return ""
	}
	rest := text[offset:]
	if end := strings.IndexFunc(rest, unicode.IsSpace); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
