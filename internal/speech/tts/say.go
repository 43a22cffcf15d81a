package tts

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// SayEngine narrates with the macOS 'say' command
type SayEngine struct {
	processEngine

	config  Config
	sayPath string
}

func newSayEngine(config Config) (*SayEngine, error) {
	sayPath, err := exec.LookPath("say")
	if err != nil {
		return nil, fmt.Errorf("say not found: %w", err)
	}

	engine := &SayEngine{
		config:  config,
		sayPath: sayPath,
	}
	engine.name = "say"
	engine.wpm = config.WordsPerMinute
	engine.command = engine.newCommand
	return engine, nil
}

func (s *SayEngine) Name() string {
	return EngineTypeSay.String()
}

func (s *SayEngine) newCommand(u Utterance) *exec.Cmd {
	cmd := exec.Command(s.sayPath, s.args(u)...)
	cmd.Stdin = strings.NewReader(u.Text)
	return cmd
}

func (s *SayEngine) args(u Utterance) []string {
	args := []string{}

	if u.Voice.Name != "" && u.Voice.Name != "default" {
		args = append(args, "-v", u.Voice.Name)
	}

	// Set rate (words per minute, default is ~175)
	rate := int(float64(s.config.WordsPerMinute) * u.Rate)
	args = append(args, "-r", strconv.Itoa(rate))

	// read the text from stdin
	return append(args, "-f", "-")
}

func (s *SayEngine) Voices() ([]Voice, error) {
	output, err := exec.Command(s.sayPath, "-v", "?").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list say voices: %w", err)
	}

	return parseSayVoices(string(output)), nil
}

// "Daniel              en_GB    # Hello! My name is Daniel."
// Names may contain spaces and parentheses, e.g. "Eddy (English (UK))".
var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}_[A-Za-z0-9]+)\s+#`)

func parseSayVoices(output string) []Voice {
	voices := make([]Voice, 0)

	for _, line := range strings.Split(output, "\n") {
		m := sayVoiceLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		voices = append(voices, Voice{
			Name:        strings.TrimSpace(m[1]),
			LanguageTag: strings.ReplaceAll(m[2], "_", "-"),
		})
	}

	return voices
}
