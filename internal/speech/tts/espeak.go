// Cross-platform eSpeak implementation
package tts

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ESpeakEngine implements narration using eSpeak/eSpeak-NG
type ESpeakEngine struct {
	processEngine

	config     Config
	espeakPath string
}

// newESpeakEngine creates a new eSpeak narration engine
func newESpeakEngine(config Config) (*ESpeakEngine, error) {
	espeakPath, err := findESpeakExecutable()
	if err != nil {
		return nil, fmt.Errorf("eSpeak not found: %w", err)
	}

	engine := &ESpeakEngine{
		config:     config,
		espeakPath: espeakPath,
	}
	engine.name = "eSpeak"
	engine.wpm = config.WordsPerMinute
	engine.command = engine.newCommand

	if err := engine.testInstallation(); err != nil {
		return nil, fmt.Errorf("eSpeak test failed: %w", err)
	}

	return engine, nil
}

func findESpeakExecutable() (string, error) {
	candidates := []string{"espeak-ng", "espeak"}

	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("eSpeak executable not found in PATH")
}

func (e *ESpeakEngine) testInstallation() error {
	return exec.Command(e.espeakPath, "--version").Run()
}

func (e *ESpeakEngine) Name() string {
	return EngineTypeESpeak.String()
}

func (e *ESpeakEngine) newCommand(u Utterance) *exec.Cmd {
	cmd := exec.Command(e.espeakPath, e.args(u)...)
	cmd.Stdin = strings.NewReader(u.Text)
	return cmd
}

func (e *ESpeakEngine) args(u Utterance) []string {
	args := []string{}

	if u.Voice.Name != "" && u.Voice.Name != "default" {
		args = append(args, "-v", u.Voice.Name)
	}

	// words per minute, eSpeak's own default is 175
	speed := int(float64(e.config.WordsPerMinute) * u.Rate)
	args = append(args, "-s", strconv.Itoa(speed))

	// amplitude 0-200, default 100
	if e.config.Volume > 0 {
		args = append(args, "-a", strconv.Itoa(int(100*e.config.Volume)))
	}

	return append(args, "--stdin")
}

func (e *ESpeakEngine) Voices() ([]Voice, error) {
	output, err := exec.Command(e.espeakPath, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list eSpeak voices: %w", err)
	}

	return parseESpeakVoices(string(output)), nil
}

func parseESpeakVoices(output string) []Voice {
	lines := strings.Split(output, "\n")
	voices := make([]Voice, 0)

	for i, line := range lines {
		// Skip header line
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}

		// Pty Language Age/Gender VoiceName          File          Other Languages
		fields := strings.Fields(line)
		if len(fields) >= 4 {
			voices = append(voices, Voice{Name: fields[3], LanguageTag: fields[1]})
		}
	}

	return voices
}
