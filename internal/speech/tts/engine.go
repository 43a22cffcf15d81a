package tts

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

type EngineType string

const (
	EngineTypeMock   EngineType = "mock"
	EngineTypeESpeak EngineType = "espeak"
	EngineTypeGoogle EngineType = "google"
	EngineTypeSay    EngineType = "say"
	EngineTypeAuto   EngineType = "auto" // Automatically choose best for platform
)

// DefaultWordsPerMinute is the speaking pace at rate 1.0
const DefaultWordsPerMinute = 175

// ErrNoEngine is returned when no narration engine can be created on this host
var ErrNoEngine = errors.New("no narration engine available")

func (e EngineType) String() string {
	return string(e)
}

// NewEngine creates a new narration engine based on the provided config
func NewEngine(config Config) (Engine, error) {
	if config.WordsPerMinute <= 0 {
		config.WordsPerMinute = DefaultWordsPerMinute
	}

	if config.Type == "" || config.Type == EngineTypeAuto.String() {
		return newBestEngineForPlatform(config)
	}

	switch config.Type {
	case EngineTypeMock.String():
		return NewPacedMockEngine(config), nil

	case EngineTypeGoogle.String():
		return newGoogleEngine(config)

	case EngineTypeESpeak.String():
		return newESpeakEngine(config)

	case EngineTypeSay.String():
		return newSayEngine(config)

	default:
		return nil, fmt.Errorf("unsupported TTS engine type: %s", config.Type)
	}
}

// newBestEngineForPlatform tries the candidates in order of preference
func newBestEngineForPlatform(config Config) (Engine, error) {
	var errs []error

	if hasGoogleCredentials() {
		engine, err := newGoogleEngine(config)
		if err == nil {
			return engine, nil
		}
		errs = append(errs, err)
	}

	if runtime.GOOS == "darwin" {
		engine, err := newSayEngine(config)
		if err == nil {
			return engine, nil
		}
		errs = append(errs, err)
	}

	engine, err := newESpeakEngine(config)
	if err == nil {
		return engine, nil
	}
	errs = append(errs, err)

	return nil, fmt.Errorf("%w on %s: %w", ErrNoEngine, runtime.GOOS, errors.Join(errs...))
}

// GetAvailableEngines returns engines available on the current platform
func GetAvailableEngines() []EngineType {
	engines := []EngineType{EngineTypeMock}

	if _, err := findESpeakExecutable(); err == nil {
		engines = append(engines, EngineTypeESpeak)
	}

	if _, err := exec.LookPath("say"); err == nil {
		engines = append(engines, EngineTypeSay)
	}

	if hasGoogleCredentials() {
		engines = append(engines, EngineTypeGoogle)
	}

	return engines
}

// hasGoogleCredentials checks if Google Cloud credentials are available
func hasGoogleCredentials() bool {
	_, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS")
	return ok
}
