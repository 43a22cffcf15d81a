package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Settings mirrors the configuration file
type Settings struct {
	Narration Narration `mapstructure:"narration" yaml:"narration"`
	TTS       TTS       `mapstructure:"tts" yaml:"tts"`
	Voices    Voices    `mapstructure:"voices" yaml:"voices"`
	Documents Documents `mapstructure:"documents" yaml:"documents"`
	Log       Log       `mapstructure:"log" yaml:"log"`
}

type Narration struct {
	Engine         string        `mapstructure:"engine" yaml:"engine"`
	Voice          string        `mapstructure:"voice" yaml:"voice"`
	Rate           float64       `mapstructure:"rate" yaml:"rate"`
	Debounce       time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Volume         float64       `mapstructure:"volume" yaml:"volume"`
	WordsPerMinute int           `mapstructure:"words_per_minute" yaml:"words_per_minute"`
}

type TTS struct {
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`
}

type Voices struct {
	Male        []string `mapstructure:"male" yaml:"male"`
	Female      []string `mapstructure:"female" yaml:"female"`
	FallbackAll bool     `mapstructure:"fallback_all" yaml:"fallback_all"`
}

type Documents struct {
	CacheDir string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers the default value of every setting
func SetDefaults() {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".dyslexiareader")

	viper.SetDefault("narration.engine", "auto") // Auto-select best engine
	viper.SetDefault("narration.voice", "")
	viper.SetDefault("narration.rate", 1.0)
	viper.SetDefault("narration.debounce", 300*time.Millisecond)
	viper.SetDefault("narration.volume", 0.8)
	viper.SetDefault("narration.words_per_minute", 175)
	viper.SetDefault("tts.cache_path", filepath.Join(base, "audio"))
	viper.SetDefault("voices.fallback_all", true)
	viper.SetDefault("documents.cache_dir", filepath.Join(base, "books"))
	viper.SetDefault("documents.max_age", 24*time.Hour)
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.format", "text")
}

// Init wires viper to the config file, .env and the environment
func Init() {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded environment variables from .env file")
	}

	viper.SetConfigName("dyslexiareader")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.dyslexiareader")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("DYSLEXIAREADER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logrus.WithError(err).Warn("Failed to read config file")
		}
	}
}

// Load decodes the current viper state
func Load() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &s, nil
}

// ConfigureLogging applies the log settings to the standard logrus logger
func ConfigureLogging(l Log) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch l.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", l.Format)
	}
	return nil
}

// Watch reloads the settings whenever the config file changes
func Watch(onChange func(*Settings)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		logrus.WithField("file", e.Name).Info("Config file changed")

		s, err := Load()
		if err != nil {
			logrus.WithError(err).Warn("Ignoring invalid config change")
			return
		}
		onChange(s)
	})
	viper.WatchConfig()
}
