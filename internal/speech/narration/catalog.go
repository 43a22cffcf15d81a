package narration

import (
	"dyslexiareader/internal/speech/tts"
)

// Voices offered by default, matched by exact name against the host list
var (
	DefaultMaleVoices = []string{
		"Microsoft David - English (United States)",
		"Google UK English Male",
		"Microsoft Mark - English (United States)",
	}
	DefaultFemaleVoices = []string{
		"Google UK English Female",
		"Microsoft Zira - English (United States)",
		"Google US English",
	}
)

// DefaultPerGroup caps each allow-list group in the display subset
const DefaultPerGroup = 4

type CatalogConfig struct {
	Male     []string
	Female   []string
	PerGroup int
	// FallbackAll uses the first host voices when no allow-listed name matches
	FallbackAll bool
}

// Catalog is the bounded display subset of the host's voices.
// It is not safe for concurrent use; the controller guards it.
type Catalog struct {
	male     map[string]bool
	female   map[string]bool
	perGroup int
	fallback bool
	voices   []tts.Voice
}

func NewCatalog(cfg CatalogConfig) *Catalog {
	if len(cfg.Male)+len(cfg.Female) == 0 {
		cfg.Male, cfg.Female = DefaultMaleVoices, DefaultFemaleVoices
	}
	if cfg.PerGroup <= 0 {
		cfg.PerGroup = DefaultPerGroup
	}
	return &Catalog{
		male:     nameSet(cfg.Male),
		female:   nameSet(cfg.Female),
		perGroup: cfg.PerGroup,
		fallback: cfg.FallbackAll,
	}
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Refresh re-derives the display subset from the host voices: up to
// perGroup male-listed voices followed by up to perGroup female-listed
// ones, each in host order.
func (c *Catalog) Refresh(host []tts.Voice) []tts.Voice {
	var male, female, all []tts.Voice
	seen := make(map[string]bool, len(host))

	for _, v := range host {
		if seen[v.Name] {
			continue
		}
		seen[v.Name] = true
		all = append(all, v)

		switch {
		case c.male[v.Name]:
			if len(male) < c.perGroup {
				male = append(male, v)
			}
		case c.female[v.Name]:
			if len(female) < c.perGroup {
				female = append(female, v)
			}
		}
	}

	voices := append(male, female...)
	if len(voices) == 0 && c.fallback {
		voices = all[:min(len(all), 2*c.perGroup)]
	}
	c.voices = voices
	return c.Voices()
}

// Voices returns a copy of the display subset
func (c *Catalog) Voices() []tts.Voice {
	return append([]tts.Voice(nil), c.voices...)
}

func (c *Catalog) Lookup(name string) (tts.Voice, bool) {
	for _, v := range c.voices {
		if v.Name == name {
			return v, true
		}
	}
	return tts.Voice{}, false
}

