// Package garden turns a garden state into a scene renderers can draw
// without interpreting the reply vocabulary themselves.
package garden

import (
	"math/rand/v2"
	"strings"

	"socialgarden/internal/domain"
)

type Sprite string

const (
	SpriteSunflower Sprite = "sunflower"
	SpriteRose      Sprite = "rose"
	SpriteOak       Sprite = "oak"
	SpriteBamboo    Sprite = "bamboo"
	SpriteLavender  Sprite = "lavender"
	SpriteSprout    Sprite = "sprout"
)

var sprites = map[string]Sprite{
	"tournesol": SpriteSunflower,
	"rose":      SpriteRose,
	"chêne":     SpriteOak,
	"chene":     SpriteOak,
	"bambou":    SpriteBamboo,
	"lavande":   SpriteLavender,
}

// Plant is one placed sprite.
type Plant struct {
	Kind   string `json:"kind"`
	Sprite Sprite `json:"sprite"`
	// LeftPercent is the horizontal position, in [10, 90).
	LeftPercent float64 `json:"leftPercent"`
	// DelayMS staggers the grow animation.
	DelayMS int `json:"delayMs"`
}

// Scene is the drawable garden.
type Scene struct {
	Weather   domain.Weather `json:"weather"`
	Sun       bool           `json:"sun"`
	Clouds    bool           `json:"clouds"`
	Rain      bool           `json:"rain"`
	Composted bool           `json:"composted"`
	Plants    []Plant        `json:"plants"`
}

// Float64 returns a value in [0, 1).
type Float64 func() float64

// Layout places every plant of state. rnd may be nil.
func Layout(state domain.GardenState, rnd Float64) Scene {
	if rnd == nil {
		rnd = rand.Float64
	}
	scene := Scene{
		Weather:   state.Weather,
		Sun:       state.Weather == domain.WeatherSun || state.Weather == domain.WeatherClouds,
		Clouds:    state.Weather == domain.WeatherClouds || state.Weather == domain.WeatherRain,
		Rain:      state.Weather == domain.WeatherRain,
		Composted: state.ConflictComposted,
		Plants:    make([]Plant, 0, len(state.Plants)),
	}
	for i, kind := range state.Plants {
		scene.Plants = append(scene.Plants, Plant{
			Kind:        kind,
			Sprite:      SpriteFor(kind),
			LeftPercent: rnd()*80 + 10,
			DelayMS:     i * 300,
		})
	}
	return scene
}

// SpriteFor maps a plant kind to its sprite; unknown kinds sprout.
func SpriteFor(kind string) Sprite {
	if sprite, ok := sprites[strings.ToLower(strings.TrimSpace(kind))]; ok {
		return sprite
	}
	return SpriteSprout
}
