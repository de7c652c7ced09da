package chat

import "time"

// RevealSpeed controls how fast answers are progressively rendered.
type RevealSpeed int

const (
	RevealInstant RevealSpeed = iota // show everything immediately
	RevealFast                       // 32 runes per tick
	RevealNormal                     // 8 runes per tick (default)
)

// String returns a human-readable label for the speed.
func (s RevealSpeed) String() string {
	switch s {
	case RevealInstant:
		return "instant"
	case RevealFast:
		return "fast"
	case RevealNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// RevealConfig holds reveal parameters.
type RevealConfig struct {
	Speed     RevealSpeed
	ChunkSize int           // runes per tick (0 means instant)
	TickRate  time.Duration // delay between ticks
}

// RevealConfigForSpeed returns a config for the given speed preset.
func RevealConfigForSpeed(s RevealSpeed) RevealConfig {
	switch s {
	case RevealInstant:
		return RevealConfig{Speed: RevealInstant}
	case RevealFast:
		return RevealConfig{Speed: RevealFast, ChunkSize: 32, TickRate: 16 * time.Millisecond}
	default:
		return RevealConfig{Speed: RevealNormal, ChunkSize: 8, TickRate: 16 * time.Millisecond}
	}
}

// NextRevealSpeed cycles normal, fast, instant.
func NextRevealSpeed(current RevealSpeed) RevealSpeed {
	switch current {
	case RevealNormal:
		return RevealFast
	case RevealFast:
		return RevealInstant
	default:
		return RevealNormal
	}
}
