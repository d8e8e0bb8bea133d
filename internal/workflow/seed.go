package workflow

import "math/rand/v2"

const (
	// KeySeed is the placeholder name for the generation seed.
	KeySeed = "seed"

	// KeyPrompt is the placeholder name for the single-prompt workflow.
	KeyPrompt = "prompt"

	// MaxSeed is the largest integer a JSON consumer can represent exactly.
	MaxSeed int64 = 1<<53 - 1

	// RandomSeedSentinel requests a fresh random seed.
	RandomSeedSentinel int64 = -1
)

// RandomSeed returns a seed drawn uniformly from [0, MaxSeed].
func RandomSeed() int64 {
	return rand.Int64N(MaxSeed + 1)
}

// SeedValue returns configured as a Value, or a random seed when configured
// is RandomSeedSentinel (or any other negative number).
func SeedValue(configured int64) Value {
	if configured < 0 {
		return Int(RandomSeed())
	}
	return Int(configured)
}
