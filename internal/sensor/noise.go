package sensor

import (
	"math"
	"math/rand"
	"time"
)

// NoiseGenerator produces realistic sensor noise
type NoiseGenerator struct {
	rng *rand.Rand

	// State for colored/correlated noise
	coloredNoiseState map[string]float64
	lastValues        map[string]float64
}

// NewNoiseGenerator creates a noise generator. A zero seed uses the clock.
func NewNoiseGenerator(seed int64) *NoiseGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &NoiseGenerator{
		rng:               rand.New(rand.NewSource(seed)),
		coloredNoiseState: make(map[string]float64),
		lastValues:        make(map[string]float64),
	}
}

// ColoredNoise generates noise with temporal correlation (smooth transitions)
// alpha: smoothing factor (0 = pure white noise, 1 = constant value)
func (ng *NoiseGenerator) ColoredNoise(key string, target, noisePercent, alpha float64) float64 {
	prevState := ng.coloredNoiseState[key]
	whiteNoise := ng.rng.NormFloat64() * noisePercent * target
	newState := alpha*prevState + (1-alpha)*whiteNoise
	ng.coloredNoiseState[key] = newState
	return target + newState
}

// DriftValue generates a slowly drifting value (simulates sensor drift)
// driftRate: maximum drift per tick as percentage
func (ng *NoiseGenerator) DriftValue(key string, target, driftRate float64) float64 {
	last, exists := ng.lastValues[key]
	if !exists {
		last = target
	}

	// Random walk with mean reversion
	drift := ng.rng.NormFloat64() * driftRate * target
	meanReversion := (target - last) * 0.01

	newValue := last + drift + meanReversion
	ng.lastValues[key] = newValue
	return newValue
}

// Spike generates occasional spikes in the signal
func (ng *NoiseGenerator) Spike(target, probability, maxMagnitude float64) float64 {
	if ng.rng.Float64() < probability {
		return (ng.rng.Float64() - 0.5) * 2 * target * maxMagnitude
	}
	return 0
}

// Round rounds to the given number of decimals
func Round(value float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(value*p) / p
}
