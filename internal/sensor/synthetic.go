package sensor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// profile describes one synthetic signal
type profile struct {
	sensor       string
	target       float64
	noisePercent float64
	alpha        float64
	driftRate    float64
	decimals     int
}

var (
	defaultProfiles = []profile{
		{sensor: "temperature", target: 65, noisePercent: 0.02, alpha: 0.8, driftRate: 0.002, decimals: 1},
		{sensor: "vibration", target: 2.5, noisePercent: 0.08, alpha: 0.5, driftRate: 0.001, decimals: 2},
	}
	weighingProfiles = []profile{
		{sensor: "weight", target: 25, noisePercent: 0.01, alpha: 0.6, driftRate: 0.0005, decimals: 2},
	}
)

// Synthetic emits noisy demo readings for a fixed set of machine names
type Synthetic struct {
	machines []string
	noise    *NoiseGenerator
	clock    func() time.Time
}

// NewSynthetic creates a demo stream for the given machine names
func NewSynthetic(machines []string, seed int64) *Synthetic {
	names := make([]string, len(machines))
	copy(names, machines)
	return &Synthetic{
		machines: names,
		noise:    NewNoiseGenerator(seed),
		clock:    time.Now,
	}
}

// Next produces one event per signal of every machine
func (s *Synthetic) Next() []Event {
	now := s.clock().UTC().Format(time.RFC3339Nano)

	var events []Event
	for _, machine := range s.machines {
		profiles := defaultProfiles
		if IsWeighing(machine) {
			profiles = weighingProfiles
		}
		for _, p := range profiles {
			key := machine + "/" + p.sensor
			base := s.noise.DriftValue(key, p.target, p.driftRate)
			value := s.noise.ColoredNoise(key, base, p.noisePercent, p.alpha)
			value += s.noise.Spike(p.target, 0.005, 0.1)
			events = append(events, Event{
				Time:        now,
				MachineName: machine,
				SensorName:  p.sensor,
				Value:       Round(value, p.decimals),
				Synthetic:   true,
			})
		}
	}
	return events
}

// Run feeds events into buf every interval until ctx is cancelled
func (s *Synthetic) Run(ctx context.Context, interval time.Duration, buf *Buffer) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().
		Int("machines", len(s.machines)).
		Dur("interval", interval).
		Msg("Synthetic sensor stream started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Synthetic sensor stream stopped")
			return
		case <-ticker.C:
			for _, ev := range s.Next() {
				buf.Accept(ev)
			}
		}
	}
}
