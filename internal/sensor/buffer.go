package sensor

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sebastiankruger/factory-twin/internal/core"
	"github.com/sebastiankruger/factory-twin/internal/event"
	"github.com/sebastiankruger/factory-twin/internal/metrics"
)

// DefaultCapacity is the number of readings a Buffer keeps
const DefaultCapacity = 200

// Event is one raw message from the live sensor stream. Any field may be
// missing; value may be a number or a numeric string.
type Event struct {
	Time        string      `json:"time,omitempty"`
	MachineName string      `json:"machineName,omitempty"`
	SensorName  string      `json:"sensorName,omitempty"`
	Value       interface{} `json:"value,omitempty"`

	// Synthetic marks demo readings. They are buffered like live ones but
	// never count as live weighing data.
	Synthetic bool `json:"-"`
}

// ReadingAccepted is published for every reading kept by a Buffer
type ReadingAccepted struct {
	Reading core.SensorReading
}

// WeighingReading is published when a reading comes from a weighing station
type WeighingReading struct {
	Reading core.SensorReading
}

// Buffer keeps the most recent valid sensor readings
type Buffer struct {
	mu       sync.RWMutex
	readings []core.SensorReading
	capacity int
	bus      *event.Bus
	clock    func() time.Time
}

// NewBuffer creates a buffer holding up to capacity readings
func NewBuffer(capacity int, bus *event.Bus) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		readings: make([]core.SensorReading, 0, capacity),
		capacity: capacity,
		bus:      bus,
		clock:    time.Now,
	}
}

// Accept validates ev and stores it. Events without a machine name or a
// finite numeric value are discarded.
func (b *Buffer) Accept(ev Event) (core.SensorReading, bool) {
	machine := strings.TrimSpace(ev.MachineName)
	value, ok := numeric(ev.Value)
	if machine == "" || !ok {
		metrics.SensorReadings.WithLabelValues("discarded").Inc()
		return core.SensorReading{}, false
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(ev.Time))
	if err != nil {
		ts = b.clock()
	}

	reading := core.SensorReading{
		Time:        ts,
		MachineName: machine,
		SensorName:  strings.TrimSpace(ev.SensorName),
		Value:       value,
	}

	b.mu.Lock()
	if len(b.readings) == b.capacity {
		copy(b.readings, b.readings[1:])
		b.readings = b.readings[:len(b.readings)-1]
	}
	b.readings = append(b.readings, reading)
	b.mu.Unlock()

	metrics.SensorReadings.WithLabelValues("accepted").Inc()
	event.Publish(b.bus, ReadingAccepted{Reading: reading})
	if IsWeighing(machine) && !ev.Synthetic {
		event.Publish(b.bus, WeighingReading{Reading: reading})
	}
	return reading, true
}

// Readings returns the buffered readings, oldest first
func (b *Buffer) Readings() []core.SensorReading {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.SensorReading, len(b.readings))
	copy(out, b.readings)
	return out
}

// Latest returns, per machine name, the reading with the latest timestamp
func (b *Buffer) Latest() map[string]core.SensorReading {
	b.mu.RLock()
	defer b.mu.RUnlock()

	latest := make(map[string]core.SensorReading)
	for _, r := range b.readings {
		if cur, ok := latest[r.MachineName]; !ok || !r.Time.Before(cur.Time) {
			latest[r.MachineName] = r
		}
	}
	return latest
}

// Newest returns the reading with the latest timestamp across all machines
func (b *Buffer) Newest() (core.SensorReading, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var newest core.SensorReading
	found := false
	for _, r := range b.readings {
		if !found || !r.Time.Before(newest.Time) {
			newest = r
			found = true
		}
	}
	return newest, found
}

// IsWeighing reports whether a machine name belongs to a weighing station
func IsWeighing(machineName string) bool {
	return strings.Contains(strings.ToLower(machineName), "weigh")
}

func numeric(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
