package config

import (
	"strings"
	"sync"
	"time"
)

// RuntimeConfig holds the production configuration submitted by the
// operator while the service is running. All methods are thread-safe.
type RuntimeConfig struct {
	mu          sync.RWMutex
	lotNumber   string
	values      map[string]string
	submittedAt time.Time
}

// NewRuntimeConfig creates an empty RuntimeConfig.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		values: make(map[string]string),
	}
}

// Submit records a new production configuration, replacing the previous one.
func (rc *RuntimeConfig) Submit(lotNumber string, values map[string]string) {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.lotNumber = strings.TrimSpace(lotNumber)
	rc.values = copied
	rc.submittedAt = time.Now()
}

// LotNumber returns the lot of the last submitted configuration, trimmed.
// Empty when nothing has been submitted.
func (rc *RuntimeConfig) LotNumber() string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.lotNumber
}

// Values returns a copy of the last submitted form values.
func (rc *RuntimeConfig) Values() map[string]string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[string]string, len(rc.values))
	for k, v := range rc.values {
		out[k] = v
	}
	return out
}

// RuntimeConfigSnapshot is a point-in-time copy of the runtime config.
type RuntimeConfigSnapshot struct {
	LotNumber   string            `json:"lotNumber"`
	Values      map[string]string `json:"values"`
	SubmittedAt time.Time         `json:"submittedAt,omitempty"`
}

// Snapshot returns a point-in-time copy of all runtime config values.
func (rc *RuntimeConfig) Snapshot() RuntimeConfigSnapshot {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	values := make(map[string]string, len(rc.values))
	for k, v := range rc.values {
		values[k] = v
	}
	return RuntimeConfigSnapshot{
		LotNumber:   rc.lotNumber,
		Values:      values,
		SubmittedAt: rc.submittedAt,
	}
}
