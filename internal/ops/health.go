package ops

import (
	"sync"
	"time"
)

// Pipeline stages published on /readyz while a run progresses.
const (
	StageStarting  = "starting"
	StageIngesting = "ingesting"
	StageDetecting = "detecting"
	StageScoring   = "scoring"
	StageReporting = "reporting"
	StageIdle      = "idle"
)

// Health tracks what the listener should report about the process: the
// pipeline's current stage and whether startup finished. Safe for
// concurrent use; the pipeline writes, handlers read.
type Health struct {
	mu      sync.RWMutex
	version string
	started time.Time
	ready   bool
	stage   string
}

// NewHealth returns health state for a process that has not finished
// starting up yet.
func NewHealth(version string) *Health {
	return &Health{
		version: version,
		started: time.Now(),
		stage:   StageStarting,
	}
}

// SetReady marks startup as complete. Readiness never reverts; a
// finished run reports ready with stage idle.
func (h *Health) SetReady() {
	h.mu.Lock()
	h.ready = true
	h.mu.Unlock()
}

// SetStage publishes the pipeline stage.
func (h *Health) SetStage(stage string) {
	h.mu.Lock()
	h.stage = stage
	h.mu.Unlock()
}

func (h *Health) snapshot() (version, stage string, ready bool, uptime time.Duration) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version, h.stage, h.ready, time.Since(h.started)
}

// HealthStatus is the JSON body served by the health endpoints.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Stage     string                 `json:"stage,omitempty"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
}
