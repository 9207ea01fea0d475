package llm

import (
	"sync"
	"time"
)

// HealthConfig configures the per-model circuit breaker.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive exhausted-retry failures
	// before the circuit opens.
	FailureThreshold int

	// RecoveryTimeout is how long to wait before allowing a probe request
	// against a tripped model (half-open).
	RecoveryTimeout time.Duration
}

// DefaultHealthConfig returns sensible circuit breaker defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

// modelHealth tracks the breaker state for one model.
type modelHealth struct {
	failureCount int
	circuitOpen  bool
	openedAt     time.Time
	lastSuccess  time.Time
	lastFailure  time.Time
}

// healthState tracks circuit breaker state per model ID.
type healthState struct {
	mu       sync.Mutex
	config   HealthConfig
	statuses map[string]*modelHealth
}

func newHealthState(cfg HealthConfig) *healthState {
	return &healthState{
		config:   cfg,
		statuses: make(map[string]*modelHealth),
	}
}

// available reports whether requests to the model are currently allowed.
// An open circuit allows a probe once the recovery timeout has passed.
func (h *healthState) available(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	status, ok := h.statuses[id]
	if !ok || !status.circuitOpen {
		return true
	}
	return time.Since(status.openedAt) > h.config.RecoveryTimeout
}

// markSuccess resets the failure counter and closes the circuit.
func (h *healthState) markSuccess(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := h.getOrCreate(id)
	status.lastSuccess = time.Now()
	status.failureCount = 0
	status.circuitOpen = false
}

// markFailure counts an exhausted-retry failure and opens the circuit at the
// threshold.
func (h *healthState) markFailure(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := h.getOrCreate(id)
	status.lastFailure = time.Now()
	status.failureCount++

	if status.failureCount >= h.config.FailureThreshold {
		status.circuitOpen = true
		status.openedAt = time.Now()
	}
}

func (h *healthState) getOrCreate(id string) *modelHealth {
	if status, ok := h.statuses[id]; ok {
		return status
	}
	status := &modelHealth{}
	h.statuses[id] = status
	return status
}
