// Package metrics instruments the pile/contract/mound layers with
// Prometheus counters and gauges, and tracks a /health-style component
// status the way the teacher's main.go HealthStatus does for its own
// dependencies.
package metrics

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/gauge this module publishes. Callers
// register it once against a prometheus.Registerer and pass it down to
// the pile/contract/mound call sites that report into it.
type Metrics struct {
	PileWrites               *prometheus.CounterVec
	WitnessStatusTransitions *prometheus.CounterVec
	OperationsApplied        *prometheus.CounterVec
	ContractsHeld            prometheus.Gauge
	ConsignmentsExtracted    prometheus.Counter
	ConsignmentsMerged       *prometheus.CounterVec
	UnresolvedTerminalSeals  prometheus.Counter
}

// New builds a Metrics bundle and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PileWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rgb",
			Subsystem: "pile",
			Name:      "writes_total",
			Help:      "Writes to a pile's logical maps, by map name.",
		}, []string{"map"}),
		WitnessStatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rgb",
			Subsystem: "witness",
			Name:      "status_transitions_total",
			Help:      "Witness status updates, by resulting status kind.",
		}, []string{"status"}),
		OperationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rgb",
			Subsystem: "contract",
			Name:      "operations_applied_total",
			Help:      "Operations accepted by Contract.Call, by method name.",
		}, []string{"method"}),
		ContractsHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rgb",
			Subsystem: "mound",
			Name:      "contracts_held",
			Help:      "Number of contracts currently held by the Mound.",
		}),
		ConsignmentsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rgb",
			Subsystem: "consignment",
			Name:      "extracted_total",
			Help:      "Consignments produced by Mound.Consign.",
		}),
		ConsignmentsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rgb",
			Subsystem: "consignment",
			Name:      "merged_total",
			Help:      "Consignments consumed by Mound.Consume, by outcome.",
		}, []string{"outcome"}),
		UnresolvedTerminalSeals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rgb",
			Subsystem: "consignment",
			Name:      "unresolved_terminal_seals_total",
			Help:      "Terminal auth-tokens a seal resolver failed to place.",
		}),
	}

	reg.MustRegister(
		m.PileWrites,
		m.WitnessStatusTransitions,
		m.OperationsApplied,
		m.ContractsHeld,
		m.ConsignmentsExtracted,
		m.ConsignmentsMerged,
		m.UnresolvedTerminalSeals,
	)
	return m
}

// RecordWrite implements pkg/pile.Observer.
func (m *Metrics) RecordWrite(mapName string) {
	m.PileWrites.WithLabelValues(mapName).Inc()
}

// RecordStatusTransition implements pkg/pile.Observer.
func (m *Metrics) RecordStatusTransition(status string) {
	m.WitnessStatusTransitions.WithLabelValues(status).Inc()
}

// RecordOperation implements pkg/contract.Observer.
func (m *Metrics) RecordOperation(method string) {
	m.OperationsApplied.WithLabelValues(method).Inc()
}

// RecordConsign implements pkg/mound.Observer.
func (m *Metrics) RecordConsign() {
	m.ConsignmentsExtracted.Inc()
}

// RecordConsume implements pkg/mound.Observer.
func (m *Metrics) RecordConsume(outcome string) {
	m.ConsignmentsMerged.WithLabelValues(outcome).Inc()
}

// RecordUnresolvedTerminalSeals implements pkg/mound.Observer.
func (m *Metrics) RecordUnresolvedTerminalSeals(n int) {
	m.UnresolvedTerminalSeals.Add(float64(n))
}

// SetContractsHeld implements pkg/mound.Observer.
func (m *Metrics) SetContractsHeld(n int) {
	m.ContractsHeld.Set(float64(n))
}

// HealthStatus tracks component health for the /health endpoint, the way
// the teacher's main.go HealthStatus does for its own dependencies —
// here the components are this module's own (pile, chain oracle, mound).
type HealthStatus struct {
	Status        string `json:"status"`
	Pile          string `json:"pile"`
	ChainOracle   string `json:"chain_oracle"`
	Mound         string `json:"mound"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	mu        sync.RWMutex
	startTime time.Time
}

// NewHealthStatus returns a HealthStatus with every component "unknown"
// and the clock started.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		Status:      "starting",
		Pile:        "unknown",
		ChainOracle: "unknown",
		Mound:       "unknown",
		startTime:   time.Now(),
	}
}

func (h *HealthStatus) SetPile(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Pile = status
	h.updateOverallStatus()
}

func (h *HealthStatus) SetChainOracle(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ChainOracle = status
	h.updateOverallStatus()
}

func (h *HealthStatus) SetMound(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Mound = status
	h.updateOverallStatus()
}

// updateOverallStatus must be called with h.mu held.
func (h *HealthStatus) updateOverallStatus() {
	if h.Pile == "disconnected" || h.Mound == "error" {
		h.Status = "error"
		return
	}
	if h.ChainOracle == "disconnected" {
		h.Status = "degraded"
		return
	}
	if h.Pile == "connected" && h.Mound == "ready" {
		h.Status = "ok"
	}
}

// OverallStatus returns the current top-level status string, safe for
// concurrent use alongside the SetXxx mutators.
func (h *HealthStatus) OverallStatus() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Status
}

// ToJSON renders the current status, refreshing UptimeSeconds first.
func (h *HealthStatus) ToJSON() []byte {
	h.mu.Lock()
	h.UptimeSeconds = int64(time.Since(h.startTime).Seconds())
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	data, _ := json.Marshal(h)
	return data
}
