package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// ProbeStatus is the JSON body returned by the Kubernetes-style probe
// handlers, adapted from infrastructure/service/probes.go.
type ProbeStatus struct {
	Ready   bool   `json:"ready"`
	Live    bool   `json:"live"`
	Message string `json:"message,omitempty"`
}

// Probes tracks liveness/readiness for the agent process.
type Probes struct {
	ready        atomic.Bool
	live         atomic.Bool
	startTime    time.Time
	startupGrace time.Duration
}

// NewProbes creates a Probes tracker, live by default.
func NewProbes(startupGrace time.Duration) *Probes {
	if startupGrace <= 0 {
		startupGrace = 30 * time.Second
	}
	p := &Probes{startTime: time.Now(), startupGrace: startupGrace}
	p.live.Store(true)
	return p
}

// SetReady marks the agent as able to run cycles.
func (p *Probes) SetReady(ready bool) { p.ready.Store(ready) }

// SetLive marks the agent as alive; false signals it should be restarted.
func (p *Probes) SetLive(live bool) { p.live.Store(live) }

// IsReady reports current readiness.
func (p *Probes) IsReady() bool { return p.ready.Load() }

// IsLive reports current liveness.
func (p *Probes) IsLive() bool { return p.live.Load() }

func (p *Probes) inStartupGrace() bool {
	return time.Since(p.startTime) < p.startupGrace
}

// LivenessHandler returns 200 while live, 503 otherwise.
func (p *Probes) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := ProbeStatus{Live: p.IsLive(), Ready: p.IsReady()}
		if !status.Live {
			status.Message = "agent not live"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

// ReadinessHandler returns 200 while ready, 503 otherwise (including
// during the startup grace period).
func (p *Probes) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := ProbeStatus{Live: p.IsLive(), Ready: p.IsReady()}
		if !status.Ready {
			if p.inStartupGrace() {
				status.Message = "starting up"
			} else {
				status.Message = "agent not ready"
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

// RegisterRoutes registers the standard probe endpoints plus a deep
// health endpoint backed by a Monitor.
func RegisterRoutes(mux *http.ServeMux, probes *Probes, monitor *Monitor) {
	mux.HandleFunc("/healthz", probes.LivenessHandler())
	mux.HandleFunc("/readyz", probes.ReadinessHandler())
	mux.HandleFunc("/health/deep", DeepHandler(monitor))
}

// DeepHandler exposes the monitor's full component snapshot and recovery
// history as JSON, per spec §4.2.
func DeepHandler(monitor *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Status     string        `json:"status"`
			Components interface{}   `json:"components"`
			Recovery   []RecoveryEvent `json:"recoveryHistory"`
			CheckedAt  time.Time     `json:"checkedAt"`
		}{
			Status:     string(monitor.Overall()),
			Components: monitor.Snapshot(),
			Recovery:   monitor.History(),
			CheckedAt:  time.Now(),
		}

		status := http.StatusOK
		if resp.Status == "UNHEALTHY" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}
