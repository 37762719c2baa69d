// Package alerts fuses the two detector streams (robust-statistics and PCA
// reconstruction) into host-level alerts, applying hysteresis to require
// consecutive confirmation and a cooldown to bound alert rate.
package alerts

import (
	"sync"
	"time"

	"github.com/kubilitics/anomaly-platform/internal/models"
)

// hostState is the exclusive per-host fusion state.
type hostState struct {
	consecutiveAnomalies int
	lastAlertTime        time.Time
}

// Manager fuses detector outputs into alerts with hysteresis and cooldown.
// Per-host state is guarded by a single mutex; Evaluate is safe to call
// concurrently across hosts.
type Manager struct {
	hysteresisThreshold int
	cooldown            time.Duration

	mu     sync.Mutex
	states map[string]*hostState
}

// NewManager builds a Manager requiring hysteresisThreshold consecutive
// anomalous samples before alerting, and enforcing a cooldown between
// successive alerts for the same host.
func NewManager(hysteresisThreshold int, cooldown time.Duration) *Manager {
	return &Manager{
		hysteresisThreshold: hysteresisThreshold,
		cooldown:            cooldown,
		states:              make(map[string]*hostState),
	}
}

// DetectorInput is one detector's per-update outcome.
type DetectorInput struct {
	Flag  bool
	Score float64
}

// Evaluate fuses detector A and B outputs for hostID at ts, returning an
// alert when hysteresis is satisfied and the host is out of cooldown.
func (m *Manager) Evaluate(hostID, runID string, ts time.Time, a, b DetectorInput) *models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[hostID]
	if !ok {
		state = &hostState{}
		m.states[hostID] = state
	}

	anyFlag := a.Flag || b.Flag
	if !anyFlag {
		state.consecutiveAnomalies = 0
		return nil
	}
	state.consecutiveAnomalies++

	if state.consecutiveAnomalies < m.hysteresisThreshold {
		return nil
	}

	if !state.lastAlertTime.IsZero() && ts.Sub(state.lastAlertTime) < m.cooldown {
		return nil
	}

	alert := &models.Alert{
		HostID:    hostID,
		RunID:     runID,
		Timestamp: ts,
	}

	switch {
	case a.Flag && b.Flag:
		alert.Severity = models.SeverityCritical
		alert.Source = models.SourceFusionAB
		alert.Score = max(a.Score, b.Score)
	case b.Flag:
		alert.Severity = models.SeverityHigh
		alert.Source = models.SourceDetectorBPCA
		alert.Score = b.Score
	default:
		if a.Score > 10.0 {
			alert.Severity = models.SeverityHigh
		} else {
			alert.Severity = models.SeverityMedium
		}
		alert.Source = models.SourceDetectorAStats
		alert.Score = a.Score
	}

	state.lastAlertTime = ts
	state.consecutiveAnomalies = 0

	return alert
}
