// Package streaming implements the online anomaly pipeline: detector A's
// robust streaming statistics and detector B's PCA reconstruction, fused
// through internal/alerts into host-level alerts. Grounded on
// internal/modelcache's per-key map-plus-mutex idiom for owning the
// per-host detector A state that the stateless fusion step (internal/alerts)
// does not itself track.
package streaming

import (
	"sync"
	"time"

	"github.com/kubilitics/anomaly-platform/internal/alerts"
	"github.com/kubilitics/anomaly-platform/internal/detector"
	"github.com/kubilitics/anomaly-platform/internal/linalg"
	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/kubilitics/anomaly-platform/internal/pca"
)

// DetectorFactory builds a fresh detector A instance for a newly-seen host.
// Pipeline calls it at most once per distinct host ID.
type DetectorFactory func() *detector.Detector

// hostDetector pairs one host's detector A state with the mutex that
// serializes concurrent Process calls for that host; Detector.Update is not
// itself safe for concurrent use.
type hostDetector struct {
	mu sync.Mutex
	d  *detector.Detector
}

// Pipeline fuses detector A (one instance per host, created lazily) and
// detector B (a shared, already-trained PCA model supplied per call) through
// an alerts.Manager.
type Pipeline struct {
	newDetector DetectorFactory
	alertMgr    *alerts.Manager

	mu        sync.Mutex
	detectors map[string]*hostDetector
}

// New builds a Pipeline. alertMgr is typically shared across every model and
// host in the process, since hysteresis/cooldown state is keyed by host ID
// alone.
func New(newDetector DetectorFactory, alertMgr *alerts.Manager) *Pipeline {
	return &Pipeline{
		newDetector: newDetector,
		alertMgr:    alertMgr,
		detectors:   make(map[string]*hostDetector),
	}
}

// Result is one sample's fused outcome: both detectors' raw scores plus any
// alert the fusion step emitted.
type Result struct {
	Stats detector.Score
	PCA   pca.Score
	Alert *models.Alert
}

func (p *Pipeline) detectorFor(hostID string) *hostDetector {
	p.mu.Lock()
	defer p.mu.Unlock()
	hd, ok := p.detectors[hostID]
	if !ok {
		hd = &hostDetector{d: p.newDetector()}
		p.detectors[hostID] = hd
	}
	return hd
}

// Process scores features against model (detector B), updates hostID's
// detector A baseline, and fuses both outputs through the alert manager.
// runID scopes the emitted alert to the dataset or generation run the
// sample came from.
func (p *Pipeline) Process(hostID, runID string, ts time.Time, features []float64, model *pca.Model) (Result, error) {
	pcaScore, err := model.Score(linalg.Vector(features))
	if err != nil {
		return Result{}, err
	}

	hd := p.detectorFor(hostID)
	hd.mu.Lock()
	statsScore := hd.d.Update(features)
	hd.mu.Unlock()

	alert := p.alertMgr.Evaluate(hostID, runID, ts,
		alerts.DetectorInput{Flag: statsScore.IsAnomaly, Score: statsScore.MaxZScore},
		alerts.DetectorInput{Flag: pcaScore.IsAnomaly, Score: pcaScore.ReconstructionError},
	)

	return Result{Stats: statsScore, PCA: pcaScore, Alert: alert}, nil
}
