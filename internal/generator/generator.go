// Package generator produces synthetic host telemetry for a generation run:
// per-host mutable profiles (baseline levels, phase shift, in-progress
// anomaly bursts), diurnal/weekly seasonality, and injected anomaly types
// layered on top. The Generator/HostProfile split follows a heartbeat-driven
// streaming idiom shared with internal/trainer and internal/scorer, so
// generation is cancellable and bounded in memory like every other
// long-running job. The exact statistical formulas are a structural
// contract only; producing plausible, internally-consistent telemetry
// matters here, not matching any particular reference distribution.
package generator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/kubilitics/anomaly-platform/internal/models"
)

// DefaultBatchSize is the archival insert batch size when Config.BatchSize
// is left zero.
const DefaultBatchSize = 5000

// AnomalyConfig tunes injected-anomaly rates and durations. Zero values
// disable the corresponding anomaly type.
type AnomalyConfig struct {
	CollectiveRate         float64
	BurstDurationPoints    int
	CorrelationBreakRate   float64
	ContextualRate         float64
	PointRate              float64
}

// Config describes one generation run's shape.
type Config struct {
	RunID           string
	Tier            string
	HostCount       int
	Regions         []string
	StartTime       time.Time
	EndTime         time.Time
	IntervalSeconds int
	Seed            int64
	FixedLagMs      int
	Anomaly         AnomalyConfig
	BatchSize       int
}

func (c Config) withDefaults() Config {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 600
	}
	if c.FixedLagMs == 0 {
		c.FixedLagMs = 2000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if len(c.Regions) == 0 {
		c.Regions = []string{"us-east1", "us-west1", "eu-west1"}
	}
	return c
}

// HostProfile is the mutable per-host generator state: baseline levels that
// never change after InitializeHosts, plus burst/correlation-break counters
// that evolve record by record. Owned exclusively by one Generator/run; it
// is never shared across concurrent generation jobs.
type HostProfile struct {
	HostID    string
	ProjectID string
	Region    string

	cpuBase      float64
	memBase      float64
	phaseShift   float64

	burstRemaining             int
	correlationBreakRemaining  int
	correlationBroken          bool
}

// Sink persists a batch of generated records and reports progress. Callers
// typically wire this to internal/repository.BatchInsertTelemetry plus
// UpdateRunStatus.
type Sink interface {
	InsertBatch(ctx context.Context, records []models.TelemetryRecord) error
	UpdateProgress(ctx context.Context, insertedRows int64) error
}

// Generator streams synthetic telemetry for one run, holding per-host
// mutable profiles for the run's lifetime.
type Generator struct {
	cfg   Config
	sink  Sink
	hosts []HostProfile
	rng   *rand.Rand

	nextRecordID int64
}

// New builds a Generator for cfg, to be driven by Run.
func New(cfg Config, sink Sink) *Generator {
	cfg = cfg.withDefaults()
	return &Generator{
		cfg: cfg,
		sink: sink,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// InitializeHosts assigns each host a region (round-robin over cfg.Regions),
// a correlated CPU/memory baseline, and a random seasonality phase shift.
// Seeded deterministically by cfg.Seed.
func (g *Generator) InitializeHosts() {
	g.hosts = make([]HostProfile, g.cfg.HostCount)
	for i := range g.hosts {
		cpuBase := 10.0 + g.rng.Float64()*50.0
		g.hosts[i] = HostProfile{
			HostID:     fmt.Sprintf("host-%s-%d", g.cfg.Tier, i),
			ProjectID:  "proj-" + g.cfg.Tier,
			Region:     g.cfg.Regions[i%len(g.cfg.Regions)],
			cpuBase:    cpuBase,
			memBase:    cpuBase*0.8 + 10.0,
			phaseShift: g.rng.Float64() * 2 * math.Pi,
		}
	}
}

// GenerateRecord produces one telemetry sample for host at ts, mutating
// host's burst/correlation-break counters in place: the collective-burst and
// correlation-break anomaly types are stateful runs of points, not
// independent per-point draws.
func (g *Generator) GenerateRecord(host *HostProfile, ts time.Time) models.TelemetryRecord {
	hours := float64(ts.Unix()) / 3600.0
	daily := 10.0 * math.Sin(2*math.Pi*hours/24.0+host.phaseShift)
	weekly := 5.0 * math.Sin(2*math.Pi*hours/168.0)
	noise := (g.rng.Float64() - 0.5) * 20.0

	cpu := host.cpuBase + daily + weekly + noise

	var isAnomaly bool
	var anomalyTypes []string
	p := g.rng.Float64()

	ac := g.cfg.Anomaly
	if host.burstRemaining > 0 {
		host.burstRemaining--
		cpu += 40.0
		isAnomaly = true
		anomalyTypes = append(anomalyTypes, "COLLECTIVE_BURST")
	} else if ac.CollectiveRate > 0 && p < ac.CollectiveRate {
		host.burstRemaining = ac.BurstDurationPoints
		if host.burstRemaining == 0 {
			host.burstRemaining = 5
		}
		cpu += 40.0
		isAnomaly = true
		anomalyTypes = append(anomalyTypes, "COLLECTIVE_BURST")
	}

	if host.correlationBreakRemaining > 0 {
		host.correlationBreakRemaining--
		host.correlationBroken = true
		isAnomaly = true
		anomalyTypes = append(anomalyTypes, "CORRELATION_BREAK")
	} else if ac.CorrelationBreakRate > 0 && p < ac.CorrelationBreakRate {
		host.correlationBreakRemaining = 5
		host.correlationBroken = true
		isAnomaly = true
		anomalyTypes = append(anomalyTypes, "CORRELATION_BREAK")
	} else {
		host.correlationBroken = false
	}

	hourOfDay := int(hours) % 24
	if ac.ContextualRate > 0 {
		pCtx := g.rng.Float64()
		if hourOfDay >= 1 && hourOfDay <= 5 && pCtx < ac.ContextualRate {
			cpu = 90.0 + g.rng.Float64()*10.0
			isAnomaly = true
			anomalyTypes = append(anomalyTypes, "CONTEXTUAL")
		}
	}

	if ac.PointRate > 0 && p < ac.PointRate {
		cpu += 50.0
		isAnomaly = true
		anomalyTypes = append(anomalyTypes, "POINT_SPIKE")
	}

	cpu = clamp(cpu, 0, 100)

	var mem float64
	if host.correlationBroken {
		mem = clamp(100.0-cpu+noise, 0, 100)
	} else {
		mem = clamp(cpu*0.7+20.0+(g.rng.Float64()-0.5)*5.0, 0, 100)
	}

	disk := 30.0 + (g.rng.Float64()-0.5)*10.0
	rx := math.Max(0, 10.0+daily/2.0+g.rng.Float64()*10.0)
	var tx float64
	if host.correlationBroken {
		tx = 1.0
		rx += 50.0
	} else {
		tx = rx*0.8 + g.rng.Float64()*5.0
	}

	lag := time.Duration(g.cfg.FixedLagMs+g.rng.Intn(500)) * time.Millisecond

	g.nextRecordID++
	rec := models.TelemetryRecord{
		RecordID:        g.nextRecordID,
		RunID:           g.cfg.RunID,
		HostID:          host.HostID,
		ProjectID:       host.ProjectID,
		Region:          host.Region,
		MetricTimestamp: ts,
		IngestionTime:   ts.Add(lag),
		CPUUsage:        cpu,
		MemoryUsage:     mem,
		DiskUtilization: disk,
		NetworkRxRate:   rx,
		NetworkTxRate:   tx,
		IsAnomaly:       isAnomaly,
	}
	if len(anomalyTypes) > 0 {
		joined := joinComma(anomalyTypes)
		rec.AnomalyType = &joined
	}
	return rec
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func joinComma(ss []string) string {
	out := ss[0]
	for _, s := range ss[1:] {
		out += "," + s
	}
	return out
}

// Run streams records for every (timestamp, host) pair between cfg.StartTime
// and cfg.EndTime at cfg.IntervalSeconds resolution, flushing a batch to the
// sink every BatchSize records. cancel is polled once per timestamp, before
// that timestamp's hosts are generated; on cancellation the pending partial
// batch is flushed and Run returns, so a cancelled run stops on a timestamp
// boundary, never partway through one timestamp's hosts.
func (g *Generator) Run(ctx context.Context, cancel *atomic.Bool) error {
	g.InitializeHosts()

	interval := time.Duration(g.cfg.IntervalSeconds) * time.Second
	var total int64
	batch := make([]models.TelemetryRecord, 0, g.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := g.sink.InsertBatch(ctx, batch); err != nil {
			return err
		}
		total += int64(len(batch))
		if err := g.sink.UpdateProgress(ctx, total); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for t := g.cfg.StartTime; t.Before(g.cfg.EndTime); t = t.Add(interval) {
		if cancel.Load() {
			return flush()
		}
		for i := range g.hosts {
			batch = append(batch, g.GenerateRecord(&g.hosts[i], t))
			if len(batch) >= g.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}
