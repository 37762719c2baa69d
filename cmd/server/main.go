package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/kubilitics/anomaly-platform/internal/alerts"
	"github.com/kubilitics/anomaly-platform/internal/api/middleware"
	"github.com/kubilitics/anomaly-platform/internal/api/rest"
	"github.com/kubilitics/anomaly-platform/internal/config"
	"github.com/kubilitics/anomaly-platform/internal/dbpool"
	"github.com/kubilitics/anomaly-platform/internal/detector"
	"github.com/kubilitics/anomaly-platform/internal/jobs"
	"github.com/kubilitics/anomaly-platform/internal/modelcache"
	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/kubilitics/anomaly-platform/internal/pkg/logger"
	"github.com/kubilitics/anomaly-platform/internal/pkg/tracing"
	"github.com/kubilitics/anomaly-platform/internal/repository"
	"github.com/kubilitics/anomaly-platform/internal/streaming"
	"github.com/kubilitics/anomaly-platform/migrations"
)

func main() {
	log.Println("starting anomaly-platform server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	slogger := logger.StdLogger()

	shutdownTracing, err := tracing.Init(cfg.TracingServiceName, cfg.TracingEndpoint, cfg.TracingSamplingRate)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer shutdownTracing()

	repo, db, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer repo.Close()
	log.Printf("database ready: driver=%s", cfg.DatabaseDriver)

	pool := dbpool.New(db, cfg.PoolSize, cfg.PoolAcquireTimeout(), nil)

	modelCache, err := modelcache.New(modelcache.Options{
		MaxEntries: cfg.ModelCacheMaxEntries,
		MaxBytes:   cfg.ModelCacheMaxBytes,
		TTL:        cfg.ModelCacheTTL(),
	})
	if err != nil {
		log.Fatalf("failed to initialize model cache: %v", err)
	}

	jobMgr := jobs.NewManager(cfg.MaxConcurrentJobs, buildStatusUpdater(repo), slogger)

	reconciler := jobs.NewReconciler(repo, cfg.ReconcileStaleTTL(), cfg.ReconcileInterval(), slogger)
	if err := reconciler.ReconcileStartup(ctx); err != nil {
		log.Printf("warning: startup job reconciliation failed: %v", err)
	}
	reconciler.Start(ctx)
	defer reconciler.Stop()

	retentionSweeper := jobs.NewRetentionSweeper(repo, cfg.RetentionDays, cfg.RetentionInterval(), slogger)
	retentionSweeper.Start(ctx)
	defer retentionSweeper.Stop()

	alertMgr := alerts.NewManager(cfg.AlertHysteresisThreshold, cfg.AlertCooldown())
	pipeline := streaming.New(func() *detector.Detector {
		return detector.New(models.Features[:], detector.WindowConfig{
			Size:              cfg.DetectorWindowSize,
			MinHistory:        cfg.DetectorMinHistory,
			RecomputeInterval: cfg.DetectorRecomputeInterval,
		}, detector.OutlierConfig{
			EnablePoisonMitigation: cfg.DetectorPoisonMitigation,
			PoisonSkipThreshold:    cfg.DetectorPoisonSkipThreshold,
			RobustZThreshold:       cfg.DetectorRobustZThreshold,
		})
	}, alertMgr)

	handler := rest.NewHandler(repo, jobMgr, modelCache, cfg, slogger, pipeline)

	var actualPort int
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		body := map[string]interface{}{
			"status":     "healthy",
			"service":    "anomaly-platform",
			"version":    "1.0.0",
			"db_driver":  cfg.DatabaseDriver,
			"pool_stats": pool.GetStats(),
		}
		if actualPort != 0 {
			body["port"] = actualPort
		}
		_ = json.NewEncoder(w).Encode(body)
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	rest.SetupRoutes(apiRouter, handler)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	})

	router.Use(middleware.SecureHeaders)
	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog)
	router.Use(middleware.Tracing)
	router.Use(middleware.MaxBodySize(middleware.DefaultStandardMaxBodyBytes, middleware.DefaultInferenceMaxBodyBytes))
	router.Use(recoveryMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handlerWithCORS := c.Handler(router)

	maxPort := cfg.Port + 99
	if maxPort > 8199 {
		maxPort = 8199
	}
	var listener net.Listener
	for port := cfg.Port; port <= maxPort; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			var errno *syscall.Errno
			if errors.As(err, &errno) && *errno == syscall.EADDRINUSE {
				continue
			}
			log.Fatalf("failed to listen: %v", err)
		}
		listener = l
		actualPort = port
		break
	}
	if listener == nil {
		log.Fatalf("no port available in range %d..%d", cfg.Port, maxPort)
	}
	defer listener.Close()

	srv := &http.Server{
		Handler:      handlerWithCORS,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on http://localhost:%d", actualPort)
		log.Printf("api available at http://localhost:%d/api/v1", actualPort)
		log.Printf("health check at http://localhost:%d/health", actualPort)
		log.Printf("metrics at http://localhost:%d/metrics", actualPort)

		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")

	jobMgr.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: server forced to shutdown: %v", err)
	}

	log.Println("server exited gracefully")
}

// openRepository constructs the configured backend, applies its embedded
// schema, and returns the underlying *sqlx.DB alongside it so callers can
// layer internal/dbpool on top independently of the Repository interface.
// Every migration statement uses IF NOT EXISTS, so re-running it on an
// already-migrated database is safe.
func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, *sqlx.DB, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		repo, err := repository.NewSQLiteRepository(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		sql, err := migrations.SQLite.ReadFile("sqlite/0001_init.sql")
		if err != nil {
			return nil, nil, fmt.Errorf("read embedded sqlite migration: %w", err)
		}
		if err := repo.RunMigrations(ctx, string(sql)); err != nil {
			return nil, nil, err
		}
		return repo, repo.DB(), nil
	case "postgres", "":
		repo, err := repository.NewPostgresRepository(ctx, cfg.DatabaseDSN, cfg.PoolSize, cfg.PoolSize)
		if err != nil {
			return nil, nil, err
		}
		sql, err := migrations.Postgres.ReadFile("postgres/0001_init.sql")
		if err != nil {
			return nil, nil, fmt.Errorf("read embedded postgres migration: %w", err)
		}
		if err := repo.RunMigrations(ctx, string(sql)); err != nil {
			return nil, nil, err
		}
		return repo, repo.DB(), nil
	default:
		return nil, nil, fmt.Errorf("unknown database_driver %q", cfg.DatabaseDriver)
	}
}

// buildStatusUpdater returns the jobs.Manager StatusUpdater, which receives
// the generic PENDING->RUNNING transition every tracked job goes through at
// start and the terminal status the manager derives when the job's Work
// returns. Generation runs get their terminal status only from here, with
// the inserted row count re-read from the row. Training runs record
// COMPLETED themselves (artifact path or best-trial reference), so only
// FAILED and CANCELLED are written here for them. internal/scorer.Run
// records its own RUNNING, CANCELLED and COMPLETED states with row counts;
// a scoring failure is written here as FAILED. The updater probes each of
// the three job tables in turn since it only has a bare job ID to go on.
func buildStatusUpdater(repo repository.Repository) jobs.StatusUpdater {
	return func(ctx context.Context, jobID string, status models.Status, errMsg string) error {
		if run, err := repo.GetRunStatus(ctx, jobID); err == nil {
			return repo.UpdateRunStatus(ctx, jobID, status, run.InsertedRows, errMsg)
		}
		if mr, err := repo.GetModelRun(ctx, jobID); err == nil {
			if status == models.StatusCompleted {
				// runSingleFit/runHPOSweep already recorded the terminal state
				// (artifact path, or best-trial reference) themselves.
				return nil
			}
			path := ""
			if mr.ArtifactPath != nil {
				path = *mr.ArtifactPath
			}
			return repo.UpdateModelRunStatus(ctx, jobID, status, path, errMsg)
		}
		if job, err := repo.GetScoreJob(ctx, jobID); err == nil {
			// internal/scorer.Run records every other transition itself, with
			// row counts; a failed run returns its error without writing it.
			if status != models.StatusFailed {
				return nil
			}
			var total int64
			if job.TotalRows != nil {
				total = *job.TotalRows
			}
			return repo.UpdateScoreJob(ctx, jobID, status, total, job.ProcessedRows, job.LastRecordID, errMsg)
		}
		return nil
	}
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("panic recovered: %v", err)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
