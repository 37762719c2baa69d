// Package dbpool implements a bounded database-connection pool with queue
// semantics, an acquire timeout, and an optional per-connection initializer.
// It wraps *sqlx.Conn handles obtained from a jmoiron/sqlx DB so callers still
// get sqlx's query helpers on every acquired handle.
package dbpool

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kubilitics/anomaly-platform/internal/apierr"
)

// Initializer runs once on every freshly opened connection (e.g. to set a
// session-level statement_timeout).
type Initializer func(ctx context.Context, conn *sqlx.Conn) error

// Stats is the pool's observability surface, reported by /health.
type Stats struct {
	PoolSize       int
	InUse          int
	Available      int
	TotalAcquires  int64
	TotalTimeouts  int64
	TotalWaitNanos int64
}

// Pool is a bounded pool of *sqlx.Conn handles.
type Pool struct {
	db             *sqlx.DB
	poolSize       int
	acquireTimeout time.Duration
	initializer    Initializer

	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*sqlx.Conn
	inUse    int
	shutdown bool

	totalAcquires  int64
	totalTimeouts  int64
	totalWaitNanos int64
}

// New builds a Pool of at most poolSize concurrently in-use connections
// against db. The underlying db's own max-open-connections limit is set to
// poolSize so this pool's accounting is authoritative.
func New(db *sqlx.DB, poolSize int, acquireTimeout time.Duration, initializer Initializer) *Pool {
	db.SetMaxOpenConns(poolSize)
	p := &Pool{
		db:             db,
		poolSize:       poolSize,
		acquireTimeout: acquireTimeout,
		initializer:    initializer,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Handle is an owned pool connection. Release must be called exactly once.
type Handle struct {
	conn *sqlx.Conn
	pool *Pool
}

// Conn returns the underlying *sqlx.Conn for query execution.
func (h *Handle) Conn() *sqlx.Conn { return h.conn }

// Release returns the connection to the pool. Pass healthy=false to drop a
// connection that errored rather than recycling it.
func (h *Handle) Release(healthy bool) {
	h.pool.release(h.conn, healthy)
}

// Get acquires a connection, blocking until one is idle, a new one can be
// opened, or acquireTimeout elapses (failing with POOL_TIMEOUT).
func (p *Pool) Get(ctx context.Context) (*Handle, error) {
	start := time.Now()
	deadline := start.Add(p.acquireTimeout)

	stop := make(chan struct{})
	timer := time.AfterFunc(p.acquireTimeout, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer func() {
		timer.Stop()
		close(stop)
	}()
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-stop:
			}
		}()
	}

	p.mu.Lock()
	for {
		if p.shutdown {
			p.mu.Unlock()
			return nil, apierr.New(apierr.KindPoolTimeout, "connection pool is shutting down")
		}

		if n := len(p.idle); n > 0 {
			conn := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.inUse++
			p.recordAcquire(start)
			p.mu.Unlock()
			return &Handle{conn: conn, pool: p}, nil
		}

		if p.inUse < p.poolSize {
			p.mu.Unlock()
			conn, err := p.openAndInit(ctx)
			if err != nil {
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
				return nil, err
			}
			p.mu.Lock()
			p.inUse++
			p.recordAcquire(start)
			p.mu.Unlock()
			return &Handle{conn: conn, pool: p}, nil
		}

		if time.Now().After(deadline) || ctx.Err() != nil {
			p.totalTimeouts++
			p.mu.Unlock()
			return nil, apierr.New(apierr.KindPoolTimeout, "timed out acquiring db connection after %s", p.acquireTimeout)
		}

		p.cond.Wait()
	}
}

func (p *Pool) recordAcquire(start time.Time) {
	p.totalAcquires++
	p.totalWaitNanos += time.Since(start).Nanoseconds()
}

func (p *Pool) openAndInit(ctx context.Context) (*sqlx.Conn, error) {
	conn, err := p.db.Connx(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "open db connection")
	}
	if p.initializer != nil {
		if err := p.initializer(ctx, conn); err != nil {
			conn.Close()
			return nil, apierr.Wrap(apierr.KindDBQueryFailed, err, "initialize db connection")
		}
	}
	return conn, nil
}

func (p *Pool) release(conn *sqlx.Conn, healthy bool) {
	p.mu.Lock()
	p.inUse--

	if p.shutdown || !healthy || conn.PingContext(context.Background()) != nil {
		p.mu.Unlock()
		conn.Close()
		p.cond.Signal()
		return
	}

	p.idle = append(p.idle, conn)
	p.mu.Unlock()
	p.cond.Signal()
}

// Shutdown marks the pool closed, drains idle connections, and wakes any
// blocked acquisitions so they fail immediately.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	idle := p.idle
	p.idle = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
}

// GetStats returns a snapshot of pool observability counters.
func (p *Pool) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		PoolSize:       p.poolSize,
		InUse:          p.inUse,
		Available:      len(p.idle),
		TotalAcquires:  p.totalAcquires,
		TotalTimeouts:  p.totalTimeouts,
		TotalWaitNanos: p.totalWaitNanos,
	}
}
