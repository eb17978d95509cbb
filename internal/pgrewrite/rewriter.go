// Package pgrewrite converts geometry columns of PostGIS tables between
// WGS84, GCJ02 and BD09 in bulk.
//
// Rows are read in keyset-ordered batches as EWKB, rewritten in place by a
// pool of workers and written back through COPY into a staging table
// followed by a single UPDATE per batch.
package pgrewrite

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/eviltransform-go/internal/config"
	"github.com/wegman-software/eviltransform-go/internal/logger"
	"github.com/wegman-software/eviltransform-go/internal/metrics"
	"github.com/wegman-software/eviltransform-go/internal/proj"
)

// Stats holds rewrite statistics for one job
type Stats struct {
	Rows    int64
	Tuples  int64
	Batches int64
	Route   string
}

// Rewriter runs jobs against one database
type Rewriter struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	counters *metrics.Counters
}

// NewRewriter connects to PostgreSQL. counters may be nil.
func NewRewriter(ctx context.Context, cfg *config.Config, counters *metrics.Counters) (*Rewriter, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	// one reader plus one writer per worker
	poolConfig.MaxConns = int32(cfg.Workers + 1)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if counters == nil {
		counters = &metrics.Counters{}
	}

	return &Rewriter{cfg: cfg, pool: pool, counters: counters}, nil
}

// Close closes all database connections
func (r *Rewriter) Close() {
	r.pool.Close()
}

// columnInfo is the geometry_columns entry of a job's column
type columnInfo struct {
	geomType string
	srid     int
	dims     int
	found    bool
}

// Run rewrites one column
func (r *Rewriter) Run(ctx context.Context, job Job) (*Stats, error) {
	job = r.withDefaults(job)
	log := logger.Get().With(zap.String("table", job.Table), zap.String("column", job.GeomColumn))

	col, err := r.columnInfo(ctx, job)
	if err != nil {
		return nil, err
	}

	if job.SourceSRID == 0 {
		if job.SourceSRID, err = r.detectSRID(ctx, job, col); err != nil {
			return nil, err
		}
	}

	route, err := proj.Plan(job.SourceSRID, job.TargetSRID)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := r.pool.QueryRow(ctx, countSQL(job)).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	if len(route.Steps) > 0 {
		if err := r.logSkipped(ctx, job, log); err != nil {
			return nil, err
		}
	}

	log.Info("Rewrite plan",
		zap.Int("from", job.SourceSRID),
		zap.Int("to", job.TargetSRID),
		zap.Stringer("route", route),
		zap.Bool("local", route.Local()),
		zap.Int64("rows", total),
	)

	stats := &Stats{Route: route.String()}
	if r.cfg.DryRun || len(route.Steps) == 0 {
		stats.Rows = total
		return stats, nil
	}

	// A typmod pinned to the source SRID would reject rewritten rows
	constrained := col.found && col.srid != 0 && col.srid != job.TargetSRID
	if constrained {
		if _, err := r.pool.Exec(ctx, relaxColumnSQL(job)); err != nil {
			return nil, fmt.Errorf("failed to relax column type: %w", err)
		}
	}

	_, evil, _ := route.Split()
	if len(evil) == 0 {
		tag, err := r.pool.Exec(ctx, reprojectSQL(job))
		if err != nil {
			return nil, fmt.Errorf("reprojection failed: %w", err)
		}
		stats.Rows = tag.RowsAffected()
		stats.Batches = 1
	} else if err := r.runBatches(ctx, job, route, total, stats); err != nil {
		if constrained {
			log.Warn("Column left without SRID constraint after failure")
		}
		return nil, err
	}

	if constrained {
		if _, err := r.pool.Exec(ctx, restrictColumnSQL(job, typmodName(col.geomType, col.dims))); err != nil {
			return nil, fmt.Errorf("failed to restore column type: %w", err)
		}
	}

	log.Info("Rewrite complete",
		zap.Int64("rows", stats.Rows),
		zap.Int64("tuples", stats.Tuples),
		zap.Int64("batches", stats.Batches),
	)
	return stats, nil
}

func (r *Rewriter) withDefaults(job Job) Job {
	if job.Schema == "" {
		job.Schema = r.cfg.DBSchema
	}
	if job.KeyColumn == "" {
		job.KeyColumn = "id"
	}
	if job.GeomColumn == "" {
		job.GeomColumn = "geom"
	}
	return job
}

func (r *Rewriter) columnInfo(ctx context.Context, job Job) (columnInfo, error) {
	var ci columnInfo
	err := r.pool.QueryRow(ctx, columnTypeSQL, job.Schema, job.Table, job.GeomColumn).
		Scan(&ci.geomType, &ci.srid, &ci.dims)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return columnInfo{}, fmt.Errorf("no geometry column %s.%s.%s", job.Schema, job.Table, job.GeomColumn)
	case err != nil:
		return columnInfo{}, fmt.Errorf("failed to read geometry_columns: %w", err)
	}
	ci.found = true
	return ci, nil
}

func (r *Rewriter) detectSRID(ctx context.Context, job Job, col columnInfo) (int, error) {
	if col.srid != 0 {
		return col.srid, nil
	}
	var srid int
	err := r.pool.QueryRow(ctx, sampleSRIDSQL(job)).Scan(&srid)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, fmt.Errorf("cannot detect SRID of %s: no rows outside SRID %d", job.Table, job.TargetSRID)
	case err != nil:
		return 0, fmt.Errorf("failed to detect SRID: %w", err)
	case srid == 0:
		return 0, fmt.Errorf("cannot detect SRID of %s: geometries have SRID 0, pass it explicitly", job.Table)
	}
	return srid, nil
}

// logSkipped reports the rows the job filter leaves untouched
func (r *Rewriter) logSkipped(ctx context.Context, job Job, log *zap.Logger) error {
	var converted, foreign int64
	if err := r.pool.QueryRow(ctx, sridCensusSQL(job)).Scan(&converted, &foreign); err != nil {
		return fmt.Errorf("failed to count skipped rows: %w", err)
	}
	if converted > 0 {
		log.Info("Skipping rows already in the target SRID",
			zap.Int64("rows", converted), zap.Int("srid", job.TargetSRID))
	}
	if foreign > 0 {
		log.Warn("Rows with an unexpected SRID are left untouched",
			zap.Int64("rows", foreign),
			zap.Int("from", job.SourceSRID),
			zap.Int("to", job.TargetSRID),
		)
	}
	return nil
}

// batch is one keyset page of rows
type batch struct {
	keys  []any
	geoms [][]byte
}

// batchPlan splits a route between PostGIS and the workers
type batchPlan struct {
	readTransform  int // ST_Transform target on read, 0 for none
	writeTransform int // ST_Transform target on write, 0 for none
	local          proj.Route
}

func newBatchPlan(route proj.Route) batchPlan {
	pre, evil, post := route.Split()
	p := batchPlan{}
	local := proj.Route{Src: route.Src, Dst: route.Dst}

	if pre != nil {
		if pre.Local() {
			local.Steps = append(local.Steps, *pre)
		} else {
			p.readTransform = pre.To
			local.Src = pre.To
		}
	}
	local.Steps = append(local.Steps, evil...)
	if post != nil {
		if post.Local() {
			local.Steps = append(local.Steps, *post)
		} else {
			p.writeTransform = post.To
			local.Dst = post.From
		}
	}
	p.local = local
	return p
}

func (r *Rewriter) runBatches(ctx context.Context, job Job, route proj.Route, total int64, stats *Stats) error {
	log := logger.Get()
	plan := newBatchPlan(route)
	tracker := metrics.NewProgressTracker(total, job.Table)

	var rows, tuples, batches atomic.Int64
	lastReport := time.Now()
	var reportMu atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	pages := make(chan *batch, r.cfg.Workers)

	g.Go(func() error {
		defer close(pages)
		return r.readBatches(gctx, job, plan.readTransform, pages)
	})

	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for b := range pages {
				n, err := transformBatch(b, plan.local)
				if err != nil {
					return err
				}
				if err := r.writeBatch(gctx, job, plan.writeTransform, b); err != nil {
					return err
				}

				done := rows.Add(int64(len(b.keys)))
				tuples.Add(n)
				batches.Add(1)
				r.counters.AddBatch(int64(len(b.keys)), n)

				// one reporter at a time, at most every few seconds
				if reportMu.CompareAndSwap(false, true) {
					if time.Since(lastReport) > 5*time.Second {
						p := tracker.Calculate(done)
						log.Info("Rewrite progress",
							zap.String("table", job.Table),
							zap.Int64("rows", done),
							zap.Float64("pct", p.Percentage),
							zap.String("rate", metrics.FormatThroughput(p.Throughput)),
							zap.String("eta", metrics.FormatETA(p.ETA)),
						)
						lastReport = time.Now()
					}
					reportMu.Store(false)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	stats.Rows = rows.Load()
	stats.Tuples = tuples.Load()
	stats.Batches = batches.Load()
	return err
}

func (r *Rewriter) readBatches(ctx context.Context, job Job, transformTo int, out chan<- *batch) error {
	var last any
	first := true

	for {
		var rows pgx.Rows
		var err error
		if first {
			rows, err = r.pool.Query(ctx, batchSQL(job, transformTo, true), r.cfg.BatchSize)
		} else {
			rows, err = r.pool.Query(ctx, batchSQL(job, transformTo, false), last, r.cfg.BatchSize)
		}
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}

		b := &batch{
			keys:  make([]any, 0, r.cfg.BatchSize),
			geoms: make([][]byte, 0, r.cfg.BatchSize),
		}
		for rows.Next() {
			var key any
			var geom []byte
			if err := rows.Scan(&key, &geom); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan row: %w", err)
			}
			b.keys = append(b.keys, key)
			b.geoms = append(b.geoms, geom)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}

		if len(b.keys) == 0 {
			return nil
		}
		last = b.keys[len(b.keys)-1]
		first = false

		select {
		case out <- b:
		case <-ctx.Done():
			return ctx.Err()
		}

		if len(b.keys) < r.cfg.BatchSize {
			return nil
		}
	}
}

// transformBatch runs the local steps over every geometry of b and
// returns the number of coordinate tuples visited
func transformBatch(b *batch, local proj.Route) (int64, error) {
	var tuples int64
	for i, g := range b.geoms {
		out, st, err := local.Apply(g)
		if err != nil {
			return tuples, fmt.Errorf("row %v: %w", b.keys[i], err)
		}
		b.geoms[i] = out
		tuples += int64(st.Tuples)
	}
	return tuples, nil
}

func (r *Rewriter) writeBatch(ctx context.Context, job Job, transformTo int, b *batch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, createTempSQL(job)); err != nil {
		return fmt.Errorf("failed to create temp table: %w", err)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, []string{"k", "geom"}, newRowSource(b)); err != nil {
		return fmt.Errorf("COPY failed: %w", err)
	}

	if _, err := tx.Exec(ctx, updateSQL(job, transformTo)); err != nil {
		return fmt.Errorf("failed to update from temp table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// rowSource implements pgx.CopyFromSource over a batch
type rowSource struct {
	b   *batch
	idx int
}

func newRowSource(b *batch) *rowSource {
	return &rowSource{b: b, idx: -1}
}

func (r *rowSource) Next() bool {
	r.idx++
	return r.idx < len(r.b.keys)
}

func (r *rowSource) Values() ([]any, error) {
	return []any{r.b.keys[r.idx], r.b.geoms[r.idx]}, nil
}

func (r *rowSource) Err() error {
	return nil
}
