// Package parquet reads and writes geometry columns stored as EWKB in
// Parquet files and converts them between coordinate systems.
package parquet

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/eviltransform-go/internal/ewkb"
	"github.com/wegman-software/eviltransform-go/internal/logger"
	"github.com/wegman-software/eviltransform-go/internal/metrics"
	"github.com/wegman-software/eviltransform-go/internal/proj"
)

// Options controls a file rewrite
type Options struct {
	// Column holds the EWKB geometries; defaults to DefaultColumn
	Column string
	Route  proj.Route
	// BatchSize is the number of rows per record batch read
	BatchSize int64
	Workers   int
	// Counters, if set, receive per-batch progress
	Counters *metrics.Counters
}

// Stats holds rewrite statistics
type Stats struct {
	Rows    int64
	Nulls   int64
	Tuples  int64
	Batches int64
}

// Rewrite copies in to out, converting the geometry column through
// opts.Route. Every other column is written unchanged. Geometries without
// an SRID keep their plain WKB header.
func Rewrite(ctx context.Context, in, out string, opts Options) (*Stats, error) {
	if opts.Column == "" {
		opts.Column = DefaultColumn
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64 * 1024
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if !opts.Route.Local() {
		return nil, fmt.Errorf("route %s cannot run outside PostGIS", opts.Route)
	}

	log := logger.Get()

	f, err := os.Open(in)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: opts.BatchSize}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create record reader: %w", err)
	}
	defer rr.Release()

	schema := rr.Schema()
	idx, err := geometryColumn(schema, opts.Column)
	if err != nil {
		return nil, err
	}

	// out only appears once every row converted
	tmp := out + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	w, err := pqarrow.NewFileWriter(schema, dst, writerProperties(), pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		dst.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	fail := func(err error) (*Stats, error) {
		w.Close()
		os.Remove(tmp)
		return nil, err
	}

	log.Info("Rewriting parquet file",
		zap.String("input", in),
		zap.String("output", out),
		zap.String("column", opts.Column),
		zap.Stringer("route", opts.Route),
		zap.Int64("rows", pf.NumRows()),
	)

	stats := &Stats{}
	tracker := metrics.NewProgressTracker(pf.NumRows(), in)

	for rr.Next() {
		rec := rr.Record()
		next, s, err := rewriteRecord(ctx, rec, idx, stats.Rows, opts)
		if err != nil {
			return fail(err)
		}
		err = w.Write(next)
		next.Release()
		if err != nil {
			return fail(fmt.Errorf("failed to write record batch: %w", err))
		}

		stats.Rows += s.Rows
		stats.Nulls += s.Nulls
		stats.Tuples += s.Tuples
		stats.Batches++
		if opts.Counters != nil {
			opts.Counters.AddBatch(s.Rows, s.Tuples)
		}

		p := tracker.Calculate(stats.Rows)
		log.Debug("Record batch rewritten",
			zap.Int64("rows", stats.Rows),
			zap.Float64("pct", p.Percentage),
			zap.String("rate", metrics.FormatThroughput(p.Throughput)),
		)
	}
	if err := rr.Err(); err != nil {
		return fail(fmt.Errorf("failed to read record batch: %w", err))
	}

	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to move output into place: %w", err)
	}
	return stats, nil
}

func geometryColumn(schema *arrow.Schema, name string) (int, error) {
	indices := schema.FieldIndices(name)
	if len(indices) == 0 {
		return 0, fmt.Errorf("column %q not found", name)
	}
	idx := indices[0]
	if t := schema.Field(idx).Type.ID(); t != arrow.BINARY {
		return 0, fmt.Errorf("column %q has type %s, want binary", name, schema.Field(idx).Type)
	}
	return idx, nil
}

// rewriteRecord returns a new record whose geometry column holds rewritten
// copies. The source buffers are never written to. first is the file row
// of the record's first row, used in errors.
func rewriteRecord(ctx context.Context, rec arrow.Record, idx int, first int64, opts Options) (arrow.Record, Stats, error) {
	col := rec.Column(idx).(*array.Binary)
	n := col.Len()
	out := make([][]byte, n)
	tuples := make([]int64, opts.Workers)

	g, _ := errgroup.WithContext(ctx)
	chunk := (n + opts.Workers - 1) / opts.Workers
	for wi := 0; wi < opts.Workers; wi++ {
		lo, hi := wi*chunk, min((wi+1)*chunk, n)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if col.IsNull(i) {
					continue
				}
				geom, st, err := rewriteGeometry(col.Value(i), opts.Route)
				if err != nil {
					return fmt.Errorf("row %d: %w", first+int64(i), err)
				}
				out[i] = geom
				tuples[wi] += int64(st.Tuples)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}

	b := array.NewBinaryBuilder(memory.DefaultAllocator, arrow.BinaryTypes.Binary)
	defer b.Release()
	b.Reserve(n)

	var s Stats
	for i := 0; i < n; i++ {
		if col.IsNull(i) {
			b.AppendNull()
			s.Nulls++
			continue
		}
		b.Append(out[i])
	}
	s.Rows = int64(n)
	for _, t := range tuples {
		s.Tuples += t
	}

	geoms := b.NewArray()
	defer geoms.Release()

	cols := make([]arrow.Array, rec.NumCols())
	copy(cols, rec.Columns())
	cols[idx] = geoms
	return array.NewRecord(rec.Schema(), cols, rec.NumRows()), s, nil
}

func rewriteGeometry(src []byte, route proj.Route) ([]byte, ewkb.Stats, error) {
	buf := bytes.Clone(src)
	h, err := ewkb.ReadHeader(buf)
	if err != nil {
		return nil, ewkb.Stats{}, err
	}
	if !h.HasSRID {
		st, err := route.Rewrite(buf)
		return buf, st, err
	}
	return route.Apply(buf)
}
