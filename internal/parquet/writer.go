package parquet

import (
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// DefaultColumn is the geometry column written by GeometryWriter
const DefaultColumn = "geom_wkb"

// GeometrySchema is the layout written by GeometryWriter
var GeometrySchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: DefaultColumn, Type: arrow.BinaryTypes.Binary, Nullable: true},
}, nil)

func writerProperties() *parquet.WriterProperties {
	return parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
}

// GeometryWriter writes (id, EWKB) rows to Parquet
type GeometryWriter struct {
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
}

// NewGeometryWriter creates a new geometry Parquet writer
func NewGeometryWriter(path string, batchSize int) (*GeometryWriter, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writer, err := pqarrow.NewFileWriter(GeometrySchema, f, writerProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &GeometryWriter{
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, GeometrySchema),
		batchSize: batchSize,
	}, nil
}

// Write appends a row; a nil geometry is stored as null
func (w *GeometryWriter) Write(id int64, geom []byte) error {
	w.builder.Field(0).(*array.Int64Builder).Append(id)
	gb := w.builder.Field(1).(*array.BinaryBuilder)
	if geom == nil {
		gb.AppendNull()
	} else {
		gb.Append(geom)
	}

	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *GeometryWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Close flushes pending rows and closes the file
func (w *GeometryWriter) Close() error {
	defer w.builder.Release()
	if err := w.flush(); err != nil {
		w.writer.Close()
		return err
	}
	// FileWriter.Close also closes the underlying file
	return w.writer.Close()
}
