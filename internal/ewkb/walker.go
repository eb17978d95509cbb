// Package ewkb rewrites the coordinates of (E)WKB geometries in place.
//
// The walker only ever overwrites the 8-byte X and Y slots of coordinate
// tuples. Byte order markers, type words, SRIDs, counts and Z/M ordinates
// are read (or skipped) and left exactly as they were.
package ewkb

import (
	"encoding/binary"

	"github.com/wegman-software/eviltransform-go/internal/coord"
)

// EWKB type word flags (PostGIS extended WKB)
const (
	flagZ    uint32 = 0x80000000
	flagM    uint32 = 0x40000000
	flagSRID uint32 = 0x20000000

	typeMask uint32 = 0x0000FFFF
)

// Byte order markers
const (
	markerBigEndian    byte = 0
	markerLittleEndian byte = 1
)

// category groups base type codes that share a payload layout
type category int

const (
	categoryUnknown category = iota
	categoryPoint
	categoryPointArray
	categoryRingList
	categoryCollection
)

// categoryOf is the single dispatch table from base type code to layout
func categoryOf(code uint32) category {
	switch code {
	case 1:
		return categoryPoint
	case 2, 8, 13:
		// LineString, CircularString, Curve
		return categoryPointArray
	case 3, 17:
		// Polygon, Triangle
		return categoryRingList
	case 4, 5, 6, 7, 9, 10, 11, 12, 14, 15, 16:
		return categoryCollection
	default:
		return categoryUnknown
	}
}

// CoordFunc maps a (lat, lng) pair to its replacement
type CoordFunc func(lat, lng float64) (float64, float64)

// Stats counts what a rewrite visited
type Stats struct {
	Geometries int // headers parsed, nested ones included
	Tuples     int // coordinate tuples rewritten
}

// Header is the parsed prefix of a single geometry record
type Header struct {
	Order   binary.ByteOrder
	Type    uint32 // base type code, flags masked off
	HasZ    bool
	HasM    bool
	HasSRID bool
	SRID    uint32

	word uint32
}

// dims returns the number of ordinates per tuple
func (h Header) dims() int {
	n := 2
	if h.HasZ {
		n++
	}
	if h.HasM {
		n++
	}
	return n
}

func byteOrder(marker byte) (binary.ByteOrder, error) {
	switch marker {
	case markerBigEndian:
		return binary.BigEndian, nil
	case markerLittleEndian:
		return binary.LittleEndian, nil
	default:
		return nil, &InvalidEndianError{Marker: marker}
	}
}

func readHeader(c *Cursor) (Header, error) {
	marker, err := c.ReadByte()
	if err != nil {
		return Header{}, err
	}
	order, err := byteOrder(marker)
	if err != nil {
		return Header{}, err
	}

	word, err := c.ReadUint32(order)
	if err != nil {
		return Header{}, err
	}

	h := Header{
		Order:   order,
		Type:    word & typeMask,
		HasZ:    word&flagZ != 0,
		HasM:    word&flagM != 0,
		HasSRID: word&flagSRID != 0,
		word:    word,
	}
	if h.HasSRID {
		if h.SRID, err = c.ReadUint32(order); err != nil {
			return Header{}, err
		}
	}
	return h, nil
}

// ReadHeader parses the header of the top-level geometry in buf
func ReadHeader(buf []byte) (Header, error) {
	return readHeader(NewCursor(buf))
}

// RewriteInPlace applies kind to every coordinate tuple in buf.
//
// On error buf must be treated as corrupt: tuples rewritten before the
// failing read are not restored.
func RewriteInPlace(buf []byte, kind coord.Kind) error {
	_, err := Rewrite(buf, kind.Func())
	return err
}

// Rewrite applies fn to every coordinate tuple in buf and checks that the
// top-level geometry spans the whole buffer.
func Rewrite(buf []byte, fn CoordFunc) (Stats, error) {
	w := walker{c: NewCursor(buf), fn: fn}
	if err := w.geometry(); err != nil {
		return w.stats, err
	}
	if n := w.c.Remaining(); n != 0 {
		return w.stats, &TrailingDataError{Remaining: n}
	}
	return w.stats, nil
}

type walker struct {
	c     *Cursor
	fn    CoordFunc
	stats Stats
}

func (w *walker) geometry() error {
	h, err := readHeader(w.c)
	if err != nil {
		return err
	}
	w.stats.Geometries++

	switch categoryOf(h.Type) {
	case categoryPoint:
		return w.tuple(h)
	case categoryPointArray:
		return w.pointArray(h)
	case categoryRingList:
		return w.ringList(h)
	case categoryCollection:
		return w.collection(h)
	default:
		return &UnsupportedTypeError{Code: h.Type}
	}
}

// tuple rewrites X (lng) and Y (lat) and skips any Z/M ordinates
func (w *walker) tuple(h Header) error {
	xOff := w.c.Offset()
	x, err := w.c.ReadFloat64(h.Order)
	if err != nil {
		return err
	}
	yOff := w.c.Offset()
	y, err := w.c.ReadFloat64(h.Order)
	if err != nil {
		return err
	}

	lat, lng := w.fn(y, x)
	if err := w.c.WriteFloat64At(xOff, h.Order, lng); err != nil {
		return err
	}
	if err := w.c.WriteFloat64At(yOff, h.Order, lat); err != nil {
		return err
	}
	w.stats.Tuples++

	if extra := h.dims() - 2; extra > 0 {
		return w.c.Skip(extra * 8)
	}
	return nil
}

func (w *walker) pointArray(h Header) error {
	n, err := w.c.ReadUint32(h.Order)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := w.tuple(h); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) ringList(h Header) error {
	n, err := w.c.ReadUint32(h.Order)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := w.pointArray(h); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) collection(h Header) error {
	n, err := w.c.ReadUint32(h.Order)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := w.geometry(); err != nil {
			return err
		}
	}
	return nil
}
