package ewkb

import (
	"encoding/binary"
	"math"
)

// Base type codes written by the encoder
const (
	TypePoint           = 1
	TypeLineString      = 2
	TypePolygon         = 3
	TypeMultiPoint      = 4
	TypeMultiLineString = 5
	TypeMultiPolygon    = 6
	TypeCollection      = 7
)

// SRID4326 is the default SRID of NewEncoder
const SRID4326 = 4326

// Encoder builds EWKB values.
// Coordinates are flat arrays of [lon1, lat1, lon2, lat2, ...], or
// [lon1, lat1, z1, ...] when Z is enabled.
type Encoder struct {
	buf   []byte
	order binary.AppendByteOrder
	srid  uint32
	hasZ  bool
}

// NewEncoder creates a little-endian encoder with default SRID 4326
func NewEncoder(initialSize int) *Encoder {
	return &Encoder{
		buf:   make([]byte, 0, initialSize),
		order: binary.LittleEndian,
		srid:  SRID4326,
	}
}

// NewEncoderWithSRID creates a little-endian encoder with the given SRID.
// An SRID of 0 writes plain WKB headers without the SRID flag.
func NewEncoderWithSRID(initialSize int, srid int) *Encoder {
	e := NewEncoder(initialSize)
	e.srid = uint32(srid)
	return e
}

// SetByteOrder switches between binary.LittleEndian and binary.BigEndian
func (e *Encoder) SetByteOrder(order binary.AppendByteOrder) {
	e.order = order
}

// SetZ makes the encoder expect and write a third ordinate per tuple
func (e *Encoder) SetZ(hasZ bool) {
	e.hasZ = hasZ
}

// SRID returns the encoder's current SRID
func (e *Encoder) SRID() int {
	return int(e.srid)
}

// Reset clears the buffer for reuse
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the encoded bytes
func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) stride() int {
	if e.hasZ {
		return 3
	}
	return 2
}

// EncodePoint encodes a point. z is ignored unless Z is enabled.
func (e *Encoder) EncodePoint(lon, lat float64, z ...float64) []byte {
	e.Reset()
	e.header(TypePoint, true)
	e.appendFloat64(lon)
	e.appendFloat64(lat)
	if e.hasZ {
		var zv float64
		if len(z) > 0 {
			zv = z[0]
		}
		e.appendFloat64(zv)
	}
	return e.buf
}

// EncodeLineString encodes a linestring
func (e *Encoder) EncodeLineString(coords []float64) []byte {
	e.Reset()
	e.header(TypeLineString, true)
	e.appendPoints(coords)
	return e.buf
}

// EncodePolygon encodes a polygon from its rings.
// rings[0] is the outer ring, rings[1:] are holes.
func (e *Encoder) EncodePolygon(rings [][]float64) []byte {
	e.Reset()
	e.header(TypePolygon, true)
	e.appendRings(rings)
	return e.buf
}

// EncodeMultiPoint encodes each tuple of coords as a nested point
func (e *Encoder) EncodeMultiPoint(coords []float64) []byte {
	e.Reset()
	e.header(TypeMultiPoint, true)
	s := e.stride()
	e.appendUint32(uint32(len(coords) / s))
	for i := 0; i+s <= len(coords); i += s {
		e.header(TypePoint, false)
		for _, v := range coords[i : i+s] {
			e.appendFloat64(v)
		}
	}
	return e.buf
}

// EncodeMultiPolygon encodes multiple polygons; nested records carry no SRID
func (e *Encoder) EncodeMultiPolygon(polygons [][][]float64) []byte {
	e.Reset()
	e.header(TypeMultiPolygon, true)
	e.appendUint32(uint32(len(polygons)))
	for _, poly := range polygons {
		e.header(TypePolygon, false)
		e.appendRings(poly)
	}
	return e.buf
}

// EncodeCollection wraps already-encoded member geometries in a
// GeometryCollection. Members are copied verbatim, byte order included.
func (e *Encoder) EncodeCollection(members ...[]byte) []byte {
	e.Reset()
	e.header(TypeCollection, true)
	e.appendUint32(uint32(len(members)))
	for _, m := range members {
		e.buf = append(e.buf, m...)
	}
	return e.buf
}

// header writes byte order, type word and, at top level, the SRID
func (e *Encoder) header(code uint32, top bool) {
	if e.order == binary.BigEndian {
		e.buf = append(e.buf, markerBigEndian)
	} else {
		e.buf = append(e.buf, markerLittleEndian)
	}

	word := code
	if e.hasZ {
		word |= flagZ
	}
	withSRID := top && e.srid != 0
	if withSRID {
		word |= flagSRID
	}
	e.appendUint32(word)
	if withSRID {
		e.appendUint32(e.srid)
	}
}

func (e *Encoder) appendRings(rings [][]float64) {
	e.appendUint32(uint32(len(rings)))
	for _, ring := range rings {
		e.appendPoints(ring)
	}
}

func (e *Encoder) appendPoints(coords []float64) {
	s := e.stride()
	e.appendUint32(uint32(len(coords) / s))
	for i := 0; i+s <= len(coords); i += s {
		for _, v := range coords[i : i+s] {
			e.appendFloat64(v)
		}
	}
}

func (e *Encoder) appendUint32(v uint32) {
	e.buf = e.order.AppendUint32(e.buf, v)
}

func (e *Encoder) appendFloat64(v float64) {
	e.buf = e.order.AppendUint64(e.buf, math.Float64bits(v))
}

// SetSRID returns a copy of buf whose top-level header carries srid.
// An srid of 0 removes the SRID flag and field. Nested records are copied
// untouched.
func SetSRID(buf []byte, srid int) ([]byte, error) {
	c := NewCursor(buf)
	h, err := readHeader(c)
	if err != nil {
		return nil, err
	}
	body := buf[c.Offset():]

	word := h.word &^ flagSRID
	if srid != 0 {
		word |= flagSRID
	}

	out := make([]byte, 0, 9+len(body))
	out = append(out, buf[0])
	out = appendUint32(out, h.Order, word)
	if srid != 0 {
		out = appendUint32(out, h.Order, uint32(srid))
	}
	return append(out, body...), nil
}

func appendUint32(b []byte, order binary.ByteOrder, v uint32) []byte {
	var raw [4]byte
	order.PutUint32(raw[:], v)
	return append(b, raw[:]...)
}
