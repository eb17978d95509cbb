package ewkb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	orbewkb "github.com/paulmach/orb/encoding/ewkb"
)

func TestEncoderMatchesOrb(t *testing.T) {
	tests := []struct {
		name   string
		encode func(e *Encoder) []byte
		geom   orb.Geometry
	}{
		{
			name:   "point",
			encode: func(e *Encoder) []byte { return e.EncodePoint(120, 30) },
			geom:   orb.Point{120, 30},
		},
		{
			name:   "linestring",
			encode: func(e *Encoder) []byte { return e.EncodeLineString([]float64{1, 2, 3, 4}) },
			geom:   orb.LineString{{1, 2}, {3, 4}},
		},
		{
			name: "polygon with hole",
			encode: func(e *Encoder) []byte {
				return e.EncodePolygon([][]float64{
					{0, 0, 10, 0, 10, 10, 0, 0},
					{1, 1, 2, 1, 2, 2, 1, 1},
				})
			},
			geom: orb.Polygon{
				{{0, 0}, {10, 0}, {10, 10}, {0, 0}},
				{{1, 1}, {2, 1}, {2, 2}, {1, 1}},
			},
		},
		{
			name: "multipolygon",
			encode: func(e *Encoder) []byte {
				return e.EncodeMultiPolygon([][][]float64{
					{{0, 0, 1, 0, 1, 1, 0, 0}},
					{{5, 5, 6, 5, 6, 6, 5, 5}},
				})
			},
			geom: orb.MultiPolygon{
				{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
				{{{5, 5}, {6, 5}, {6, 6}, {5, 5}}},
			},
		},
	}

	for _, tt := range tests {
		for _, order := range []binary.AppendByteOrder{binary.LittleEndian, binary.BigEndian} {
			t.Run(tt.name+"/"+order.String(), func(t *testing.T) {
				e := NewEncoderWithSRID(64, 4326)
				e.SetByteOrder(order)
				got := tt.encode(e)

				want, err := orbewkb.Marshal(tt.geom, 4326, order.(binary.ByteOrder))
				if err != nil {
					t.Fatalf("orb marshal: %v", err)
				}
				if !bytes.Equal(got, want) {
					t.Errorf("encoded\n got %x\nwant %x", got, want)
				}
			})
		}
	}
}

func TestSetSRID(t *testing.T) {
	plain := bytes.Clone(NewEncoderWithSRID(32, 0).EncodePoint(120, 30))

	withSRID, err := SetSRID(plain, 990001)
	if err != nil {
		t.Fatalf("SetSRID add: %v", err)
	}
	if len(withSRID) != len(plain)+4 {
		t.Fatalf("len = %d, want %d", len(withSRID), len(plain)+4)
	}
	h, err := ReadHeader(withSRID)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if !h.HasSRID || h.SRID != 990001 || h.Type != TypePoint {
		t.Errorf("header after add = %+v", h)
	}
	if !bytes.Equal(withSRID[9:], plain[5:]) {
		t.Errorf("payload changed")
	}

	replaced, err := SetSRID(withSRID, 990002)
	if err != nil {
		t.Fatalf("SetSRID replace: %v", err)
	}
	if h, _ := ReadHeader(replaced); h.SRID != 990002 || len(replaced) != len(withSRID) {
		t.Errorf("header after replace = %+v", h)
	}

	removed, err := SetSRID(replaced, 0)
	if err != nil {
		t.Fatalf("SetSRID remove: %v", err)
	}
	if !bytes.Equal(removed, plain) {
		t.Errorf("remove: got %x, want %x", removed, plain)
	}

	// The input buffer is never modified.
	if h, _ := ReadHeader(withSRID); h.SRID != 990001 {
		t.Errorf("SetSRID modified its input")
	}
}

func TestSetSRIDKeepsZFlagAndBigEndian(t *testing.T) {
	e := NewEncoderWithSRID(64, 4326)
	e.SetByteOrder(binary.BigEndian)
	e.SetZ(true)
	buf := bytes.Clone(e.EncodePoint(1, 2, 3))

	out, err := SetSRID(buf, 3857)
	if err != nil {
		t.Fatalf("SetSRID: %v", err)
	}
	h, err := ReadHeader(out)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if !h.HasZ || h.SRID != 3857 || h.Order != binary.BigEndian {
		t.Errorf("header = %+v", h)
	}
	if _, err := Rewrite(out, func(lat, lng float64) (float64, float64) { return lat, lng }); err != nil {
		t.Errorf("Rewrite after SetSRID: %v", err)
	}
}

func TestSetSRIDMalformed(t *testing.T) {
	if _, err := SetSRID([]byte{7}, 4326); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestCursorBounds(t *testing.T) {
	c := NewCursor(make([]byte, 10))
	if err := c.Skip(4); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if _, err := c.ReadFloat64(binary.LittleEndian); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("ReadFloat64 past end: err = %v", err)
	}
	if c.Offset() != 4 {
		t.Errorf("failed read moved cursor to %d", c.Offset())
	}
	if err := c.WriteFloat64At(3, binary.LittleEndian, 1); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("WriteFloat64At(3): err = %v", err)
	}
	if err := c.WriteFloat64At(2, binary.LittleEndian, 1); err != nil {
		t.Errorf("WriteFloat64At(2): %v", err)
	}
	if err := c.WriteFloat64At(-1, binary.LittleEndian, 1); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("WriteFloat64At(-1): err = %v", err)
	}
	if c.Remaining() != 6 {
		t.Errorf("Remaining = %d, want 6", c.Remaining())
	}
}

func TestNewEncoderDefaultSRID(t *testing.T) {
	h, err := ReadHeader(NewEncoder(32).EncodePoint(120, 30))
	if err != nil {
		t.Fatal(err)
	}
	if !h.HasSRID || h.SRID != SRID4326 {
		t.Errorf("header = %+v, want SRID %d", h, SRID4326)
	}
}
