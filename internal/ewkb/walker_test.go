package ewkb

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	orbewkb "github.com/paulmach/orb/encoding/ewkb"

	"github.com/wegman-software/eviltransform-go/internal/coord"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func float64At(buf []byte, off int, order binary.ByteOrder) float64 {
	return math.Float64frombits(order.Uint64(buf[off : off+8]))
}

func TestRewritePointLittleEndian(t *testing.T) {
	// POINT(120 30), no flags
	buf := mustHex(t, "0101000000"+"0000000000005e40"+"0000000000003e40")
	orig := bytes.Clone(buf)

	if err := RewriteInPlace(buf, coord.KindWGS2GCJ); err != nil {
		t.Fatalf("RewriteInPlace: %v", err)
	}

	if len(buf) != len(orig) {
		t.Fatalf("length changed: %d -> %d", len(orig), len(buf))
	}
	if !bytes.Equal(buf[:5], orig[:5]) {
		t.Errorf("header changed: %x -> %x", orig[:5], buf[:5])
	}

	x := float64At(buf, 5, binary.LittleEndian)
	y := float64At(buf, 13, binary.LittleEndian)
	if math.Abs(x-120.004660445597) > 1e-6 || math.Abs(y-29.9975343316961) > 1e-6 {
		t.Errorf("POINT(120 30) -> (%.12f %.12f)", x, y)
	}
}

func TestRewriteMalformed(t *testing.T) {
	valid := NewEncoderWithSRID(32, 0).EncodePoint(120, 30)

	tests := []struct {
		name  string
		input []byte
		check func(t *testing.T, err error)
	}{
		{
			name:  "unsupported type",
			input: []byte{1, 0xFF, 0, 0, 0},
			check: func(t *testing.T, err error) {
				var te *UnsupportedTypeError
				if !errors.As(err, &te) || te.Code != 255 {
					t.Errorf("err = %v, want UnsupportedType(255)", err)
				}
			},
		},
		{
			name:  "invalid endian",
			input: []byte{2, 1, 0, 0, 0},
			check: func(t *testing.T, err error) {
				var ee *InvalidEndianError
				if !errors.As(err, &ee) || ee.Marker != 2 {
					t.Errorf("err = %v, want InvalidEndian(2)", err)
				}
			},
		},
		{
			name:  "empty",
			input: []byte{},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrUnexpectedEOF) {
					t.Errorf("err = %v, want ErrUnexpectedEOF", err)
				}
			},
		},
		{
			name:  "truncated type word",
			input: []byte{1, 1, 0},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrUnexpectedEOF) {
					t.Errorf("err = %v, want ErrUnexpectedEOF", err)
				}
			},
		},
		{
			name:  "truncated mid coordinate",
			input: bytes.Clone(valid[:len(valid)-3]),
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrUnexpectedEOF) {
					t.Errorf("err = %v, want ErrUnexpectedEOF", err)
				}
			},
		},
		{
			name:  "trailing byte",
			input: append(bytes.Clone(valid), 0),
			check: func(t *testing.T, err error) {
				var td *TrailingDataError
				if !errors.As(err, &td) || td.Remaining != 1 {
					t.Errorf("err = %v, want TrailingData(1)", err)
				}
			},
		},
		{
			name:  "truncated srid",
			input: []byte{1, 1, 0, 0, 0x20, 0xE6},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrUnexpectedEOF) {
					t.Errorf("err = %v, want ErrUnexpectedEOF", err)
				}
			},
		},
		{
			name:  "huge count with no payload",
			input: []byte{1, 2, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrUnexpectedEOF) {
					t.Errorf("err = %v, want ErrUnexpectedEOF", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RewriteInPlace(tt.input, coord.KindWGS2GCJ)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v does not wrap ErrMalformed", err)
			}
			tt.check(t, err)
		})
	}
}

func TestRewriteCountZero(t *testing.T) {
	le := binary.LittleEndian
	build := func(code uint32, counts ...uint32) []byte {
		b := []byte{1}
		b = le.AppendUint32(b, code)
		for _, c := range counts {
			b = le.AppendUint32(b, c)
		}
		return b
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{"empty linestring", build(TypeLineString, 0)},
		{"empty polygon", build(TypePolygon, 0)},
		{"polygon with empty ring", build(TypePolygon, 1, 0)},
		{"empty multipolygon", build(TypeMultiPolygon, 0)},
		{"empty collection", build(TypeCollection, 0)},
		{"empty triangle", build(17, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := bytes.Clone(tt.input)
			stats, err := Rewrite(tt.input, coord.KindWGS2GCJ.Func())
			if err != nil {
				t.Fatalf("Rewrite: %v", err)
			}
			if stats.Tuples != 0 {
				t.Errorf("rewrote %d tuples, want 0", stats.Tuples)
			}
			if !bytes.Equal(tt.input, orig) {
				t.Errorf("buffer changed: %x -> %x", orig, tt.input)
			}
		})
	}
}

// changedOffsets lists the byte positions where a and b differ
func changedOffsets(a, b []byte) []int {
	var offs []int
	for i := range a {
		if a[i] != b[i] {
			offs = append(offs, i)
		}
	}
	return offs
}

func TestRewriteMultiPolygonMatchesOrb(t *testing.T) {
	mp := orb.MultiPolygon{
		{
			{{116.30, 39.90}, {116.50, 39.90}, {116.50, 40.00}, {116.30, 40.00}, {116.30, 39.90}},
			{{116.35, 39.92}, {116.40, 39.92}, {116.40, 39.95}, {116.35, 39.92}},
		},
		{
			{{121.40, 31.20}, {121.50, 31.20}, {121.50, 31.30}, {121.40, 31.20}},
		},
	}

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			buf, err := orbewkb.Marshal(mp, 4326, order)
			if err != nil {
				t.Fatalf("orb marshal: %v", err)
			}
			orig := bytes.Clone(buf)

			stats, err := Rewrite(buf, coord.KindWGS2BD.Func())
			if err != nil {
				t.Fatalf("Rewrite: %v", err)
			}
			if stats.Geometries != 3 || stats.Tuples != 13 {
				t.Errorf("stats = %+v, want 3 geometries / 13 tuples", stats)
			}
			if len(buf) != len(orig) {
				t.Fatalf("length changed")
			}
			// Header with SRID is untouched.
			if !bytes.Equal(buf[:9], orig[:9]) {
				t.Errorf("header changed: %x -> %x", orig[:9], buf[:9])
			}

			geom, srid, err := orbewkb.Unmarshal(buf)
			if err != nil {
				t.Fatalf("orb unmarshal: %v", err)
			}
			if srid != 4326 {
				t.Errorf("srid = %d, want 4326", srid)
			}
			got, ok := geom.(orb.MultiPolygon)
			if !ok {
				t.Fatalf("decoded %T, want orb.MultiPolygon", geom)
			}
			if len(got) != len(mp) {
				t.Fatalf("polygons = %d, want %d", len(got), len(mp))
			}
			for i := range mp {
				if len(got[i]) != len(mp[i]) {
					t.Fatalf("polygon %d rings = %d, want %d", i, len(got[i]), len(mp[i]))
				}
				for j := range mp[i] {
					for k, p := range mp[i][j] {
						wantLat, wantLng := coord.WGS2BD(p.Lat(), p.Lon())
						if got[i][j][k].Lon() != wantLng || got[i][j][k].Lat() != wantLat {
							t.Errorf("point %d/%d/%d = %v, want (%v %v)", i, j, k, got[i][j][k], wantLng, wantLat)
						}
					}
				}
			}
		})
	}
}

func TestRewriteOnlyTouchesCoordinateSlots(t *testing.T) {
	enc := NewEncoderWithSRID(256, 990001)
	enc.SetByteOrder(binary.BigEndian)
	buf := bytes.Clone(enc.EncodeLineString([]float64{116.1, 39.1, 116.2, 39.2, 116.3, 39.3}))
	orig := bytes.Clone(buf)

	if err := RewriteInPlace(buf, coord.KindGCJ2BD); err != nil {
		t.Fatalf("RewriteInPlace: %v", err)
	}

	// 1 marker + 4 type + 4 srid + 4 count, then 16 bytes per tuple
	const payload = 13
	for _, off := range changedOffsets(orig, buf) {
		if off < payload || (off-payload)/16 >= 3 {
			t.Errorf("byte %d outside coordinate slots changed", off)
		}
	}

	h, err := ReadHeader(buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Type != TypeLineString || !h.HasSRID || h.SRID != 990001 || h.Order != binary.BigEndian {
		t.Errorf("header = %+v", h)
	}
}

func TestRewriteSkipsZAndM(t *testing.T) {
	le := binary.LittleEndian
	buf := []byte{1}
	buf = le.AppendUint32(buf, TypePoint|flagZ|flagM)
	buf = le.AppendUint64(buf, math.Float64bits(120))
	buf = le.AppendUint64(buf, math.Float64bits(30))
	buf = le.AppendUint64(buf, math.Float64bits(42.5))
	buf = le.AppendUint64(buf, math.Float64bits(7))
	orig := bytes.Clone(buf)

	if err := RewriteInPlace(buf, coord.KindWGS2GCJ); err != nil {
		t.Fatalf("RewriteInPlace: %v", err)
	}
	if !bytes.Equal(buf[21:], orig[21:]) {
		t.Errorf("Z/M ordinates changed: %x -> %x", orig[21:], buf[21:])
	}
	wantLat, wantLng := coord.WGS2GCJ(30, 120)
	if x := float64At(buf, 5, le); x != wantLng {
		t.Errorf("x = %v, want %v", x, wantLng)
	}
	if y := float64At(buf, 13, le); y != wantLat {
		t.Errorf("y = %v, want %v", y, wantLat)
	}

	// A ZM point missing its M ordinate is truncated.
	short := bytes.Clone(orig[:len(orig)-8])
	if err := RewriteInPlace(short, coord.KindWGS2GCJ); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestRewriteZLineString(t *testing.T) {
	enc := NewEncoderWithSRID(128, 0)
	enc.SetZ(true)
	buf := bytes.Clone(enc.EncodeLineString([]float64{116.1, 39.1, 10, 116.2, 39.2, 20}))

	stats, err := Rewrite(buf, coord.KindWGS2GCJ.Func())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if stats.Tuples != 2 {
		t.Errorf("tuples = %d, want 2", stats.Tuples)
	}
	le := binary.LittleEndian
	// header 5 + count 4, tuples of 24 bytes
	if z := float64At(buf, 9+16, le); z != 10 {
		t.Errorf("first z = %v, want 10", z)
	}
	if z := float64At(buf, 9+24+16, le); z != 20 {
		t.Errorf("second z = %v, want 20", z)
	}
}

func TestRewriteMixedEndianCollection(t *testing.T) {
	leEnc := NewEncoderWithSRID(64, 0)
	bigEnc := NewEncoderWithSRID(64, 0)
	bigEnc.SetByteOrder(binary.BigEndian)

	lePoint := bytes.Clone(leEnc.EncodePoint(113.26, 23.13))
	beLine := bytes.Clone(bigEnc.EncodeLineString([]float64{114.05, 22.54, 114.10, 22.60}))
	inner := bytes.Clone(leEnc.EncodeCollection(lePoint))

	outer := NewEncoderWithSRID(256, 4326)
	outer.SetByteOrder(binary.BigEndian)
	buf := bytes.Clone(outer.EncodeCollection(lePoint, beLine, inner))

	stats, err := Rewrite(buf, coord.KindWGS2GCJ.Func())
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if stats.Geometries != 5 || stats.Tuples != 4 {
		t.Errorf("stats = %+v, want 5 geometries / 4 tuples", stats)
	}

	// Outer header: 1 + 4 + 4 srid + 4 count = 13; first member is the LE point.
	wantLat, wantLng := coord.WGS2GCJ(23.13, 113.26)
	if x := float64At(buf, 13+5, binary.LittleEndian); x != wantLng {
		t.Errorf("point x = %v, want %v", x, wantLng)
	}
	if y := float64At(buf, 13+13, binary.LittleEndian); y != wantLat {
		t.Errorf("point y = %v, want %v", y, wantLat)
	}

	// Second member: BE linestring right after the 21-byte point.
	lineOff := 13 + len(lePoint)
	wantLat, wantLng = coord.WGS2GCJ(22.54, 114.05)
	if x := float64At(buf, lineOff+9, binary.BigEndian); x != wantLng {
		t.Errorf("line x = %v, want %v", x, wantLng)
	}
	if y := float64At(buf, lineOff+17, binary.BigEndian); y != wantLat {
		t.Errorf("line y = %v, want %v", y, wantLat)
	}
}

func TestRewriteNoRollbackOnFailure(t *testing.T) {
	enc := NewEncoderWithSRID(128, 0)
	full := enc.EncodeLineString([]float64{120, 30, 121, 31})
	// Drop the last 4 bytes so the second tuple is truncated.
	buf := bytes.Clone(full[:len(full)-4])

	stats, err := Rewrite(buf, coord.KindWGS2GCJ.Func())
	if !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want ErrUnexpectedEOF", err)
	}
	if stats.Tuples != 1 {
		t.Errorf("tuples = %d, want 1", stats.Tuples)
	}
	wantLat, wantLng := coord.WGS2GCJ(30, 120)
	if x := float64At(buf, 9, binary.LittleEndian); x != wantLng {
		t.Errorf("first x = %v, want rewritten %v", x, wantLng)
	}
	if y := float64At(buf, 17, binary.LittleEndian); y != wantLat {
		t.Errorf("first y = %v, want rewritten %v", y, wantLat)
	}
}

func TestRewriteOutsideRegionIsUnchanged(t *testing.T) {
	enc := NewEncoder(64)
	buf := bytes.Clone(enc.EncodePoint(-120, 30))
	orig := bytes.Clone(buf)

	if err := RewriteInPlace(buf, coord.KindWGS2GCJ); err != nil {
		t.Fatalf("RewriteInPlace: %v", err)
	}
	if !bytes.Equal(buf, orig) {
		t.Errorf("buffer changed for a point outside the region")
	}
}

func TestRewriteWGS2GCJRoundTrip(t *testing.T) {
	enc := NewEncoder(256)
	buf := bytes.Clone(enc.EncodeMultiPoint([]float64{116.404, 39.915, 114.0579, 22.5431}))

	if err := RewriteInPlace(buf, coord.KindWGS2GCJ); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if err := RewriteInPlace(buf, coord.KindGCJ2WGS); err != nil {
		t.Fatalf("inverse: %v", err)
	}

	geom, _, err := orbewkb.Unmarshal(buf)
	if err != nil {
		t.Fatalf("orb unmarshal: %v", err)
	}
	mp := geom.(orb.MultiPoint)
	want := orb.MultiPoint{{116.404, 39.915}, {114.0579, 22.5431}}
	for i := range want {
		if math.Abs(mp[i].Lon()-want[i].Lon()) > 1e-5 || math.Abs(mp[i].Lat()-want[i].Lat()) > 1e-5 {
			t.Errorf("point %d = %v, want %v", i, mp[i], want[i])
		}
	}
}

func TestCategoryTable(t *testing.T) {
	want := map[uint32]category{
		1: categoryPoint,
		2: categoryPointArray, 8: categoryPointArray, 13: categoryPointArray,
		3: categoryRingList, 17: categoryRingList,
		4: categoryCollection, 5: categoryCollection, 6: categoryCollection, 7: categoryCollection,
		9: categoryCollection, 10: categoryCollection, 11: categoryCollection, 12: categoryCollection,
		14: categoryCollection, 15: categoryCollection, 16: categoryCollection,
	}
	for code := uint32(0); code < 32; code++ {
		got := categoryOf(code)
		if w, ok := want[code]; ok {
			if got != w {
				t.Errorf("categoryOf(%d) = %v, want %v", code, got, w)
			}
		} else if got != categoryUnknown {
			t.Errorf("categoryOf(%d) = %v, want unknown", code, got)
		}
	}
}
