package proj

import (
	"fmt"
	"strings"

	"github.com/wegman-software/eviltransform-go/internal/coord"
	"github.com/wegman-software/eviltransform-go/internal/ewkb"
)

// StepOp tells a Step what to do
type StepOp int

const (
	// OpReproject is a general reprojection between two SRIDs
	OpReproject StepOp = iota + 1
	// OpEvil is one of the WGS84/GCJ02/BD09 conversions
	OpEvil
)

// Step is a single stage of a Route
type Step struct {
	Op   StepOp
	From int
	To   int
	Kind coord.Kind // set for OpEvil
}

func (s Step) String() string {
	if s.Op == OpEvil {
		return s.Kind.String()
	}
	return fmt.Sprintf("reproject(%d->%d)", s.From, s.To)
}

// Local reports whether this binary can execute the step without PostGIS
func (s Step) Local() bool {
	if s.Op == OpEvil {
		return true
	}
	_, ok := reprojectFunc(s.From, s.To)
	return ok
}

// Route is the ordered list of steps taking geometries from Src to Dst
type Route struct {
	Src   int
	Dst   int
	Steps []Step
}

func (r Route) String() string {
	if len(r.Steps) == 0 {
		return "identity"
	}
	parts := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, " -> ")
}

// Local reports whether every step can run without PostGIS
func (r Route) Local() bool {
	for _, s := range r.Steps {
		if !s.Local() {
			return false
		}
	}
	return true
}

// SameLength reports whether applying the route never changes the byte
// length of a geometry (only in-place conversions, same SRID presence)
func (r Route) SameLength() bool {
	for _, s := range r.Steps {
		if s.Op != OpEvil {
			return false
		}
	}
	return true
}

// Split separates a leading reprojection and a trailing reprojection from
// the conversions in between. A route without conversions is returned as a
// single leading reprojection.
func (r Route) Split() (pre *Step, evil []Step, post *Step) {
	steps := r.Steps
	if len(steps) > 0 && steps[0].Op == OpReproject {
		s := steps[0]
		pre = &s
		steps = steps[1:]
	}
	if n := len(steps); n > 0 && steps[n-1].Op == OpReproject {
		s := steps[n-1]
		post = &s
		steps = steps[:n-1]
	}
	return pre, steps, post
}

// Plan decides how to take geometries from src to dst.
//
// Conversions among the three native systems run through the coord engine;
// anything else is a reprojection, bridged through WGS84 when one side is
// GCJ02 or BD09.
func Plan(src, dst int) (Route, error) {
	if src <= 0 || dst <= 0 {
		return Route{}, fmt.Errorf("invalid SRID pair %d -> %d", src, dst)
	}
	r := Route{Src: src, Dst: dst}
	if src == dst {
		return r, nil
	}

	if !IsCustom(src) && !IsCustom(dst) {
		r.Steps = []Step{{Op: OpReproject, From: src, To: dst}}
		return r, nil
	}

	if IsCustom(src) && IsCustom(dst) {
		r.Steps = []Step{evilStep(src, dst)}
		return r, nil
	}

	if IsCustom(src) {
		r.Steps = append(r.Steps, evilStep(src, SRID4326))
		if dst != SRID4326 {
			r.Steps = append(r.Steps, Step{Op: OpReproject, From: SRID4326, To: dst})
		}
		return r, nil
	}

	if src != SRID4326 {
		r.Steps = append(r.Steps, Step{Op: OpReproject, From: src, To: SRID4326})
	}
	r.Steps = append(r.Steps, evilStep(SRID4326, dst))
	return r, nil
}

func evilStep(from, to int) Step {
	f, _ := System(from)
	t, _ := System(to)
	k, _ := coord.KindBetween(f, t)
	return Step{Op: OpEvil, From: from, To: to, Kind: k}
}

// Rewrite runs a local route over an EWKB buffer in place, leaving the
// header untouched
func (r Route) Rewrite(buf []byte) (ewkb.Stats, error) {
	if len(r.Steps) == 0 {
		// still validate the buffer
		return ewkb.Rewrite(buf, func(lat, lng float64) (float64, float64) { return lat, lng })
	}

	var stats ewkb.Stats
	for _, s := range r.Steps {
		var fn ewkb.CoordFunc
		if s.Op == OpEvil {
			fn = s.Kind.Func()
		} else {
			f, ok := reprojectFunc(s.From, s.To)
			if !ok {
				return stats, fmt.Errorf("step %s needs PostGIS", s)
			}
			fn = f
		}
		st, err := ewkb.Rewrite(buf, fn)
		if err != nil {
			return st, fmt.Errorf("step %s: %w", s, err)
		}
		stats = st
	}
	return stats, nil
}

// Apply runs a local route over an EWKB buffer. buf is rewritten in place;
// the returned slice is a copy stamped with r.Dst unless the route is the
// identity.
func (r Route) Apply(buf []byte) ([]byte, ewkb.Stats, error) {
	stats, err := r.Rewrite(buf)
	if err != nil {
		return nil, stats, err
	}
	if len(r.Steps) == 0 {
		return buf, stats, nil
	}

	out, err := ewkb.SetSRID(buf, r.Dst)
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}
