package coord

import (
	"fmt"
	"strings"
)

// System identifies one of the three natively supported reference systems
type System int

const (
	SystemInvalid System = iota
	WGS84
	GCJ02
	BD09
)

func (s System) String() string {
	switch s {
	case WGS84:
		return "WGS84"
	case GCJ02:
		return "GCJ02"
	case BD09:
		return "BD09"
	default:
		return fmt.Sprintf("System(%d)", int(s))
	}
}

// ParseSystem parses a system name: wgs84, gcj02 or bd09 (case-insensitive)
func ParseSystem(s string) (System, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wgs84", "wgs":
		return WGS84, nil
	case "gcj02", "gcj":
		return GCJ02, nil
	case "bd09", "bd":
		return BD09, nil
	default:
		return SystemInvalid, fmt.Errorf("unknown coordinate system: %q (supported: wgs84, gcj02, bd09)", s)
	}
}

// Kind selects one of the six directional conversions
type Kind uint8

const (
	KindInvalid Kind = iota
	KindWGS2GCJ
	KindGCJ2WGS
	KindGCJ2BD
	KindBD2GCJ
	KindWGS2BD
	KindBD2WGS
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindWGS2GCJ: "wgs2gcj",
	KindGCJ2WGS: "gcj2wgs",
	KindGCJ2BD:  "gcj2bd",
	KindBD2GCJ:  "bd2gcj",
	KindWGS2BD:  "wgs2bd",
	KindBD2WGS:  "bd2wgs",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is one of the six conversions
func (k Kind) Valid() bool {
	return k >= KindWGS2GCJ && k <= KindBD2WGS
}

// Inverse returns the conversion in the opposite direction
func (k Kind) Inverse() Kind {
	switch k {
	case KindWGS2GCJ:
		return KindGCJ2WGS
	case KindGCJ2WGS:
		return KindWGS2GCJ
	case KindGCJ2BD:
		return KindBD2GCJ
	case KindBD2GCJ:
		return KindGCJ2BD
	case KindWGS2BD:
		return KindBD2WGS
	case KindBD2WGS:
		return KindWGS2BD
	default:
		return KindInvalid
	}
}

// Endpoints returns the source and destination systems of k
func (k Kind) Endpoints() (from, to System) {
	switch k {
	case KindWGS2GCJ:
		return WGS84, GCJ02
	case KindGCJ2WGS:
		return GCJ02, WGS84
	case KindGCJ2BD:
		return GCJ02, BD09
	case KindBD2GCJ:
		return BD09, GCJ02
	case KindWGS2BD:
		return WGS84, BD09
	case KindBD2WGS:
		return BD09, WGS84
	default:
		return SystemInvalid, SystemInvalid
	}
}

// ParseKind parses a conversion name such as "wgs2gcj" (case-insensitive)
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k := KindWGS2GCJ; k <= KindBD2WGS; k++ {
		if kindNames[k] == name {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown transform kind: %q", s)
}

// KindBetween returns the conversion from one system to another.
// ok is false when from == to or either system is invalid.
func KindBetween(from, to System) (Kind, bool) {
	for k := KindWGS2GCJ; k <= KindBD2WGS; k++ {
		f, t := k.Endpoints()
		if f == from && t == to {
			return k, true
		}
	}
	return KindInvalid, false
}
