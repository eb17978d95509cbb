package ewkb

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is wrapped by every parse error returned by this package
	ErrMalformed = errors.New("ewkb: malformed geometry")

	// ErrUnexpectedEOF is returned when a read or write would run past the
	// end of the buffer
	ErrUnexpectedEOF = fmt.Errorf("%w: unexpected end of EWKB", ErrMalformed)
)

// InvalidEndianError reports a byte order marker other than 0 or 1
type InvalidEndianError struct {
	Marker byte
}

func (e *InvalidEndianError) Error() string {
	return fmt.Sprintf("ewkb: invalid endian marker: %d", e.Marker)
}

func (e *InvalidEndianError) Unwrap() error { return ErrMalformed }

// UnsupportedTypeError reports a base type code outside the dispatch table
type UnsupportedTypeError struct {
	Code uint32
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("ewkb: unsupported geometry type: %d", e.Code)
}

func (e *UnsupportedTypeError) Unwrap() error { return ErrMalformed }

// TrailingDataError reports bytes left over after the top-level geometry
type TrailingDataError struct {
	Remaining int
}

func (e *TrailingDataError) Error() string {
	return fmt.Sprintf("ewkb: %d trailing bytes", e.Remaining)
}

func (e *TrailingDataError) Unwrap() error { return ErrMalformed }
