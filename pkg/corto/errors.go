package corto

import (
	"errors"
	"fmt"
)

// Decode errors. All of them are fatal to the payload being decoded only.
var (
	ErrInvalidMagic     = errors.New("invalid corto magic")
	ErrTruncated        = errors.New("truncated stream")
	ErrTooLarge         = errors.New("declared size exceeds sanity ceiling")
	ErrOutputTooSmall   = errors.New("output buffer smaller than declared size")
	ErrBadSymbol        = errors.New("index outside tunstall dictionary")
	ErrInvalidSymbol    = errors.New("invalid connectivity symbol")
	ErrTopology         = errors.New("vertex index out of range")
	ErrUnsupportedType  = errors.New("unsupported attribute type")
	ErrMissingPosition  = errors.New("estimated normals need a position attribute")
	ErrInconsistentSize = errors.New("attribute count does not match vertex count")
)

// DecodeError reports which decoding stage rejected a payload.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("corto: %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(stage string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Stage: stage, Err: err}
}
