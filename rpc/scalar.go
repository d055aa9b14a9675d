package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"orbit-metrics/util"
)

var errMissing = errors.New("missing value")

// Scalar keeps the literal text of a JSON string, number or boolean so that
// it can be converted later without going through float64 first.
type Scalar struct {
	raw string
	set bool
}

// NewScalar builds a present Scalar from its literal text.
func NewScalar(raw string) Scalar {
	return Scalar{raw: raw, set: true}
}

func (s *Scalar) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*s = Scalar{}
		return nil
	}

	switch b[0] {
	case '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = NewScalar(str)
	case '{', '[':
		return fmt.Errorf("expected scalar value, got %s", string(b))
	default:
		*s = NewScalar(string(b))
	}
	return nil
}

// Present reports whether the key was in the payload with a non-null value.
func (s Scalar) Present() bool { return s.set }

func (s Scalar) String() string { return s.raw }

func (s Scalar) Float64() (float64, error) {
	if !s.set {
		return 0, errMissing
	}
	return util.ParseFloat(s.raw)
}

func (s Scalar) Int64() (int64, error) {
	if !s.set {
		return 0, errMissing
	}
	return util.ParseInt(s.raw)
}

// Seconds parses a duration value ("1814400s" or 1814400) into seconds.
func (s Scalar) Seconds() (int64, error) {
	if !s.set {
		return 0, errMissing
	}
	return util.ParseSeconds(s.raw)
}

func (s Scalar) Bool() (bool, error) {
	if !s.set {
		return false, errMissing
	}
	return util.ParseBool(s.raw)
}
