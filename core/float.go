package core

import (
	"encoding/json"
	"math"
	"strconv"
)

// Float is a float64 whose JSON encoding survives non-finite values.
// encoding/json rejects IEEE 754 infinities and NaN outright, but cost
// fields in checkpointed state legitimately hold them: costs start at
// +Inf before the first evaluation and the target cost defaults to -Inf.
// Float encodes such values as the strings "+Inf", "-Inf" and "NaN".
type Float float64

// MarshalJSON encodes finite values as JSON numbers and non-finite values
// as quoted strings.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON accepts JSON numbers as well as the quoted forms produced
// by MarshalJSON.
func (f *Float) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case "+Inf", "Inf":
			*f = Float(math.Inf(1))
		case "-Inf":
			*f = Float(math.Inf(-1))
		case "NaN":
			*f = Float(math.NaN())
		default:
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return err
			}
			*f = Float(v)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// String formats like float64 with %v.
func (f Float) String() string {
	return strconv.FormatFloat(float64(f), 'g', -1, 64)
}
