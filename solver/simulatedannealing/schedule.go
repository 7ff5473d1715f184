package simulatedannealing

import (
	"encoding/json"
	"math"
)

const (
	fastKind        = "Fast"
	boltzmannKind   = "Boltzmann"
	exponentialKind = "Exponential"
)

// Schedule is a cooling schedule mapping the annealing step count to a
// temperature. It is constructed through one of the New*Schedule
// functions; the zero Schedule keeps the temperature constant.
type Schedule struct {
	kind string
	x    float64
}

// NewFastSchedule builds the fast annealing schedule
//
//	t_i = t0 / i
//
// which cools as the reciprocal of the step count.
func NewFastSchedule() Schedule {
	return Schedule{kind: fastKind}
}

// NewBoltzmannSchedule builds the Boltzmann schedule
//
//	t_i = t0 / ln(i)
//
// which cools logarithmically and keeps the temperature high for longer.
func NewBoltzmannSchedule() Schedule {
	return Schedule{kind: boltzmannKind}
}

// NewExponentialSchedule builds the exponential schedule
//
//	t_i = t0 * x^i
//
// which cools geometrically for x in (0, 1) and heats for x above 1.
func NewExponentialSchedule(x float64) Schedule {
	return Schedule{kind: exponentialKind, x: x}
}

// temperature returns the temperature after tempIter completed annealing
// steps at initial temperature t0.
func (s Schedule) temperature(t0 float64, tempIter uint64) float64 {
	i := float64(tempIter + 1)
	switch s.kind {
	case fastKind:
		return t0 / i
	case boltzmannKind:
		return t0 / math.Log(i)
	case exponentialKind:
		return t0 * math.Pow(s.x, i)
	default:
		return t0
	}
}

type scheduleJSON struct {
	Kind string  `json:"kind"`
	X    float64 `json:"x,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s Schedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(scheduleJSON{Kind: s.kind, X: s.x})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var aux scheduleJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.kind = aux.Kind
	s.x = aux.X
	return nil
}
