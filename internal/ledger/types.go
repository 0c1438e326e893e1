package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// ResultType is the payload kind a test reports. It is fixed per test for one run.
type ResultType string

const (
	ResultBoolean ResultType = "boolean"
	ResultNumber  ResultType = "number"
	ResultVector  ResultType = "vector"
	ResultImage   ResultType = "image"
)

// ParseResultType normalises s. The empty string parses to the empty ResultType.
func ParseResultType(s string) (ResultType, error) {
	rt := ResultType(strings.ToLower(strings.TrimSpace(s)))
	switch rt {
	case "", ResultBoolean, ResultNumber, ResultVector, ResultImage:
		return rt, nil
	}
	return "", fmt.Errorf("unknown result type %q", s)
}

// Pass is the canonical tri-state verdict.
type Pass int

const (
	PassInProgress Pass = iota
	PassTrue
	PassFalse
)

func (p Pass) String() string {
	switch p {
	case PassTrue:
		return "true"
	case PassFalse:
		return "false"
	default:
		return "in progress"
	}
}

// Decided reports whether p is a final verdict.
func (p Pass) Decided() bool {
	return p == PassTrue || p == PassFalse
}

// ParsePass accepts JSON booleans, the strings "true"/"false" in any case, and treats null,
// "", "in progress" and "inProgress" as in progress. Anything else is an error.
func ParsePass(v ldvalue.Value) (Pass, error) {
	switch v.Type() {
	case ldvalue.NullType:
		return PassInProgress, nil
	case ldvalue.BoolType:
		if v.BoolValue() {
			return PassTrue, nil
		}
		return PassFalse, nil
	case ldvalue.StringType:
		switch strings.ToLower(strings.TrimSpace(v.StringValue())) {
		case "true":
			return PassTrue, nil
		case "false":
			return PassFalse, nil
		case "", "in progress", "inprogress":
			return PassInProgress, nil
		}
	}
	return PassInProgress, fmt.Errorf("unrecognised pass value %s", v.JSONString())
}

// MarshalJSON writes decided verdicts as JSON booleans and in progress as "in progress".
func (p Pass) MarshalJSON() ([]byte, error) {
	switch p {
	case PassTrue:
		return []byte("true"), nil
	case PassFalse:
		return []byte("false"), nil
	default:
		return []byte(`"in progress"`), nil
	}
}

func (p *Pass) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePass(ldvalue.Parse(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ResultUnit is either a single unit label or, for vector tests, a pair of axis labels.
type ResultUnit struct {
	Label string
	X, Y  string
	Axes  bool
}

// ParseResultUnit accepts null, a string, or an array of up to two strings.
func ParseResultUnit(v ldvalue.Value) (ResultUnit, error) {
	switch v.Type() {
	case ldvalue.NullType:
		return ResultUnit{}, nil
	case ldvalue.StringType:
		return ResultUnit{Label: v.StringValue()}, nil
	case ldvalue.ArrayType:
		if v.Count() > 2 {
			break
		}
		u := ResultUnit{Axes: true}
		for i := 0; i < v.Count(); i++ {
			item := v.GetByIndex(i)
			if item.Type() != ldvalue.StringType {
				return ResultUnit{}, fmt.Errorf("axis label %d is not a string", i)
			}
			if i == 0 {
				u.X = item.StringValue()
			} else {
				u.Y = item.StringValue()
			}
		}
		return u, nil
	}
	return ResultUnit{}, fmt.Errorf("unrecognised result unit %s", v.JSONString())
}

// Value converts u back to its wire representation.
func (u ResultUnit) Value() ldvalue.Value {
	if u.Axes {
		return ldvalue.ArrayOf(ldvalue.String(u.X), ldvalue.String(u.Y))
	}
	if u.Label == "" {
		return ldvalue.Null()
	}
	return ldvalue.String(u.Label)
}

func (u ResultUnit) String() string {
	if u.Axes {
		return u.X + " / " + u.Y
	}
	return u.Label
}

func (u ResultUnit) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Value())
}

func (u *ResultUnit) UnmarshalJSON(data []byte) error {
	parsed, err := ParseResultUnit(ldvalue.Parse(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Range is a closed numeric interval.
type Range struct {
	Low, High float64
}

// Contains reports whether x lies within r.
func (r Range) Contains(x float64) bool {
	return x >= r.Low && x <= r.High
}

// RangeOf reads a [low, high] numeric pair.
func RangeOf(v ldvalue.Value) (Range, bool) {
	if v.Type() != ldvalue.ArrayType || v.Count() != 2 {
		return Range{}, false
	}
	lo, hi := v.GetByIndex(0), v.GetByIndex(1)
	if lo.Type() != ldvalue.NumberType || hi.Type() != ldvalue.NumberType {
		return Range{}, false
	}
	return Range{Low: lo.Float64Value(), High: hi.Float64Value()}, true
}

// AxesOf reads a per-axis [[xLow, xHigh], [yLow, yHigh]] pair.
func AxesOf(v ldvalue.Value) (x, y Range, ok bool) {
	if v.Type() != ldvalue.ArrayType || v.Count() != 2 {
		return Range{}, Range{}, false
	}
	x, okX := RangeOf(v.GetByIndex(0))
	y, okY := RangeOf(v.GetByIndex(1))
	if !okX || !okY {
		return Range{}, Range{}, false
	}
	return x, y, true
}

// YRange returns the vertical band of a vector test: the y axis of a per-axis pair, or a
// plain [low, high] pair.
func YRange(v ldvalue.Value) (Range, bool) {
	if _, y, ok := AxesOf(v); ok {
		return y, true
	}
	return RangeOf(v)
}

// Point reads a 2-element numeric array as an (x, y) pair.
func Point(v ldvalue.Value) (x, y float64, ok bool) {
	r, ok := RangeOf(v)
	return r.Low, r.High, ok
}
