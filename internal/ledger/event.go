package ledger

import (
	"encoding/json"
	"fmt"
	"math"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
)

// ErrMalformedEvent is returned for events missing required fields or carrying values that
// cannot be normalised.
var ErrMalformedEvent = tmerrors.New(tmerrors.KindValidation, "malformed event")

// MessageType is the lifecycle stage an event reports.
type MessageType string

const (
	MessageNewTest MessageType = "new test"
	MessageUpdate  MessageType = "update"
	MessageTestEnd MessageType = "test end"
)

func (m MessageType) valid() bool {
	return m == MessageNewTest || m == MessageUpdate || m == MessageTestEnd
}

// Key identifies one ledger entry.
type Key struct {
	Unit     int
	TestName string
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s", k.Unit, k.TestName)
}

// Event is a normalised lifecycle event. Heterogeneous wire values are resolved by
// UnmarshalJSON before an Event reaches Reduce.
type Event struct {
	Type          MessageType
	Unit          int
	TestName      string
	ResultType    ResultType
	ExpectedRange ldvalue.Value
	ResultUnit    ResultUnit
	Result        ldvalue.Value
	Pass          Pass
}

// Key returns the ledger key the event applies to.
func (e Event) Key() Key {
	return Key{Unit: e.Unit, TestName: e.TestName}
}

// Validate checks the fields Reduce relies on.
func (e Event) Validate() error {
	if !e.Type.valid() {
		return malformed("unknown message type %q", e.Type)
	}
	if e.TestName == "" {
		return malformed("missing test name")
	}
	if e.Unit < 1 {
		return malformed("unit index %d out of range", e.Unit)
	}
	if _, err := ParseResultType(string(e.ResultType)); err != nil {
		return malformed("%v", err)
	}
	if e.Type == MessageNewTest && e.ResultType == "" {
		return malformed("new test %q without result type", e.TestName)
	}
	return nil
}

// wireEvent is the pushed JSON shape.
type wireEvent struct {
	UnitIndex     ldvalue.Value `json:"unit index"`
	TestName      string        `json:"test name"`
	MessageType   string        `json:"message type"`
	ResultType    string        `json:"result type,omitempty"`
	ExpectedRange ldvalue.Value `json:"expected range"`
	ResultUnit    ldvalue.Value `json:"result unit"`
	Result        ldvalue.Value `json:"result"`
	Pass          ldvalue.Value `json:"pass"`
}

// DecodeEvent parses and validates one pushed event. Errors wrap ErrMalformedEvent.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		if tmerrors.Is(err, ErrMalformedEvent) {
			return Event{}, err
		}
		return Event{}, malformed("invalid JSON: %v", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	unit, err := unitIndex(w.UnitIndex)
	if err != nil {
		return err
	}
	rt, err := ParseResultType(w.ResultType)
	if err != nil {
		return malformed("%v", err)
	}
	ru, err := ParseResultUnit(w.ResultUnit)
	if err != nil {
		return malformed("%v", err)
	}
	pass, err := ParsePass(w.Pass)
	if err != nil {
		return malformed("%v", err)
	}

	*e = Event{
		Type:          MessageType(w.MessageType),
		Unit:          unit,
		TestName:      w.TestName,
		ResultType:    rt,
		ExpectedRange: w.ExpectedRange,
		ResultUnit:    ru,
		Result:        w.Result,
		Pass:          pass,
	}
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		UnitIndex:     ldvalue.Int(e.Unit),
		TestName:      e.TestName,
		MessageType:   string(e.Type),
		ResultType:    string(e.ResultType),
		ExpectedRange: e.ExpectedRange,
		ResultUnit:    e.ResultUnit.Value(),
		Result:        e.Result,
		Pass:          passValue(e.Pass),
	})
}

// unitIndex defaults absent, null and zero to unit 1.
func unitIndex(v ldvalue.Value) (int, error) {
	switch v.Type() {
	case ldvalue.NullType:
		return 1, nil
	case ldvalue.NumberType:
		f := v.Float64Value()
		if f != math.Trunc(f) || f < 0 {
			return 0, malformed("unit index %s is not a non-negative integer", v.JSONString())
		}
		if f == 0 {
			return 1, nil
		}
		return int(f), nil
	}
	return 0, malformed("unit index %s is not a number", v.JSONString())
}

// ExplicitUnit reports the unit index exactly as written in a raw event. Events without a
// positive integer index report false; they still reduce into unit 1 but are not
// attributed to any unit when a run is saved.
func ExplicitUnit(data []byte) (int, bool) {
	var w struct {
		UnitIndex ldvalue.Value `json:"unit index"`
	}
	if err := json.Unmarshal(data, &w); err != nil || w.UnitIndex.Type() != ldvalue.NumberType {
		return 0, false
	}
	f := w.UnitIndex.Float64Value()
	if f < 1 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func passValue(p Pass) ldvalue.Value {
	switch p {
	case PassTrue:
		return ldvalue.Bool(true)
	case PassFalse:
		return ldvalue.Bool(false)
	default:
		return ldvalue.String("in progress")
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}
