package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{
		"unit index": 2,
		"test name": "Voltage",
		"message type": "new test",
		"result type": "Number",
		"expected range": [3.1, 3.5],
		"result unit": "V"
	}`))
	require.NoError(t, err)
	assert.Equal(t, MessageNewTest, ev.Type)
	assert.Equal(t, 2, ev.Unit)
	assert.Equal(t, "Voltage", ev.TestName)
	assert.Equal(t, ResultNumber, ev.ResultType)
	assert.Equal(t, ResultUnit{Label: "V"}, ev.ResultUnit)
	assert.Equal(t, PassInProgress, ev.Pass)
	assert.True(t, ev.Result.IsNull())
}

func TestDecodeEvent_UnitIndexDefaults(t *testing.T) {
	for _, src := range []string{
		`{"test name": "T", "message type": "update"}`,
		`{"unit index": null, "test name": "T", "message type": "update"}`,
		`{"unit index": 0, "test name": "T", "message type": "update"}`,
	} {
		ev, err := DecodeEvent([]byte(src))
		require.NoError(t, err, src)
		assert.Equal(t, 1, ev.Unit, src)
	}
}

func TestDecodeEvent_PassNormalization(t *testing.T) {
	tests := []struct {
		pass string
		want Pass
	}{
		{`true`, PassTrue},
		{`false`, PassFalse},
		{`"true"`, PassTrue},
		{`"False"`, PassFalse},
		{`"in progress"`, PassInProgress},
		{`"inProgress"`, PassInProgress},
		{`""`, PassInProgress},
		{`null`, PassInProgress},
	}
	for _, tt := range tests {
		t.Run(tt.pass, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(`{"test name": "T", "message type": "update", "pass": ` + tt.pass + `}`))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Pass)
		})
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `{"test name":`},
		{"missing test name", `{"message type": "update"}`},
		{"unknown message type", `{"test name": "T", "message type": "finish"}`},
		{"negative unit", `{"unit index": -1, "test name": "T", "message type": "update"}`},
		{"fractional unit", `{"unit index": 1.5, "test name": "T", "message type": "update"}`},
		{"string unit", `{"unit index": "2", "test name": "T", "message type": "update"}`},
		{"bad pass", `{"test name": "T", "message type": "update", "pass": "maybe"}`},
		{"numeric pass", `{"test name": "T", "message type": "update", "pass": 1}`},
		{"unknown result type", `{"test name": "T", "message type": "new test", "result type": "waveform"}`},
		{"new test without type", `{"test name": "T", "message type": "new test"}`},
		{"bad result unit", `{"test name": "T", "message type": "update", "result unit": 5}`},
		{"numeric test name", `{"test name": 5, "message type": "update"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.input))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	ev := Event{
		Type:          MessageUpdate,
		Unit:          3,
		TestName:      "Sweep",
		ResultType:    ResultVector,
		ExpectedRange: ldvalue.ArrayOf(ldvalue.ArrayOf(ldvalue.Int(0), ldvalue.Int(5)), ldvalue.ArrayOf(ldvalue.Int(-1), ldvalue.Int(1))),
		ResultUnit:    ResultUnit{X: "s", Y: "V", Axes: true},
		Result:        ldvalue.ArrayOf(ldvalue.Float64(0.5), ldvalue.Float64(0.25)),
		Pass:          PassFalse,
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	back, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev.Type, back.Type)
	assert.Equal(t, ev.Unit, back.Unit)
	assert.Equal(t, ev.ResultUnit, back.ResultUnit)
	assert.Equal(t, ev.Pass, back.Pass)
	assert.True(t, ev.Result.Equal(back.Result))
	assert.True(t, ev.ExpectedRange.Equal(back.ExpectedRange))

	x, y, ok := AxesOf(back.ExpectedRange)
	require.True(t, ok)
	assert.Equal(t, Range{Low: 0, High: 5}, x)
	assert.Equal(t, Range{Low: -1, High: 1}, y)
}

func TestYRange(t *testing.T) {
	r, ok := YRange(ldvalue.ArrayOf(ldvalue.Int(0), ldvalue.Int(10)))
	require.True(t, ok)
	assert.Equal(t, Range{Low: 0, High: 10}, r)
	assert.True(t, r.Contains(10))
	assert.False(t, r.Contains(10.5))

	_, ok = YRange(ldvalue.String("wide"))
	assert.False(t, ok)
}

func TestExplicitUnit(t *testing.T) {
	tests := map[string]struct {
		data string
		unit int
		ok   bool
	}{
		"set":      {`{"unit index": 3}`, 3, true},
		"float":    {`{"unit index": 2.0}`, 2, true},
		"zero":     {`{"unit index": 0}`, 0, false},
		"null":     {`{"unit index": null}`, 0, false},
		"absent":   {`{"test name": "T"}`, 0, false},
		"string":   {`{"unit index": "2"}`, 0, false},
		"fraction": {`{"unit index": 1.5}`, 0, false},
		"garbage":  {`{`, 0, false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			unit, ok := ExplicitUnit([]byte(tt.data))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.unit, unit)
		})
	}
}
