package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
	"github.com/testmaster/testmaster/internal/ledger"
	"github.com/testmaster/testmaster/internal/store"
)

const metadataJSON = `{
	"Script Name": "smoke",
	"Operator Name": "alex",
	"Date/Time": "2026-10-14 09:30:00",
	"Unit Index": 2,
	"Device Serial No.": "SN-002",
	"Additional Comments": ""
}`

func record(rows string) []byte {
	return []byte(`{"metadata": ` + metadataJSON + `, "results": ` + rows + `}`)
}

const vectorRows = `[
	{"message type": "new test", "test name": "V", "result type": "vector", "result unit": ["s", "V"]},
	{"message type": "update", "test name": "V", "result type": "vector", "result": [1, 2]},
	{"message type": "update", "test name": "V", "result type": "vector", "result": [3, 4]},
	{"message type": "test end", "test name": "V", "result type": "vector", "pass": true, "expected range": [0, 10]}
]`

func TestReconstruct_VectorSeries(t *testing.T) {
	rec, err := Decode(record(vectorRows))
	require.NoError(t, err)

	view, err := Reconstruct(rec)
	require.NoError(t, err)
	require.Len(t, view.Results, 1)

	v := view.Results[0]
	assert.Equal(t, ledger.ResultVector, v.ResultType)
	assert.Equal(t, []Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, v.Series)
	assert.Equal(t, ledger.PassTrue, v.Pass)

	yr, ok := ledger.YRange(v.ExpectedRange)
	require.True(t, ok)
	assert.Equal(t, ledger.Range{Low: 0, High: 10}, yr)
	assert.Equal(t, ledger.ResultUnit{X: "s", Y: "V", Axes: true}, v.ResultUnit)
}

func TestReconstruct_VectorAxesFromTestEnd(t *testing.T) {
	rec, err := Decode(record(`[
		{"message type": "new test", "test name": "V", "result type": "vector", "expected range": [[0, 1], [0, 1]], "result unit": ["s", "V"]},
		{"message type": "update", "test name": "V", "result type": "vector", "result": [1, 2], "expected range": [[0, 5], [0, 5]], "result unit": ["ms", "mV"]},
		{"message type": "test end", "test name": "V", "result type": "vector", "pass": true, "expected range": [[0, 2], [0, 10]], "result unit": ["s", "dBm"]},
		{"message type": "new test", "test name": "W", "result type": "vector", "expected range": [[0, 3], [0, 3]], "result unit": ["s", "A"]},
		{"message type": "update", "test name": "W", "result type": "vector", "result": [1, 1], "expected range": [[0, 4], [0, 4]]},
		{"message type": "test end", "test name": "W", "result type": "vector", "pass": false}
	]`))
	require.NoError(t, err)

	view, err := Reconstruct(rec)
	require.NoError(t, err)
	require.Len(t, view.Results, 2)

	v := view.Results[0]
	assert.Equal(t, "[[0,2],[0,10]]", v.ExpectedRange.JSONString())
	assert.Equal(t, ledger.ResultUnit{X: "s", Y: "dBm", Axes: true}, v.ResultUnit)

	// nothing on the test end row: fall back to the last row carrying it
	w := view.Results[1]
	assert.Equal(t, "[[0,4],[0,4]]", w.ExpectedRange.JSONString())
	assert.Equal(t, ledger.ResultUnit{X: "s", Y: "A", Axes: true}, w.ResultUnit)
}

func TestReconstruct_VectorWithoutTestEndFails(t *testing.T) {
	rec, err := Decode(record(`[
		{"message type": "update", "test name": "V", "result type": "vector", "result": [1, 2]},
		{"message type": "update", "test name": "V", "result type": "vector", "result": [3, 4]}
	]`))
	require.NoError(t, err)

	view, err := Reconstruct(rec)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Empty(t, view.Results)
	assert.Equal(t, "V", tmerrors.GetAttributes(err)["test"])
}

func TestReconstruct_VectorSkipsNonPairUpdates(t *testing.T) {
	rec, err := Decode(record(`[
		{"message type": "new test", "test name": "V", "result type": "vector"},
		{"message type": "update", "test name": "V", "result": [1, 2, 3]},
		{"message type": "update", "test name": "V", "result": "noise"},
		{"message type": "update", "test name": "V", "result": [5, 6]},
		{"message type": "test end", "test name": "V", "result": [7, 8], "pass": "false"}
	]`))
	require.NoError(t, err)

	view, err := Reconstruct(rec)
	require.NoError(t, err)
	assert.Equal(t, []Point{{X: 5, Y: 6}}, view.Results[0].Series)
	assert.Equal(t, ledger.PassFalse, view.Results[0].Pass)
}

func TestReconstruct_ScalarTypesUseLastRow(t *testing.T) {
	rec, err := Decode(record(`[
		{"message type": "new test", "test name": "Volt", "result type": "number", "expected range": [3.1, 3.5], "result unit": "V"},
		{"message type": "update", "test name": "Volt", "result": 3.0, "pass": "false"},
		{"message type": "test end", "test name": "Volt", "result": 3.3, "pass": "true"},
		{"message type": "test end", "test name": "Link", "result type": "boolean", "result": true, "pass": true},
		{"message type": "test end", "test name": "Shot", "result type": "image", "result": "images/shot.png", "pass": true}
	]`))
	require.NoError(t, err)

	view, err := Reconstruct(rec)
	require.NoError(t, err)
	require.Len(t, view.Results, 3)

	volt := view.Results[0]
	assert.Equal(t, "Volt", volt.TestName)
	assert.Equal(t, 3.3, volt.Result.Float64Value())
	assert.Equal(t, ledger.PassTrue, volt.Pass)
	assert.Equal(t, "V", volt.ResultUnit.Label)
	assert.Equal(t, "[3.1,3.5]", volt.ExpectedRange.JSONString())
	assert.Nil(t, volt.Series)

	assert.Equal(t, ledger.ResultBoolean, view.Results[1].ResultType)
	assert.Equal(t, "images/shot.png", view.Results[2].Result.StringValue())
	assert.Equal(t, "smoke", view.Metadata.ScriptName)
	assert.Equal(t, 2, view.Metadata.UnitIndex)
}

func TestReconstruct_ConflictingTypesFail(t *testing.T) {
	rec, err := Decode(record(`[
		{"message type": "new test", "test name": "X", "result type": "number"},
		{"message type": "test end", "test name": "X", "result type": "vector"}
	]`))
	require.NoError(t, err)

	_, err = Reconstruct(rec)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"not json", []byte(`{"metadata":`)},
		{"no metadata", []byte(`{"results": []}`)},
		{"missing serial", []byte(`{"metadata": {"Script Name": "s", "Operator Name": "", "Date/Time": "",
			"Unit Index": 1, "Additional Comments": ""}, "results": []}`)},
		{"bad unit index", []byte(`{"metadata": {"Script Name": "s", "Operator Name": "", "Date/Time": "",
			"Unit Index": "one", "Device Serial No.": "", "Additional Comments": ""}, "results": []}`)},
		{"unknown result type", record(`[{"message type": "update", "test name": "X", "result type": "waveform"}]`)},
		{"unknown message type", record(`[{"message type": "start", "test name": "X"}]`)},
		{"missing test name", record(`[{"message type": "update"}]`)},
		{"bad pass", record(`[{"message type": "update", "test name": "X", "pass": "yes"}]`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			require.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, tmerrors.KindValidation, tmerrors.GetKind(err))
		})
	}
}

func TestDecode_ReportsMissingKeys(t *testing.T) {
	_, err := Decode([]byte(`{"metadata": {"Script Name": "s"}, "results": []}`))
	require.Error(t, err)
	missing, ok := tmerrors.GetAttributes(err)["missing"].([]string)
	require.True(t, ok)
	assert.Len(t, missing, 5)
}

func TestDecode_PassRepresentationsAgree(t *testing.T) {
	rec, err := Decode(record(`[
		{"message type": "test end", "test name": "A", "pass": true},
		{"message type": "test end", "test name": "B", "pass": "true"},
		{"message type": "test end", "test name": "C", "pass": "TRUE"}
	]`))
	require.NoError(t, err)
	for _, r := range rec.Rows {
		assert.Equal(t, ledger.PassTrue, r.Pass, r.TestName)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	events := []ledger.Event{
		{Type: ledger.MessageNewTest, Unit: 2, TestName: "V", ResultType: ledger.ResultVector,
			ExpectedRange: ldvalue.ArrayOf(ldvalue.Int(0), ldvalue.Int(10)), ResultUnit: ledger.ResultUnit{X: "s", Y: "V", Axes: true}},
		{Type: ledger.MessageUpdate, Unit: 2, TestName: "V", Result: ldvalue.ArrayOf(ldvalue.Int(1), ldvalue.Int(2))},
		{Type: ledger.MessageTestEnd, Unit: 2, TestName: "V", Pass: ledger.PassTrue},
	}
	meta := Metadata{ScriptName: "smoke", OperatorName: "alex", UnitIndex: 2, Serial: "SN-002"}

	run := ToRun(FromEvents(meta, events))
	assert.Equal(t, "smoke", run.ScriptName)
	require.Len(t, run.Rows, 3)
	assert.Equal(t, `["s","V"]`, run.Rows[0].ResultUnit)
	assert.Equal(t, "true", run.Rows[2].Pass)

	run.CreatedAt = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	rec, err := FromRun(run)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-14 09:30:00", rec.Metadata.DateTime)

	// exported JSON decodes back through the upload path
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	back, err := Decode(data)
	require.NoError(t, err)

	view, err := Reconstruct(back)
	require.NoError(t, err)
	require.Len(t, view.Results, 1)
	assert.Equal(t, []Point{{X: 1, Y: 2}}, view.Results[0].Series)
	assert.Equal(t, ledger.PassTrue, view.Results[0].Pass)
}

func TestFromRun_RejectsCorruptRows(t *testing.T) {
	run := &store.Run{ID: "r1", Rows: []store.Row{{MessageType: "update", TestName: "X", Pass: `"sometimes"`}}}
	_, err := FromRun(run)
	assert.ErrorIs(t, err, ErrMalformed)
}
