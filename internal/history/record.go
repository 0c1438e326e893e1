// Package history rebuilds display results from exported per-unit run records.
package history

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
	"github.com/testmaster/testmaster/internal/ledger"
	"github.com/testmaster/testmaster/internal/store"
)

var (
	// ErrMalformed is returned for records that cannot be decoded or carry missing metadata.
	ErrMalformed = tmerrors.New(tmerrors.KindValidation, "malformed historical record")
	// ErrIncomplete is returned when a record lacks rows needed to determine a result.
	ErrIncomplete = tmerrors.New(tmerrors.KindValidation, "incomplete historical record")
)

// Metadata is the header of one unit's run.
type Metadata struct {
	ScriptName   string `json:"Script Name"`
	OperatorName string `json:"Operator Name"`
	DateTime     string `json:"Date/Time"`
	UnitIndex    int    `json:"Unit Index"`
	Serial       string `json:"Device Serial No."`
	Comments     string `json:"Additional Comments"`
}

var metadataKeys = []string{
	"Script Name", "Operator Name", "Date/Time", "Unit Index", "Device Serial No.", "Additional Comments",
}

// Row is one flat event of a record. It has no unit dimension.
type Row struct {
	MessageType   ledger.MessageType
	TestName      string
	ResultType    ledger.ResultType
	ExpectedRange ldvalue.Value
	ResultUnit    ledger.ResultUnit
	Result        ldvalue.Value
	Pass          ledger.Pass
}

type wireRow struct {
	MessageType   string        `json:"message type"`
	TestName      string        `json:"test name"`
	ResultType    string        `json:"result type,omitempty"`
	ExpectedRange ldvalue.Value `json:"expected range"`
	ResultUnit    ldvalue.Value `json:"result unit"`
	Result        ldvalue.Value `json:"result"`
	Pass          ldvalue.Value `json:"pass"`
}

// Record is one unit's completed run.
type Record struct {
	Metadata Metadata `json:"metadata"`
	Rows     []Row    `json:"results"`
}

// Decode parses an exported record. All six metadata fields must be present and every row
// must carry a known message type, a test name and a normalisable pass value.
func Decode(data []byte) (Record, error) {
	var raw struct {
		Metadata map[string]json.RawMessage `json:"metadata"`
		Results  []json.RawMessage          `json:"results"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Metadata == nil {
		return Record{}, fmt.Errorf("%w: missing metadata", ErrMalformed)
	}

	var missing []string
	for _, k := range metadataKeys {
		if _, ok := raw.Metadata[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Record{}, tmerrors.Attr(
			fmt.Errorf("%w: missing metadata %s", ErrMalformed, strings.Join(missing, ", ")),
			"missing", missing)
	}

	var rec Record
	meta, _ := json.Marshal(raw.Metadata)
	if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
		return Record{}, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
	}

	rec.Rows = make([]Row, 0, len(raw.Results))
	for i, r := range raw.Results {
		var row Row
		if err := json.Unmarshal(r, &row); err != nil {
			return Record{}, tmerrors.Attr(fmt.Errorf("%w: row %d: %v", ErrMalformed, i, err), "row", i)
		}
		rec.Rows = append(rec.Rows, row)
	}
	return rec, nil
}

func (r *Row) UnmarshalJSON(data []byte) error {
	var w wireRow
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	mt := ledger.MessageType(w.MessageType)
	if mt != ledger.MessageNewTest && mt != ledger.MessageUpdate && mt != ledger.MessageTestEnd {
		return fmt.Errorf("unknown message type %q", w.MessageType)
	}
	if w.TestName == "" {
		return fmt.Errorf("missing test name")
	}
	rt, err := ledger.ParseResultType(w.ResultType)
	if err != nil {
		return err
	}
	ru, err := ledger.ParseResultUnit(w.ResultUnit)
	if err != nil {
		return err
	}
	pass, err := ledger.ParsePass(w.Pass)
	if err != nil {
		return err
	}

	*r = Row{
		MessageType:   mt,
		TestName:      w.TestName,
		ResultType:    rt,
		ExpectedRange: w.ExpectedRange,
		ResultUnit:    ru,
		Result:        w.Result,
		Pass:          pass,
	}
	return nil
}

func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

func (r Row) wire() wireRow {
	pass := ldvalue.String("in progress")
	if r.Pass.Decided() {
		pass = ldvalue.Bool(r.Pass == ledger.PassTrue)
	}
	return wireRow{
		MessageType:   string(r.MessageType),
		TestName:      r.TestName,
		ResultType:    string(r.ResultType),
		ExpectedRange: r.ExpectedRange,
		ResultUnit:    r.ResultUnit.Value(),
		Result:        r.Result,
		Pass:          pass,
	}
}

// FromEvents projects the events of one unit into rows, dropping the unit dimension.
func FromEvents(meta Metadata, events []ledger.Event) Record {
	rows := make([]Row, 0, len(events))
	for _, ev := range events {
		rows = append(rows, Row{
			MessageType:   ev.Type,
			TestName:      ev.TestName,
			ResultType:    ev.ResultType,
			ExpectedRange: ev.ExpectedRange,
			ResultUnit:    ev.ResultUnit,
			Result:        ev.Result,
			Pass:          ev.Pass,
		})
	}
	return Record{Metadata: meta, Rows: rows}
}

// ToRun converts rec into a store run. JSON-valued fields are stored as JSON text.
func ToRun(rec Record) *store.Run {
	run := &store.Run{
		ScriptName:   rec.Metadata.ScriptName,
		UnitIndex:    rec.Metadata.UnitIndex,
		Serial:       rec.Metadata.Serial,
		OperatorName: rec.Metadata.OperatorName,
		Comments:     rec.Metadata.Comments,
		Rows:         make([]store.Row, 0, len(rec.Rows)),
	}
	for _, r := range rec.Rows {
		w := r.wire()
		run.Rows = append(run.Rows, store.Row{
			MessageType:   w.MessageType,
			TestName:      w.TestName,
			ResultType:    w.ResultType,
			ExpectedRange: w.ExpectedRange.JSONString(),
			ResultUnit:    w.ResultUnit.JSONString(),
			Result:        w.Result.JSONString(),
			Pass:          w.Pass.JSONString(),
		})
	}
	return run
}

// FromRun rebuilds the record of a stored run. The run timestamp becomes the Date/Time field.
func FromRun(run *store.Run) (Record, error) {
	rec := Record{
		Metadata: Metadata{
			ScriptName:   run.ScriptName,
			OperatorName: run.OperatorName,
			DateTime:     run.CreatedAt.Format("2006-01-02 15:04:05"),
			UnitIndex:    run.UnitIndex,
			Serial:       run.Serial,
			Comments:     run.Comments,
		},
		Rows: make([]Row, 0, len(run.Rows)),
	}

	for i, sr := range run.Rows {
		w := wireRow{
			MessageType:   sr.MessageType,
			TestName:      sr.TestName,
			ResultType:    sr.ResultType,
			ExpectedRange: ldvalue.Parse([]byte(sr.ExpectedRange)),
			ResultUnit:    ldvalue.Parse([]byte(sr.ResultUnit)),
			Result:        ldvalue.Parse([]byte(sr.Result)),
			Pass:          ldvalue.Parse([]byte(sr.Pass)),
		}
		data, err := json.Marshal(w)
		if err != nil {
			return Record{}, fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		var row Row
		if err := json.Unmarshal(data, &row); err != nil {
			return Record{}, tmerrors.Attr(fmt.Errorf("%w: stored row %d: %v", ErrMalformed, i, err), "run", run.ID)
		}
		rec.Rows = append(rec.Rows, row)
	}
	return rec, nil
}
