package history

import (
	"fmt"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
	"github.com/testmaster/testmaster/internal/ledger"
)

// Point is one (x, y) sample of a vector series.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Result is the display projection of one test.
type Result struct {
	TestName      string            `json:"testName"`
	ResultType    ledger.ResultType `json:"resultType"`
	ExpectedRange ldvalue.Value     `json:"expectedRange"`
	ResultUnit    ledger.ResultUnit `json:"resultUnit"`
	Result        ldvalue.Value     `json:"result"`
	Pass          ledger.Pass       `json:"pass"`
	Series        []Point           `json:"series,omitempty"`
}

// View is the read-only reconstruction of a record.
type View struct {
	Metadata Metadata `json:"metadata"`
	Results  []Result `json:"results"`
}

// Reconstruct projects rec into one Result per test name, in first-seen order. It fails as a
// whole when any test cannot be determined; no partial view is returned.
func Reconstruct(rec Record) (View, error) {
	var order []string
	byTest := make(map[string][]Row)
	for _, r := range rec.Rows {
		if _, ok := byTest[r.TestName]; !ok {
			order = append(order, r.TestName)
		}
		byTest[r.TestName] = append(byTest[r.TestName], r)
	}

	view := View{Metadata: rec.Metadata, Results: make([]Result, 0, len(order))}
	for _, name := range order {
		res, err := reconstructTest(name, byTest[name])
		if err != nil {
			return View{}, tmerrors.Attr(err, "test", name)
		}
		view.Results = append(view.Results, res)
	}
	return view, nil
}

func reconstructTest(name string, rows []Row) (Result, error) {
	rt, err := resultType(rows)
	if err != nil {
		return Result{}, err
	}

	res := Result{TestName: name, ResultType: rt}
	res.ExpectedRange, res.ResultUnit = header(rows)

	switch rt {
	case ledger.ResultVector:
		end, ok := lastOf(rows, ledger.MessageTestEnd)
		if !ok {
			return Result{}, fmt.Errorf("%w: vector test %q has no test end row", ErrIncomplete, name)
		}
		res.Pass = end.Pass
		// Axis metadata belongs to the test end row when it carries any.
		if !end.ExpectedRange.IsNull() {
			res.ExpectedRange = end.ExpectedRange
		}
		if end.ResultUnit != (ledger.ResultUnit{}) {
			res.ResultUnit = end.ResultUnit
		}
		res.Series = []Point{}
		for _, r := range rows {
			if r.MessageType != ledger.MessageUpdate {
				continue
			}
			if x, y, ok := ledger.Point(r.Result); ok {
				res.Series = append(res.Series, Point{X: x, Y: y})
			}
		}
	default:
		last := rows[len(rows)-1]
		res.Result = last.Result
		res.Pass = last.Pass
	}
	return res, nil
}

// resultType is the first declared type of the test. Conflicting declarations fail; a test
// that never declares one falls back to boolean like a live placeholder entry.
func resultType(rows []Row) (ledger.ResultType, error) {
	var rt ledger.ResultType
	for _, r := range rows {
		if r.ResultType == "" {
			continue
		}
		if rt == "" {
			rt = r.ResultType
			continue
		}
		if r.ResultType != rt {
			return "", fmt.Errorf("%w: result type changes from %s to %s", ErrMalformed, rt, r.ResultType)
		}
	}
	if rt == "" {
		rt = ledger.ResultBoolean
	}
	return rt, nil
}

// header takes range and unit from the last row that carries them.
func header(rows []Row) (ldvalue.Value, ledger.ResultUnit) {
	rng := ldvalue.Null()
	var unit ledger.ResultUnit
	for _, r := range rows {
		if !r.ExpectedRange.IsNull() {
			rng = r.ExpectedRange
		}
		if r.ResultUnit != (ledger.ResultUnit{}) {
			unit = r.ResultUnit
		}
	}
	return rng, unit
}

func lastOf(rows []Row, mt ledger.MessageType) (Row, bool) {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].MessageType == mt {
			return rows[i], true
		}
	}
	return Row{}, false
}
