// Package stats summarises pass yield across the units of a run.
package stats

import "github.com/testmaster/testmaster/internal/ledger"

// Confidence is the level used for Summarize intervals.
const Confidence = 0.95

// Yield is the outcome of one test across every unit that reported it.
type Yield struct {
	TestName   string  `json:"testName"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	InProgress int     `json:"inProgress"`
	Rate       float64 `json:"rate"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
}

// Decided is the number of units with a final verdict.
func (y Yield) Decided() int { return y.Passed + y.Failed }

// Summarize counts verdicts per test name. Tests appear in the order they were first seen,
// walking units in ascending order. Rate and interval are computed over decided units only.
func Summarize(l ledger.Ledger) []Yield {
	var out []Yield
	index := make(map[string]int)

	for _, unit := range l.Units() {
		for _, e := range l.Unit(unit) {
			i, ok := index[e.TestName]
			if !ok {
				i = len(out)
				index[e.TestName] = i
				out = append(out, Yield{TestName: e.TestName})
			}
			switch e.Status {
			case ledger.PassTrue:
				out[i].Passed++
			case ledger.PassFalse:
				out[i].Failed++
			default:
				out[i].InProgress++
			}
		}
	}

	for i := range out {
		y := &out[i]
		if d := y.Decided(); d > 0 {
			y.Rate = float64(y.Passed) / float64(d)
			y.Lower, y.Upper = WilsonInterval(y.Passed, d, Confidence)
		}
	}
	return out
}
