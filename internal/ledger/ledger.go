// Package ledger reduces test lifecycle events into per-unit, per-test result entries.
package ledger

import (
	"slices"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// Update is one intermediate reading.
type Update struct {
	Result ldvalue.Value `json:"result"`
	Pass   Pass          `json:"pass"`
}

// Entry is the accumulated state of one (unit, test) pair.
type Entry struct {
	TestName      string        `json:"testName"`
	ResultType    ResultType    `json:"resultType"`
	ExpectedRange ldvalue.Value `json:"expectedRange"`
	ResultUnit    ResultUnit    `json:"resultUnit"`
	Updates       []Update      `json:"updates"`
	Status        Pass          `json:"status"`
	FinalResult   ldvalue.Value `json:"finalResult"`
	Ended         bool          `json:"ended"`
}

// Ledger is an immutable result snapshot. The zero value is an empty ledger.
// Reduce never modifies its input, so a Ledger may be shared freely once produced.
type Ledger struct {
	entries  map[Key]Entry
	order    map[int][]string
	lastUnit int
}

// Reduce applies ev to l and returns the new ledger. A malformed event returns l unchanged
// together with an error wrapping ErrMalformedEvent.
func Reduce(l Ledger, ev Event) (Ledger, error) {
	if err := ev.Validate(); err != nil {
		return l, err
	}

	key := ev.Key()
	entry, exists := l.entries[key]

	switch ev.Type {
	case MessageNewTest:
		entry = Entry{
			TestName:      ev.TestName,
			ResultType:    ev.ResultType,
			ExpectedRange: ev.ExpectedRange,
			ResultUnit:    ev.ResultUnit,
			Updates:       []Update{},
			Status:        PassInProgress,
		}
	case MessageUpdate:
		if !exists {
			entry = placeholder(ev)
		}
		entry.Updates = append(slices.Clip(entry.Updates), Update{Result: ev.Result, Pass: ev.Pass})
		entry.Status = ev.Pass
	case MessageTestEnd:
		if !exists {
			entry = placeholder(ev)
		}
		entry.Status = ev.Pass
		entry.FinalResult = ev.Result
		entry.Ended = true
	}

	next := Ledger{
		entries:  make(map[Key]Entry, len(l.entries)+1),
		order:    make(map[int][]string, len(l.order)+1),
		lastUnit: ev.Unit,
	}
	for k, v := range l.entries {
		next.entries[k] = v
	}
	for u, names := range l.order {
		next.order[u] = names
	}
	next.entries[key] = entry
	if !exists {
		next.order[ev.Unit] = append(slices.Clip(l.order[ev.Unit]), ev.TestName)
	}
	return next, nil
}

// placeholder is the entry created when an update or test end arrives without a new test.
func placeholder(ev Event) Entry {
	rt := ev.ResultType
	if rt == "" {
		rt = ResultBoolean
	}
	return Entry{
		TestName:      ev.TestName,
		ResultType:    rt,
		ExpectedRange: ev.ExpectedRange,
		ResultUnit:    ev.ResultUnit,
		Updates:       []Update{},
		Status:        PassInProgress,
	}
}

// Get returns the entry for (unit, testName).
func (l Ledger) Get(unit int, testName string) (Entry, bool) {
	e, ok := l.entries[Key{Unit: unit, TestName: testName}]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Unit returns the entries of one unit in first-seen order.
func (l Ledger) Unit(unit int) []Entry {
	names := l.order[unit]
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		out = append(out, l.entries[Key{Unit: unit, TestName: name}].clone())
	}
	return out
}

// Units returns the unit indices that have at least one entry, ascending.
func (l Ledger) Units() []int {
	units := make([]int, 0, len(l.order))
	for u := range l.order {
		units = append(units, u)
	}
	slices.Sort(units)
	return units
}

// Snapshot returns every unit's entries, keyed by unit index.
func (l Ledger) Snapshot() map[int][]Entry {
	out := make(map[int][]Entry, len(l.order))
	for u := range l.order {
		out[u] = l.Unit(u)
	}
	return out
}

// LastActiveUnit is the unit of the most recently applied event, or 0.
func (l Ledger) LastActiveUnit() int {
	return l.lastUnit
}

// Len returns the number of entries across all units.
func (l Ledger) Len() int {
	return len(l.entries)
}

func (e Entry) clone() Entry {
	e.Updates = slices.Clone(e.Updates)
	if e.Updates == nil {
		e.Updates = []Update{}
	}
	return e
}
