package runner

import (
	"github.com/testmaster/testmaster/internal/script"
)

// Invocation is one test run on one unit. Unit 0 marks a once-only test.
type Invocation struct {
	TestID string
	Unit   int
}

// Plan orders the selected tests of s across units. Per-unit tests run in ascending exec
// order: every unit completes order 1 before any unit starts order 2, and within one unit
// pass tests follow tree order. A once-only test runs a single time, at the first pass in
// which every test before it in tree order has finished on all units. Tests with exec
// order 0 never run.
func Plan(s *script.Script, selected []string, units []int) []Invocation {
	if len(units) == 0 {
		return nil
	}

	want := make(map[string]bool, len(selected))
	for _, id := range selected {
		want[id] = true
	}

	var ordered []string
	order := make(map[string]int)
	maxExec := 0
	for _, id := range s.Tree().IDs() {
		if !want[id] {
			continue
		}
		n, _ := s.Node(id)
		if n.ExecOrder == 0 {
			continue
		}
		ordered = append(ordered, id)
		order[id] = n.ExecOrder
		if n.ExecOrder > maxExec {
			maxExec = n.ExecOrder
		}
	}

	done := make(map[string][]bool, len(ordered))
	once := make(map[string]bool)
	for _, id := range ordered {
		if order[id] == script.OnceOnly {
			once[id] = false
		} else {
			done[id] = make([]bool, len(units))
		}
	}

	finished := func(id string) bool {
		if order[id] == script.OnceOnly {
			return once[id]
		}
		for _, d := range done[id] {
			if !d {
				return false
			}
		}
		return true
	}

	var plan []Invocation
	pos, loop := 0, 1
	for {
		for i, id := range ordered {
			switch o := order[id]; {
			case o == script.OnceOnly:
				if once[id] {
					continue
				}
				ready := true
				for _, prev := range ordered[:i] {
					if !finished(prev) {
						ready = false
						break
					}
				}
				if ready {
					plan = append(plan, Invocation{TestID: id})
					once[id] = true
				}
			case o == loop && !done[id][pos]:
				plan = append(plan, Invocation{TestID: id, Unit: units[pos]})
				done[id][pos] = true
			}
		}

		allOnce := true
		for _, ran := range once {
			allOnce = allOnce && ran
		}
		if loop > maxExec && allOnce {
			return plan
		}

		if pos < len(units)-1 {
			pos++
		} else {
			pos = 0
			loop++
		}
	}
}
