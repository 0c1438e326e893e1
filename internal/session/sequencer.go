package session

import "sort"

// Sequencer releases frames in seq order. A frame that arrives ahead of a gap is held until
// the gap fills; frames with seq 0 carry no ordering and pass straight through. Seq restarts
// at 1 for every run, so seq 1 after a released frame begins a new sequence. Callers
// serialise access.
type Sequencer struct {
	last     int
	deferred []Frame
}

// Accept returns the frames that are now deliverable, in order. Frames at or below the
// last released seq are duplicates and are reported separately.
func (q *Sequencer) Accept(f Frame) (ready []Frame, duplicate bool) {
	if f.Seq == 0 {
		return []Frame{f}, false
	}
	if f.Seq == 1 && q.last > 0 {
		q.Reset()
	}
	if f.Seq <= q.last {
		return nil, true
	}
	if f.Seq > q.last+1 {
		for _, d := range q.deferred {
			if d.Seq == f.Seq {
				return nil, true
			}
		}
		q.deferred = append(q.deferred, f)
		sort.Slice(q.deferred, func(i, j int) bool { return q.deferred[i].Seq < q.deferred[j].Seq })
		return nil, false
	}

	q.last = f.Seq
	ready = append(ready, f)
	for len(q.deferred) > 0 {
		next := q.deferred[0]
		if next.Seq != q.last+1 {
			break
		}
		q.deferred = q.deferred[1:]
		q.last++
		ready = append(ready, next)
	}
	return ready, false
}

// Pending returns the number of frames waiting on a gap.
func (q *Sequencer) Pending() int {
	return len(q.deferred)
}

// Reset forgets all ordering state.
func (q *Sequencer) Reset() {
	q.last = 0
	q.deferred = nil
}
