// Package journal is the append-only log of the current run: its start request followed by
// every frame broadcast for it. The journal is reset when a run starts and replayed on boot
// so live state survives a restart.
package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tidwall/wal"

	"github.com/testmaster/testmaster/internal/session"
)

// Kind tags a journal entry.
type Kind string

const (
	KindRun   Kind = "run"
	KindFrame Kind = "frame"
)

// RunInfo is the header written when a run begins.
type RunInfo struct {
	ID      string               `json:"id"`
	Request session.StartRequest `json:"request"`
	Started time.Time            `json:"started"`
}

// Entry is one journal record.
type Entry struct {
	Kind  Kind           `json:"kind"`
	Run   *RunInfo       `json:"run,omitempty"`
	Frame *session.Frame `json:"frame,omitempty"`
}

type Journal struct {
	mu        sync.Mutex
	path      string
	log       *wal.Log
	nextIndex uint64
	sync      bool
}

// Options tunes durability. Sync forces an fsync on every append.
type Options struct {
	Sync bool
}

// Open opens or creates the journal in dir.
func Open(dir string, opts Options) (*Journal, error) {
	j := &Journal{path: dir, sync: opts.Sync}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) open() error {
	log, err := wal.Open(j.path, &wal.Options{NoSync: !j.sync})
	if err != nil {
		return fmt.Errorf("could not open journal: %w", err)
	}
	last, err := log.LastIndex()
	if err != nil {
		log.Close()
		return fmt.Errorf("could not read last index: %w", err)
	}
	j.log = log
	j.nextIndex = last + 1
	return nil
}

// Begin resets the journal and writes the run header.
func (j *Journal) Begin(run RunInfo) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.log.Close(); err != nil {
		return fmt.Errorf("could not close journal: %w", err)
	}
	if err := os.RemoveAll(j.path); err != nil {
		return fmt.Errorf("could not reset journal: %w", err)
	}
	if err := j.open(); err != nil {
		return err
	}
	return j.append(Entry{Kind: KindRun, Run: &run})
}

// Append writes one frame.
func (j *Journal) Append(f session.Frame) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append(Entry{Kind: KindFrame, Frame: &f})
}

func (j *Journal) append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("could not marshal entry: %w", err)
	}
	if err := j.log.Write(j.nextIndex, data); err != nil {
		return fmt.Errorf("could not write index %d: %w", j.nextIndex, err)
	}
	j.nextIndex++
	return nil
}

// Iterator walks the journal from the first entry.
type Iterator struct {
	currentIndex uint64
	stopIndex    uint64
	log          *wal.Log
}

func (i *Iterator) LoadNext() (Entry, error) {
	if i.currentIndex == 0 || i.currentIndex > i.stopIndex {
		return Entry{}, io.EOF
	}

	data, err := i.log.Read(i.currentIndex)
	if err != nil {
		return Entry{}, fmt.Errorf("could not read index %d: %w", i.currentIndex, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("could not decode index %d, is the journal corrupt? %w", i.currentIndex, err)
	}

	i.currentIndex++
	return e, nil
}

func (j *Journal) Iterator() (*Iterator, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	firstIndex, err := j.log.FirstIndex()
	if err != nil {
		return nil, fmt.Errorf("could not read first index: %w", err)
	}
	lastIndex, err := j.log.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("could not read last index: %w", err)
	}

	return &Iterator{currentIndex: firstIndex, stopIndex: lastIndex, log: j.log}, nil
}

// Replay returns the last run header (nil if none) and the frames written after it.
func (j *Journal) Replay() (*RunInfo, []session.Frame, error) {
	it, err := j.Iterator()
	if err != nil {
		return nil, nil, err
	}

	var run *RunInfo
	var frames []session.Frame
	for {
		e, err := it.LoadNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		switch e.Kind {
		case KindRun:
			run = e.Run
			frames = nil
		case KindFrame:
			if e.Frame != nil {
				frames = append(frames, *e.Frame)
			}
		}
	}
	return run, frames, nil
}

// Sync flushes pending writes.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.log.Sync()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.log.Close()
}
