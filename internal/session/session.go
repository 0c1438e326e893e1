// Package session owns the live state of one operator session: the loaded catalog and its
// selection, the active unit configuration and the result ledger fed by an event source.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/testmaster/testmaster/internal/catalog"
	tmerrors "github.com/testmaster/testmaster/internal/errors"
	"github.com/testmaster/testmaster/internal/ledger"
	"github.com/testmaster/testmaster/internal/logging"
	"github.com/testmaster/testmaster/internal/metrics"
	"github.com/testmaster/testmaster/internal/selection"
)

const maxFailures = 100

// ErrNoScript is returned by operations that need a loaded script.
var ErrNoScript = tmerrors.New(tmerrors.KindValidation, "no script loaded")

// Failure records a dropped frame.
type Failure struct {
	At     time.Time       `json:"at"`
	Seq    int             `json:"seq,omitempty"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Options configures a Session. Zero values select a discard logger, no metrics and
// count unit mode.
type Options struct {
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	UnitMode UnitMode
}

// Session serialises every mutation behind one mutex so HTTP handlers and the event
// consumer can share it.
type Session struct {
	mu sync.Mutex

	backend Backend
	logger  *logging.Logger
	metrics *metrics.Metrics

	script    string
	tree      *catalog.Tree
	selection *selection.Model
	config    *Config
	ledger    ledger.Ledger
	seq       Sequencer
	complete  bool
	running   bool
	failures  []Failure
}

// New returns an empty session driven by backend.
func New(backend Backend, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	mode := opts.UnitMode
	if mode == "" {
		mode = UnitModeCount
	}
	return &Session{
		backend:   backend,
		logger:    logger.WithComponent("session"),
		metrics:   opts.Metrics,
		tree:      &catalog.Tree{},
		selection: selection.New(),
		config:    NewConfig(mode),
	}
}

// Scripts lists the scripts the backend offers.
func (s *Session) Scripts(ctx context.Context) ([]string, error) {
	return s.backend.ListScripts(ctx)
}

// LoadScript fetches and installs the catalog of name. On failure every piece of session
// state is left as it was.
func (s *Session) LoadScript(ctx context.Context, name string) error {
	cat, err := s.backend.FetchCatalog(ctx, name)
	if err != nil {
		s.logger.Warn("catalog load failed", "script", name, "err", err)
		return err
	}
	tree, err := catalog.Build(cat.Tests)
	if err != nil {
		s.logger.Warn("catalog rejected", "script", name, "err", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.script = name
	s.tree = tree
	s.selection.Initialize(tree)
	s.config.Reset(cat.MultiUnitSupportedNumber)
	s.resetResults()
	s.failures = nil
	s.logger.Info("script loaded", "script", name, "nodes", tree.Len(), "max_units", s.config.MaxUnits())
	return nil
}

// resetResults discards the ledger and ordering state. Callers hold mu.
func (s *Session) resetResults() {
	s.ledger = ledger.Ledger{}
	s.seq.Reset()
	s.complete = false
}

// Toggle flips a catalog node with cascade. Unknown ids report false.
func (s *Session) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.Toggle(id)
}

// Select replaces the selection with ids and their descendants. It fails without changing
// anything when an id is not in the loaded tree.
func (s *Session) Select(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.tree.Lookup(id); !ok {
			return tmerrors.Errorf(tmerrors.KindNotFound, "unknown test %q", id)
		}
	}
	for _, root := range s.tree.Roots() {
		s.selection.Set(root.ID, false)
	}
	for _, id := range ids {
		s.selection.Set(id, true)
	}
	return nil
}

// SetUnits replaces the active unit list, discarding results when it changes.
func (s *Session) SetUnits(units []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := s.config.SetUnits(units)
	if err != nil {
		return err
	}
	if changed {
		s.resetResults()
		s.logger.Debug("active units changed", "units", s.config.Units())
	}
	return nil
}

// SetUnitCount activates units 1..n, discarding results when the set changes.
func (s *Session) SetUnitCount(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := s.config.SetUnitCount(n)
	if err != nil {
		return err
	}
	if changed {
		s.resetResults()
	}
	return nil
}

// SetDetails stores operator, serial and comment fields by position.
func (s *Session) SetDetails(d Details) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.ApplyDetails(d)
}

// SetTab selects the displayed unit.
func (s *Session) SetTab(unit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.SetTab(unit)
}

// Start asks the backend to run the selected tests on the active units. The ledger is not
// touched; results arrive through the event source.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.script == "" {
		s.mu.Unlock()
		return ErrNoScript
	}
	req := StartRequest{
		Script:              s.script,
		Tests:               s.selection.SelectedLeaves(),
		Details:             s.config.Details(),
		SelectedUnitNumbers: s.config.Units(),
	}
	prevComplete, prevRunning, prevSeq := s.complete, s.running, s.seq
	s.complete = false
	s.running = true
	s.seq.Reset()
	s.mu.Unlock()

	if req.Tests == nil {
		req.Tests = []string{}
	}
	if err := s.backend.Start(ctx, req); err != nil {
		s.mu.Lock()
		s.complete, s.running = prevComplete, prevRunning
		// Frames held since the reset belong to the run still in progress.
		held := s.seq.deferred
		s.seq = prevSeq
		for _, f := range held {
			s.accept(f)
		}
		s.mu.Unlock()
		s.logger.Warn("start failed", "script", req.Script, "err", err)
		return err
	}
	s.logger.Info("run started", "script", req.Script, "tests", len(req.Tests), "units", req.SelectedUnitNumbers)
	return nil
}

// Stop asks the backend to stop. Existing results are kept.
func (s *Session) Stop(ctx context.Context) error {
	if err := s.backend.Stop(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("run stopped")
	return nil
}

// MarkRunning records that a run was started outside Start, e.g. by another client of
// the same executor. Ordering restarts with the new run.
func (s *Session) MarkRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.complete = false
	s.seq.Reset()
}

// Deliver applies one frame from the push channel, reordering by seq first.
func (s *Session) Deliver(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accept(f)
}

// accept passes f through the sequencer and applies whatever it releases. Callers hold mu.
func (s *Session) accept(f Frame) {
	ready, dup := s.seq.Accept(f)
	if dup {
		s.fail(f, "duplicate", "duplicate seq")
		return
	}
	for _, r := range ready {
		s.apply(r)
	}
}

// apply runs one in-order frame. Callers hold mu.
func (s *Session) apply(f Frame) {
	switch f.Type {
	case FrameComplete:
		s.complete = true
		s.running = false
		s.logger.Info("run complete")
	case FrameEvent:
		ev, err := ledger.DecodeEvent(f.Data)
		if err != nil {
			s.fail(f, "malformed", err.Error())
			return
		}
		next, err := ledger.Reduce(s.ledger, ev)
		if err != nil {
			s.fail(f, "malformed", err.Error())
			return
		}
		s.ledger = next
		s.metrics.Ingested(string(ev.Type))
	default:
		s.fail(f, "unknown_frame", "unknown frame type "+string(f.Type))
	}
}

// fail records a dropped frame. Callers hold mu.
func (s *Session) fail(f Frame, kind, reason string) {
	s.logger.Warn("event dropped", "seq", f.Seq, "reason", reason)
	s.metrics.Dropped(kind)
	s.failures = append(s.failures, Failure{At: time.Now(), Seq: f.Seq, Reason: reason, Data: f.Data})
	if len(s.failures) > maxFailures {
		s.failures = s.failures[len(s.failures)-maxFailures:]
	}
}

// Consume delivers frames from src until it closes or ctx is done.
func (s *Session) Consume(ctx context.Context, src EventSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-src.Frames():
			if !ok {
				return nil
			}
			s.Deliver(f)
		}
	}
}

// Ledger returns the current result snapshot. The value is immutable.
func (s *Session) Ledger() ledger.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}

// Tree returns the loaded catalog tree.
func (s *Session) Tree() *catalog.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// Failures returns the most recent dropped frames, oldest first.
func (s *Session) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Failure(nil), s.failures...)
}

// State is a point-in-time view of everything but the ledger.
type State struct {
	Script         string          `json:"script"`
	Tests          catalog.Mapping `json:"tests"`
	Selection      map[string]bool `json:"selection"`
	UnitMode       UnitMode        `json:"unitMode"`
	MaxUnits       int             `json:"maxUnits"`
	Units          []int           `json:"units"`
	Details        Details         `json:"details"`
	Tab            int             `json:"tab"`
	LastActiveUnit int             `json:"lastActiveUnit"`
	Running        bool            `json:"running"`
	Complete       bool            `json:"complete"`
	Pending        int             `json:"pending"`
}

// State returns a copy of the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Script:         s.script,
		Tests:          s.tree.Mapping(),
		Selection:      s.selection.Snapshot(),
		UnitMode:       s.config.Mode(),
		MaxUnits:       s.config.MaxUnits(),
		Units:          s.config.Units(),
		Details:        s.config.Details(),
		Tab:            s.config.Tab(),
		LastActiveUnit: s.ledger.LastActiveUnit(),
		Running:        s.running,
		Complete:       s.complete,
		Pending:        s.seq.Pending(),
	}
}
