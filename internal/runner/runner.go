// Package runner replays scripted test steps as lifecycle events. It stands in for the
// external executor behind the fire-and-forget start and stop calls.
package runner

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
	"github.com/testmaster/testmaster/internal/logging"
	"github.com/testmaster/testmaster/internal/metrics"
	"github.com/testmaster/testmaster/internal/script"
	"github.com/testmaster/testmaster/internal/session"
)

// ErrAlreadyRunning is returned by Start while a run is active.
var ErrAlreadyRunning = tmerrors.New(tmerrors.KindConflict, "A test is already running.")

// Emitter receives the output of a run.
type Emitter interface {
	// Begin is called once before the first event of a run.
	Begin(ctx context.Context, run Run) error
	Emit(ctx context.Context, data json.RawMessage) error
	// Complete is called after the last event of a run that was not stopped.
	Complete(ctx context.Context) error
}

// Run describes an accepted start request.
type Run struct {
	ID      string
	Request session.StartRequest
	Started time.Time
}

type Runner struct {
	scripts *script.Registry
	emitter Emitter
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(scripts *script.Registry, emitter Emitter, logger *logging.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		scripts: scripts,
		emitter: emitter,
		logger:  logger.WithComponent("runner"),
		metrics: m,
	}
}

// Start validates req and launches the run in the background. It does not wait for any
// test to execute.
func (r *Runner) Start(ctx context.Context, req session.StartRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}

	s, err := r.scripts.Get(req.Script)
	if err != nil {
		return err
	}

	units := req.SelectedUnitNumbers
	if len(units) == 0 {
		units = []int{1}
	}
	for _, u := range units {
		if u < 1 || u > s.MultiUnitSupportedNumber {
			return tmerrors.Errorf(tmerrors.KindValidation, "unit %d outside 1..%d for %s", u, s.MultiUnitSupportedNumber, s.Name)
		}
	}
	req.SelectedUnitNumbers = units

	run := Run{ID: uuid.NewString(), Request: req, Started: time.Now()}
	if err := r.emitter.Begin(ctx, run); err != nil {
		return tmerrors.Wrap(err, tmerrors.KindInternal, "failed to begin run")
	}

	plan := Plan(s, req.Tests, units)
	runCtx, cancel := context.WithCancel(context.Background())
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})

	r.metrics.RunStarted()
	r.logger.Info("run started", "run", run.ID, "script", s.Name, "invocations", len(plan), "units", units)
	go r.execute(runCtx, s, plan, r.done)
	return nil
}

func (r *Runner) execute(ctx context.Context, s *script.Script, plan []Invocation, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
		close(done)
	}()

	for _, inv := range plan {
		node, _ := s.Node(inv.TestID)
		for _, step := range node.Steps {
			if ctx.Err() != nil {
				r.logger.Info("run stopped", "test", inv.TestID, "unit", inv.Unit)
				return
			}
			data, err := step.Event(inv.TestID, inv.Unit)
			if err != nil {
				r.logger.Error("failed to render step", "test", inv.TestID, "err", err)
				continue
			}
			if err := r.emitter.Emit(ctx, data); err != nil {
				r.logger.Warn("emit failed", "test", inv.TestID, "unit", inv.Unit, "err", err)
			}
			if step.Delay > 0 {
				t := time.NewTimer(step.Delay)
				select {
				case <-ctx.Done():
					t.Stop()
				case <-t.C:
				}
			}
		}
	}

	if ctx.Err() != nil {
		r.logger.Info("run stopped")
		return
	}
	if err := r.emitter.Complete(ctx); err != nil {
		r.logger.Warn("complete failed", "err", err)
	}
	r.metrics.RunCompleted()
	r.logger.Info("run complete", "script", s.Name)
}

// Stop cancels the active run and waits for it to wind down. No completion is emitted.
// Stopping while idle is a no-op.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Wait blocks until the active run, if any, ends.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
