package server

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/testmaster/testmaster/internal/history"
	"github.com/testmaster/testmaster/internal/journal"
	"github.com/testmaster/testmaster/internal/ledger"
	"github.com/testmaster/testmaster/internal/logging"
	"github.com/testmaster/testmaster/internal/runner"
	"github.com/testmaster/testmaster/internal/session"
	"github.com/testmaster/testmaster/internal/store"
	"github.com/testmaster/testmaster/internal/stream"
)

// CompleteMessage is the text of the run-complete envelope.
const CompleteMessage = "Test execution complete."

type unitEvent struct {
	unit int
	ev   ledger.Event
}

// Broker receives runner output. Each event is stamped with the next sequence number,
// journaled, applied to the local session and broadcast, in that order. On completion the
// run is saved as one record per unit.
type Broker struct {
	store   store.Store
	journal *journal.Journal
	hub     *stream.Hub
	session *session.Session
	logger  *logging.Logger

	mu     sync.Mutex
	run    runner.Run
	seq    int
	events []unitEvent
}

func NewBroker(st store.Store, j *journal.Journal, hub *stream.Hub, sess *session.Session, logger *logging.Logger) *Broker {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Broker{
		store:   st,
		journal: j,
		hub:     hub,
		session: sess,
		logger:  logger.WithComponent("broker"),
	}
}

func (b *Broker) Begin(ctx context.Context, run runner.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.journal != nil {
		if err := b.journal.Begin(journal.RunInfo{ID: run.ID, Request: run.Request, Started: run.Started}); err != nil {
			return err
		}
	}
	b.run = run
	b.seq = 0
	b.events = nil
	b.session.MarkRunning()
	return nil
}

func (b *Broker) Emit(ctx context.Context, data json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev, err := ledger.DecodeEvent(data); err == nil {
		if unit, ok := ledger.ExplicitUnit(data); ok {
			b.events = append(b.events, unitEvent{unit: unit, ev: ev})
		}
	}

	b.seq++
	return b.publish(session.Frame{Type: session.FrameEvent, Seq: b.seq, Data: data})
}

func (b *Broker) Complete(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	msg, _ := json.Marshal(map[string]string{"message": CompleteMessage})
	if err := b.publish(session.Frame{Type: session.FrameComplete, Seq: b.seq, Data: msg}); err != nil {
		return err
	}
	return b.save(ctx)
}

// publish fans f out. Callers hold mu. A journal failure is logged and does not stop the
// frame from reaching live clients.
func (b *Broker) publish(f session.Frame) error {
	if b.journal != nil {
		if err := b.journal.Append(f); err != nil {
			b.logger.Error("journal append failed", "seq", f.Seq, "err", err)
		}
	}
	b.session.Deliver(f)
	return b.hub.Broadcast(f)
}

// save writes one record per explicitly indexed unit. Callers hold mu.
func (b *Broker) save(ctx context.Context) error {
	if b.store == nil {
		return nil
	}

	byUnit := make(map[int][]ledger.Event)
	for _, ue := range b.events {
		byUnit[ue.unit] = append(byUnit[ue.unit], ue.ev)
	}
	units := make([]int, 0, len(byUnit))
	for u := range byUnit {
		units = append(units, u)
	}
	slices.Sort(units)

	req := b.run.Request
	for _, unit := range units {
		serial, comment := unitDetails(req, unit)
		meta := history.Metadata{
			ScriptName:   req.Script,
			OperatorName: req.Details.OperatorName,
			UnitIndex:    unit,
			Serial:       serial,
			Comments:     comment,
		}
		run := history.ToRun(history.FromEvents(meta, byUnit[unit]))
		run.CreatedAt = b.run.Started
		saved, err := b.store.SaveRun(ctx, run)
		if err != nil {
			b.logger.Error("failed to save run", "unit", unit, "err", err)
			return err
		}
		b.logger.Info("run saved", "id", saved.ID, "unit", unit, "rows", len(saved.Rows))
	}
	return nil
}

// unitDetails picks the serial and comment entered for unit. Details are kept by position in
// the active unit list; a unit outside that list falls back to index unit-1.
func unitDetails(req session.StartRequest, unit int) (serial, comment string) {
	pos := slices.Index(req.SelectedUnitNumbers, unit)
	if pos < 0 {
		pos = unit - 1
	}
	if pos >= 0 && pos < len(req.Details.Serials) {
		serial = req.Details.Serials[pos]
	}
	if pos >= 0 && pos < len(req.Details.Comments) {
		comment = req.Details.Comments[pos]
	}
	return serial, comment
}

// Restore replays the journal into the session so results of the last run survive a
// restart. The run's script and unit configuration are reloaded first.
func (b *Broker) Restore(ctx context.Context) error {
	if b.journal == nil {
		return nil
	}
	run, frames, err := b.journal.Replay()
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}

	log := b.logger.With("run", run.ID, "script", run.Request.Script)
	if err := b.session.LoadScript(ctx, run.Request.Script); err != nil {
		log.Warn("journaled script unavailable", "err", err)
	} else {
		if err := b.session.SetUnits(run.Request.SelectedUnitNumbers); err != nil {
			log.Warn("journaled units rejected", "err", err)
		}
		if err := b.session.SetDetails(run.Request.Details); err != nil {
			log.Warn("journaled details rejected", "err", err)
		}
	}
	for _, f := range frames {
		b.session.Deliver(f)
	}

	b.mu.Lock()
	b.run = runner.Run{ID: run.ID, Request: run.Request, Started: run.Started}
	b.seq = len(frames)
	b.mu.Unlock()

	log.Info("journal replayed", "frames", len(frames))
	return nil
}
