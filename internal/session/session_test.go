package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testmaster/testmaster/internal/catalog"
	"github.com/testmaster/testmaster/internal/ledger"
)

type fakeBackend struct {
	mu       sync.Mutex
	catalogs map[string]Catalog
	fetchErr error
	startErr error
	started  []StartRequest
	stops    int
}

func (b *fakeBackend) ListScripts(ctx context.Context) ([]string, error) {
	var names []string
	for n := range b.catalogs {
		names = append(names, n)
	}
	return names, nil
}

func (b *fakeBackend) FetchCatalog(ctx context.Context, script string) (Catalog, error) {
	if b.fetchErr != nil {
		return Catalog{}, b.fetchErr
	}
	c, ok := b.catalogs[script]
	if !ok {
		return Catalog{}, errors.New("unknown script")
	}
	return c, nil
}

func (b *fakeBackend) Start(ctx context.Context, req StartRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return b.startErr
	}
	b.started = append(b.started, req)
	return nil
}

func (b *fakeBackend) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
	return nil
}

func mustMapping(t *testing.T, src string) catalog.Mapping {
	t.Helper()
	m, err := catalog.DecodeJSON([]byte(src))
	require.NoError(t, err)
	return m
}

func newSession(t *testing.T, mode UnitMode) (*Session, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{catalogs: map[string]Catalog{
		"smoke": {Tests: mustMapping(t, `{"Power": {"Voltage": {}, "Current": {}}, "Radio": {}}`), MultiUnitSupportedNumber: 3},
		"solo":  {Tests: mustMapping(t, `{"Only": {}}`)},
	}}
	s := New(b, Options{UnitMode: mode})
	require.NoError(t, s.LoadScript(context.Background(), "smoke"))
	return s, b
}

func eventFrame(seq int, body string) Frame {
	return Frame{Type: FrameEvent, Seq: seq, Data: json.RawMessage(body)}
}

func TestLoadScript_InitializesState(t *testing.T) {
	s, _ := newSession(t, UnitModeCount)

	st := s.State()
	assert.Equal(t, "smoke", st.Script)
	assert.Equal(t, 3, st.MaxUnits)
	assert.Equal(t, []int{1}, st.Units)
	assert.Equal(t, []string{""}, st.Details.Serials)
	assert.Len(t, st.Selection, 4)
	for id, v := range st.Selection {
		assert.True(t, v, id)
	}
}

func TestLoadScript_FailureLeavesStateUnchanged(t *testing.T) {
	s, b := newSession(t, UnitModeCount)
	s.Toggle("Radio")
	s.Deliver(eventFrame(0, `{"test name": "Voltage", "message type": "new test", "result type": "number"}`))
	before := s.State()

	b.fetchErr = errors.New("backend down")
	require.Error(t, s.LoadScript(context.Background(), "smoke"))

	b.fetchErr = nil
	b.catalogs["bad"] = Catalog{Tests: catalog.Mapping{{Key: "a", Sub: catalog.Mapping{{Key: "b"}}}, {Key: "a/b"}}}
	require.ErrorIs(t, s.LoadScript(context.Background(), "bad"), catalog.ErrMalformed)

	assert.Equal(t, before, s.State())
	assert.Equal(t, 1, s.Ledger().Len())
}

func TestLoadScript_ResetsResultsAndDetails(t *testing.T) {
	s, _ := newSession(t, UnitModeCount)
	require.NoError(t, s.SetUnitCount(2))
	require.NoError(t, s.SetDetails(Details{Serials: []string{"A", "B"}, OperatorName: "alex"}))
	s.Deliver(eventFrame(0, `{"test name": "Voltage", "message type": "update"}`))

	require.NoError(t, s.LoadScript(context.Background(), "solo"))

	st := s.State()
	assert.Equal(t, 1, st.MaxUnits)
	assert.Equal(t, []int{1}, st.Units)
	assert.Equal(t, []string{""}, st.Details.Serials)
	assert.Equal(t, map[string]bool{"Only": true}, st.Selection)
	assert.Equal(t, 0, s.Ledger().Len())
}

func TestSetUnits_PreservesAncillaryByPosition(t *testing.T) {
	s, _ := newSession(t, UnitModeSubset)
	require.NoError(t, s.SetUnits([]int{1, 2, 3}))
	require.NoError(t, s.SetDetails(Details{
		Serials:  []string{"SN1", "SN2", "SN3"},
		Comments: []string{"c1", "c2", "c3"},
	}))
	s.Deliver(eventFrame(0, `{"unit index": 2, "test name": "Voltage", "message type": "update"}`))
	require.NoError(t, s.SetTab(3))

	require.NoError(t, s.SetUnits([]int{1, 3}))

	st := s.State()
	assert.Equal(t, []int{1, 3}, st.Units)
	assert.Equal(t, []string{"SN1", "SN2"}, st.Details.Serials)
	assert.Equal(t, []string{"c1", "c2"}, st.Details.Comments)
	assert.Equal(t, 1, st.Tab)
	assert.Equal(t, 0, s.Ledger().Len())
}

func TestSetUnits_UnchangedSetKeepsResults(t *testing.T) {
	s, _ := newSession(t, UnitModeSubset)
	require.NoError(t, s.SetUnits([]int{1, 2}))
	s.Deliver(eventFrame(0, `{"test name": "Voltage", "message type": "update"}`))

	require.NoError(t, s.SetUnits([]int{2, 1}))
	assert.Equal(t, 1, s.Ledger().Len())
}

func TestSetUnits_Validation(t *testing.T) {
	s, _ := newSession(t, UnitModeCount)
	assert.Error(t, s.SetUnits([]int{1, 3}), "count mode requires contiguous units")
	assert.Error(t, s.SetUnits([]int{4}), "above max")
	assert.Error(t, s.SetUnits(nil))
	assert.Error(t, s.SetUnitCount(0))
	require.NoError(t, s.SetUnitCount(3))
	assert.Equal(t, []int{1, 2, 3}, s.State().Units)
}

func TestStart_SendsSelectionAndDetails(t *testing.T) {
	s, b := newSession(t, UnitModeCount)
	require.NoError(t, s.SetUnitCount(2))
	require.NoError(t, s.SetDetails(Details{Serials: []string{"A", "B"}, Comments: []string{"", "rework"}, OperatorName: "alex"}))
	s.Toggle("Power/Current")

	require.NoError(t, s.Start(context.Background()))
	require.Len(t, b.started, 1)
	req := b.started[0]
	assert.Equal(t, "smoke", req.Script)
	assert.Equal(t, []string{"Power", "Power/Voltage", "Radio"}, req.Tests)
	assert.Equal(t, []int{1, 2}, req.SelectedUnitNumbers)
	assert.Equal(t, "alex", req.Details.OperatorName)
	assert.Equal(t, []string{"", "rework"}, req.Details.Comments)
	assert.True(t, s.State().Running)
}

func TestSelect(t *testing.T) {
	s, b := newSession(t, UnitModeCount)

	require.NoError(t, s.Select([]string{"Power/Voltage", "Radio"}))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"Power/Voltage", "Radio"}, b.started[0].Tests)

	err := s.Select([]string{"Radio", "Nope"})
	require.Error(t, err)
	assert.True(t, s.State().Selection["Power/Voltage"], "failed select must not change state")
}

func TestStart_FailureRestoresFlags(t *testing.T) {
	s, b := newSession(t, UnitModeCount)
	s.Deliver(Frame{Type: FrameComplete})
	b.startErr = errors.New("A test is already running.")

	require.Error(t, s.Start(context.Background()))
	st := s.State()
	assert.True(t, st.Complete)
	assert.False(t, st.Running)
}

func TestStart_RequiresScript(t *testing.T) {
	s := New(&fakeBackend{}, Options{})
	assert.ErrorIs(t, s.Start(context.Background()), ErrNoScript)
}

func TestStartStop_DoNotTouchLedger(t *testing.T) {
	s, b := newSession(t, UnitModeCount)
	s.Deliver(eventFrame(1, `{"test name": "Voltage", "message type": "new test", "result type": "number"}`))
	s.Deliver(eventFrame(2, `{"test name": "Voltage", "message type": "update", "result": 3.3, "pass": true}`))
	before := s.Ledger()

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, before, s.Ledger())
	assert.Equal(t, 1, b.stops)
	assert.False(t, s.State().Running)
}

func TestDeliver_ReordersBySeq(t *testing.T) {
	s, _ := newSession(t, UnitModeCount)

	s.Deliver(eventFrame(1, `{"test name": "T", "message type": "new test", "result type": "number"}`))
	s.Deliver(eventFrame(3, `{"test name": "T", "message type": "update", "result": 2}`))
	assert.Equal(t, 1, s.State().Pending)
	s.Deliver(eventFrame(2, `{"test name": "T", "message type": "update", "result": 1}`))

	e, ok := s.Ledger().Get(1, "T")
	require.True(t, ok)
	require.Len(t, e.Updates, 2)
	assert.Equal(t, 1, e.Updates[0].Result.IntValue())
	assert.Equal(t, 2, e.Updates[1].Result.IntValue())
	assert.Equal(t, 0, s.State().Pending)
}

func TestDeliver_ReordersAcrossRuns(t *testing.T) {
	s, _ := newSession(t, UnitModeCount)
	ctx := context.Background()

	run := func(order ...int) {
		frames := map[int]Frame{
			1: eventFrame(1, `{"test name": "Radio", "message type": "new test", "result type": "number"}`),
			2: eventFrame(2, `{"test name": "Radio", "message type": "update", "result": 1}`),
			3: eventFrame(3, `{"test name": "Radio", "message type": "test end", "result": 1, "pass": true}`),
			4: {Type: FrameComplete, Seq: 4},
		}
		require.NoError(t, s.Start(ctx))
		for _, seq := range order {
			s.Deliver(frames[seq])
		}
	}

	run(1, 2, 3, 4)
	require.True(t, s.State().Complete)

	run(2, 1, 3, 4)
	st := s.State()
	assert.True(t, st.Complete)
	assert.Equal(t, 0, st.Pending)
	assert.Empty(t, s.Failures())

	e, ok := s.Ledger().Get(1, "Radio")
	require.True(t, ok)
	require.Len(t, e.Updates, 1)
	assert.Equal(t, ledger.PassTrue, e.Status)
	assert.Equal(t, 1, e.FinalResult.IntValue())
}

func TestStart_FailureKeepsRunOrdering(t *testing.T) {
	s, b := newSession(t, UnitModeCount)
	s.Deliver(eventFrame(1, `{"test name": "T", "message type": "new test", "result type": "number"}`))
	s.Deliver(eventFrame(2, `{"test name": "T", "message type": "update", "result": 1}`))

	b.startErr = errors.New("A test is already running.")
	require.Error(t, s.Start(context.Background()))

	s.Deliver(eventFrame(3, `{"test name": "T", "message type": "update", "result": 2}`))
	e, _ := s.Ledger().Get(1, "T")
	assert.Len(t, e.Updates, 2)
	assert.Equal(t, 0, s.State().Pending)
	assert.Empty(t, s.Failures())
}

func TestDeliver_RecordsFailures(t *testing.T) {
	s, _ := newSession(t, UnitModeCount)
	s.Deliver(eventFrame(1, `{"test name": "T", "message type": "new test", "result type": "number"}`))
	s.Deliver(eventFrame(2, `{"test name": "T", "message type": "update", "result": 1}`))
	s.Deliver(eventFrame(2, `{"test name": "T", "message type": "update", "result": 1}`))
	s.Deliver(eventFrame(3, `{"message type": "update"}`))
	s.Deliver(Frame{Type: "mystery"})

	failures := s.Failures()
	require.Len(t, failures, 3)
	assert.Equal(t, "duplicate seq", failures[0].Reason)
	assert.Contains(t, failures[1].Reason, "malformed event")
	assert.Equal(t, 1, s.Ledger().Len())
}

func TestDeliver_CompleteWithEntriesInProgress(t *testing.T) {
	s, _ := newSession(t, UnitModeCount)
	s.Deliver(eventFrame(1, `{"test name": "T", "message type": "new test", "result type": "boolean"}`))
	s.Deliver(Frame{Type: FrameComplete, Seq: 2})

	assert.True(t, s.State().Complete)
	e, _ := s.Ledger().Get(1, "T")
	assert.Equal(t, ledger.PassInProgress, e.Status)
}

func TestMarkRunning(t *testing.T) {
	s, b := newSession(t, UnitModeCount)
	s.Deliver(Frame{Type: FrameComplete})
	require.True(t, s.State().Complete)

	s.Deliver(eventFrame(1, `{"test name": "T", "message type": "new test", "result type": "number"}`))
	s.Deliver(eventFrame(2, `{"test name": "T", "message type": "update", "result": 1}`))

	s.MarkRunning()
	st := s.State()
	assert.True(t, st.Running)
	assert.False(t, st.Complete)
	assert.Empty(t, b.started)

	// A new run restarts at seq 1, even when seq 2 overtakes it.
	s.Deliver(eventFrame(2, `{"test name": "U", "message type": "update", "result": 5}`))
	s.Deliver(eventFrame(1, `{"test name": "U", "message type": "new test", "result type": "number"}`))
	e, ok := s.Ledger().Get(1, "U")
	require.True(t, ok)
	assert.Len(t, e.Updates, 1)
	assert.Empty(t, s.Failures())
}

func TestConsume(t *testing.T) {
	s, _ := newSession(t, UnitModeCount)
	src := NewChanSource(4)

	done := make(chan error, 1)
	go func() { done <- s.Consume(context.Background(), src) }()

	ctx := context.Background()
	require.True(t, src.Publish(ctx, eventFrame(1, `{"test name": "T", "message type": "new test", "result type": "image"}`)))
	require.True(t, src.Publish(ctx, eventFrame(2, `{"test name": "T", "message type": "test end", "result": "img.png", "pass": true}`)))
	require.True(t, src.Publish(ctx, Frame{Type: FrameComplete, Seq: 3}))
	require.NoError(t, src.Close())
	assert.False(t, src.Publish(ctx, Frame{Type: FrameComplete}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not return after close")
	}

	assert.True(t, s.State().Complete)
	e, ok := s.Ledger().Get(1, "T")
	require.True(t, ok)
	assert.Equal(t, "img.png", e.FinalResult.StringValue())
}

func TestConsume_StopsOnContext(t *testing.T) {
	s, _ := newSession(t, UnitModeCount)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Consume(ctx, NewChanSource(1)), context.Canceled)
}
