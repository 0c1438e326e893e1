package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/testmaster/testmaster/internal/catalog"
)

// FrameType distinguishes lifecycle events from the run-complete signal.
type FrameType string

const (
	FrameEvent    FrameType = "test_update"
	FrameComplete FrameType = "test_complete"
)

// Frame is one message of the push channel. Data holds the raw event for FrameEvent.
type Frame struct {
	Type FrameType       `json:"type"`
	Seq  int             `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventSource delivers frames to a session. Frames is closed when the source ends.
type EventSource interface {
	Frames() <-chan Frame
	Close() error
}

// Catalog is the fetch-catalog response for one script.
type Catalog struct {
	Tests                    catalog.Mapping `json:"tests"`
	MultiUnitSupportedNumber int             `json:"multiUnitSupportedNumber"`
}

// StartRequest is the fire-and-forget run trigger.
type StartRequest struct {
	Script              string   `json:"script"`
	Tests               []string `json:"tests"`
	Details             Details  `json:"details"`
	SelectedUnitNumbers []int    `json:"selectedUnitNumbers"`
}

// Backend lists scripts, fetches catalogs and triggers the external executor.
type Backend interface {
	ListScripts(ctx context.Context) ([]string, error)
	FetchCatalog(ctx context.Context, script string) (Catalog, error)
	Start(ctx context.Context, req StartRequest) error
	Stop(ctx context.Context) error
}

// ChanSource is an in-process EventSource fed through Publish.
type ChanSource struct {
	mu     sync.RWMutex
	ch     chan Frame
	closed chan struct{}
	once   sync.Once
}

// NewChanSource returns a source with the given buffer size.
func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{ch: make(chan Frame, buffer), closed: make(chan struct{})}
}

func (s *ChanSource) Frames() <-chan Frame { return s.ch }

// Publish delivers f, blocking while the buffer is full. It reports false once the source
// is closed or ctx is done.
func (s *ChanSource) Publish(ctx context.Context, f Frame) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.ch <- f:
		return true
	case <-s.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close stops delivery and closes Frames. Buffered frames remain readable.
func (s *ChanSource) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}
