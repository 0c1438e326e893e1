package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
	"github.com/testmaster/testmaster/internal/logging"
	"github.com/testmaster/testmaster/internal/session"
)

// WSSource is a session.EventSource reading push envelopes from a websocket.
type WSSource struct {
	conn   *websocket.Conn
	logger *logging.Logger
	frames chan session.Frame
	once   sync.Once
	done   chan struct{}
}

// Dial connects to the push endpoint at rawURL. http and https schemes are mapped to
// ws and wss.
func Dial(ctx context.Context, rawURL string, header http.Header, logger *logging.Logger) (*WSSource, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, tmerrors.Wrap(err, tmerrors.KindValidation, "invalid stream url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, tmerrors.Wrapf(err, tmerrors.KindUnavailable, "failed to connect to %s", redact(u))
	}

	s := &WSSource{
		conn:   conn,
		logger: logger.WithComponent("stream"),
		frames: make(chan session.Frame, sendBuffer),
		done:   make(chan struct{}),
	}
	go s.read()
	return s, nil
}

func (s *WSSource) Frames() <-chan session.Frame { return s.frames }

func (s *WSSource) read() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("stream read failed", "err", err)
				}
			}
			return
		}

		var f session.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("undecodable envelope", "err", err)
			continue
		}
		select {
		case s.frames <- f:
		case <-s.done:
			return
		}
	}
}

// Close disconnects. Frames is closed once the reader exits.
func (s *WSSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

func redact(u *url.URL) string {
	c := *u
	q := c.Query()
	if q.Has("token") {
		q.Set("token", "xxxxx")
		c.RawQuery = q.Encode()
	}
	return strings.TrimSuffix(c.String(), "?")
}
