package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"labhub/pkg/liveseries"
)

// reconnectBackoff bounds the redial wait between attempts.
const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// LiveChannel is a websocket-backed telemetry feed for one experiment.
// It satisfies liveseries.Channel and reconnects on its own; consumers
// keep their buffers across reconnects because the aggregator owns
// them.
type LiveChannel struct {
	wsURL   string
	dialer  *websocket.Dialer
	events  chan liveseries.Event
	done    chan struct{}
	onState func(liveseries.ConnState)

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
}

// SubscribeLive opens the live feed for an experiment. onState, when
// non-nil, observes every connection state transition; it is called
// from the channel's reader goroutine.
func (c *Client) SubscribeLive(ctx context.Context, experimentID string, onState func(liveseries.ConnState)) (*LiveChannel, error) {
	wsURL, err := c.liveURL(experimentID)
	if err != nil {
		return nil, err
	}
	lc := &LiveChannel{
		wsURL:   wsURL,
		dialer:  websocket.DefaultDialer,
		events:  make(chan liveseries.Event, 256),
		done:    make(chan struct{}),
		onState: onState,
	}

	lc.setState(liveseries.StateConnecting)
	conn, _, err := lc.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		lc.setState(liveseries.StateDisconnected)
		return nil, fmt.Errorf("%w: %w", liveseries.ErrChannel, err)
	}
	lc.setConn(conn)
	lc.setState(liveseries.StateConnected)

	go lc.run()
	return lc, nil
}

func (c *Client) liveURL(experimentID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/labhub/live"
	q := u.Query()
	q.Set("experiment_id", experimentID)
	if tok := c.Token(); tok != "" {
		q.Set("token", tok)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Events is the demultiplexable event stream; closed when the channel
// shuts down.
func (lc *LiveChannel) Events() <-chan liveseries.Event { return lc.events }

// Close tears the feed down. Idempotent.
func (lc *LiveChannel) Close() error {
	lc.closeOnce.Do(func() {
		close(lc.done)
		lc.mu.Lock()
		if lc.conn != nil {
			_ = lc.conn.Close()
		}
		lc.mu.Unlock()
	})
	return nil
}

func (lc *LiveChannel) setConn(conn *websocket.Conn) {
	lc.mu.Lock()
	lc.conn = conn
	lc.mu.Unlock()
}

func (lc *LiveChannel) setState(s liveseries.ConnState) {
	if lc.onState != nil {
		lc.onState(s)
	}
}

type wireEvent struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"`
	Seq       uint64    `json:"seq"`
	// Older firmware serialized the reading as a string payload.
	SerializedContent string `json:"serializedContent"`
}

// run pumps events until Close, redialing on transport failure.
func (lc *LiveChannel) run() {
	defer close(lc.events)

	for {
		if !lc.readLoop() {
			lc.setState(liveseries.StateDisconnected)
			return
		}
		// Transport failed while the channel is still wanted.
		lc.setState(liveseries.StateReconnecting)
		if !lc.redial() {
			lc.setState(liveseries.StateDisconnected)
			return
		}
		lc.setState(liveseries.StateConnected)
	}
}

// readLoop consumes frames until the connection breaks. Returns false
// when the channel was closed deliberately.
func (lc *LiveChannel) readLoop() bool {
	lc.mu.Lock()
	conn := lc.conn
	lc.mu.Unlock()

	for {
		var w wireEvent
		if err := conn.ReadJSON(&w); err != nil {
			select {
			case <-lc.done:
				return false
			default:
				slog.Debug("live channel read failed", "error", err)
				return true
			}
		}
		ev, ok := w.toEvent()
		if !ok {
			continue
		}
		select {
		case lc.events <- ev:
		case <-lc.done:
			return false
		}
	}
}

func (w wireEvent) toEvent() (liveseries.Event, bool) {
	ev := liveseries.Event{Topic: w.Topic, Timestamp: w.Timestamp, Seq: w.Seq}
	switch {
	case w.Value != nil:
		ev.Value = *w.Value
	case w.SerializedContent != "":
		v, err := strconv.ParseFloat(strings.TrimSpace(w.SerializedContent), 64)
		if err != nil {
			return liveseries.Event{}, false
		}
		ev.Value = v
	default:
		return liveseries.Event{}, false
	}
	return ev, true
}

// redial reconnects with capped backoff. Returns false once Close is
// called.
func (lc *LiveChannel) redial() bool {
	wait := reconnectBase
	for {
		select {
		case <-lc.done:
			return false
		case <-time.After(wait):
		}
		conn, _, err := lc.dialer.Dial(lc.wsURL, nil)
		if err == nil {
			lc.setConn(conn)
			return true
		}
		slog.Debug("live channel redial failed", "error", err)
		wait *= 2
		if wait > reconnectMax {
			wait = reconnectMax
		}
	}
}
