// Package liveseries demultiplexes an experiment's push feed into
// bounded per-device telemetry windows for charting and tabular
// display.
package liveseries

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrChannel classifies live-feed transport failures. Implementations
// wrap the underlying cause; callers match with errors.Is.
var ErrChannel = errors.New("live channel failed")

const (
	// MaxDisplayPoints bounds the charting window per device.
	MaxDisplayPoints = 50
	// MaxTableRows bounds the tabular window per device.
	MaxTableRows = 1000

	// DataPurpose is the topic purpose tag carrying telemetry samples.
	// Other purposes (status and the like) share the channel but are
	// not this package's concern.
	DataPurpose = "data"

	// TopicSeparator splits a feed topic into device id and purpose.
	TopicSeparator = "#"
)

// Point is one telemetry sample.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Event is one message from the push feed. Seq increases monotonically
// per device; the aggregator uses it to drop replays after a transport
// reconnect. Zero means the producer assigns no sequence numbers.
type Event struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Seq       uint64    `json:"seq,omitempty"`
}

// Channel is a scoped push subscription. The events channel closes when
// the subscription ends; Close releases it explicitly.
type Channel interface {
	Events() <-chan Event
	Close() error
}

// ConnState describes the subscription's transport state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Series is a read-only snapshot of one device's windows, oldest first.
type Series struct {
	DeviceID string
	Display  []Point
	Table    []Point
}

type deviceSeries struct {
	display *ring
	table   *ring
	lastSeq uint64
}

// Aggregator owns the per-device buffers for one experiment feed.
// Buffers outlive transport reconnects; they are discarded with the
// aggregator itself.
type Aggregator struct {
	mu         sync.Mutex
	subscribed map[string]struct{}
	devices    map[string]*deviceSeries
	order      []string
	state      ConnState
}

// New creates an aggregator accepting events for the given device ids.
// Buffers are created lazily on first matching event.
func New(deviceIDs []string) *Aggregator {
	sub := make(map[string]struct{}, len(deviceIDs))
	for _, id := range deviceIDs {
		sub[id] = struct{}{}
	}
	return &Aggregator{
		subscribed: sub,
		devices:    map[string]*deviceSeries{},
		state:      StateDisconnected,
	}
}

// Run consumes a channel until it closes. Typically run on its own
// goroutine; Snapshot stays safe to call concurrently.
func (a *Aggregator) Run(ch Channel) {
	for ev := range ch.Events() {
		a.Ingest(ev)
	}
}

// Ingest routes one event into the owning device's windows. Events for
// devices outside the subscribed set, for non-data purposes, or with a
// stale sequence number are dropped without side effects. Reports
// whether the event was accepted.
func (a *Aggregator) Ingest(ev Event) bool {
	deviceID, purpose, ok := strings.Cut(ev.Topic, TopicSeparator)
	if !ok || purpose != DataPurpose {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.subscribed[deviceID]; !ok {
		return false
	}
	ds, ok := a.devices[deviceID]
	if !ok {
		ds = &deviceSeries{
			display: newRing(MaxDisplayPoints),
			table:   newRing(MaxTableRows),
		}
		a.devices[deviceID] = ds
		a.order = append(a.order, deviceID)
	}
	if ev.Seq != 0 {
		if ev.Seq <= ds.lastSeq {
			return false
		}
		ds.lastSeq = ev.Seq
	}
	p := Point{Timestamp: ev.Timestamp, Value: ev.Value}
	ds.display.push(p)
	ds.table.push(p)
	return true
}

// Snapshot returns the current windows of every device that has
// received data, in first-arrival order. The returned slices are
// copies; later ingestion does not mutate them.
func (a *Aggregator) Snapshot() []Series {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Series, 0, len(a.order))
	for _, id := range a.order {
		ds := a.devices[id]
		out = append(out, Series{
			DeviceID: id,
			Display:  ds.display.points(),
			Table:    ds.table.points(),
		})
	}
	return out
}

// Device returns one device's snapshot, if it has received data.
func (a *Aggregator) Device(deviceID string) (Series, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ds, ok := a.devices[deviceID]
	if !ok {
		return Series{}, false
	}
	return Series{DeviceID: deviceID, Display: ds.display.points(), Table: ds.table.points()}, true
}

// SetState records a transport state transition, returning the previous
// state so callers can report each transition exactly once.
func (a *Aggregator) SetState(s ConnState) ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.state
	a.state = s
	return prev
}

// State returns the last recorded transport state.
func (a *Aggregator) State() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
