package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"labhub/internal/realtime"
	"labhub/internal/store"
	"labhub/pkg/devopt"
)

// Sample is the telemetry payload devices publish. Value is always an
// explicit number; the transport never round-trips through a display
// string.
type Sample struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Type      string    `json:"type,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster is the live fan-out side of ingestion; satisfied by
// realtime.Hub.
type Broadcaster interface {
	Broadcast(experimentID string, ev realtime.Event)
}

// Storer is the persistence side of ingestion.
type Storer interface {
	InsertStorageItem(ctx context.Context, item *store.StorageItem) error
	GetExperiment(ctx context.Context, id string) (*store.Experiment, error)
	TouchDeviceSeen(ctx context.Context, id string, at time.Time) error
}

// Ingestor consumes device telemetry off the broker, stamps it with a
// per-device sequence number, pushes it to live subscribers, and
// persists it when the experiment runs in store mode.
type Ingestor struct {
	prefix string
	hub    Broadcaster
	repo   Storer

	// onPoint, when set, observes every accepted point.
	onPoint func()

	mu    sync.Mutex
	seq   map[string]uint64 // deviceID -> last assigned seq
	modes map[string]modeEntry
	seen  map[string]time.Time // deviceID -> last liveness write
}

type modeEntry struct {
	mode    string
	fetched time.Time
}

// modeTTL bounds how stale a cached experiment mode can get; a mode
// only changes when an experiment is recreated, so a short TTL is
// plenty.
const modeTTL = 30 * time.Second

// seenInterval throttles device liveness writes so a fast publisher
// does not turn every sample into an UPDATE.
const seenInterval = 10 * time.Second

func New(prefix string, hub Broadcaster, repo Storer) *Ingestor {
	if prefix == "" {
		prefix = "labhub/telemetry/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Ingestor{
		prefix: prefix,
		hub:    hub,
		repo:   repo,
		seq:    map[string]uint64{},
		modes:  map[string]modeEntry{},
		seen:   map[string]time.Time{},
	}
}

// OnPoint registers an accepted-point observer.
func (in *Ingestor) OnPoint(fn func()) { in.onPoint = fn }

// SubscriptionTopic returns the wildcard this ingestor should be
// subscribed with.
func (in *Ingestor) SubscriptionTopic() string {
	return in.prefix + "+/+/data"
}

// Handle processes one broker message. Topics are
// "<prefix><experimentID>/<deviceID>/data"; anything else is dropped.
func (in *Ingestor) Handle(ctx context.Context, topic string, payload []byte) {
	experimentID, deviceID, ok := in.parseTopic(topic)
	if !ok {
		slog.Debug("telemetry on unexpected topic", "topic", topic)
		return
	}

	var s Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		slog.Warn("malformed telemetry payload", "topic", topic, "error", err)
		return
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}

	seq := in.nextSeq(deviceID)
	in.hub.Broadcast(experimentID, realtime.Event{
		Topic:     deviceID + "#data",
		Timestamp: s.Timestamp,
		Value:     s.Value,
		Seq:       seq,
	})
	if in.onPoint != nil {
		in.onPoint()
	}

	// Inbound telemetry is the liveness signal for a device.
	if in.markSeen(deviceID, s.Timestamp) {
		if err := in.repo.TouchDeviceSeen(ctx, deviceID, s.Timestamp); err != nil {
			slog.Warn("could not record device liveness", "device", deviceID, "error", err)
		}
	}

	if in.mode(ctx, experimentID) == store.AcquisitionModeStore {
		item := &store.StorageItem{
			SessionID: experimentID + "_" + deviceID,
			Name:      s.Name,
			Value:     devopt.FormatNumber(s.Value),
			Type:      s.Type,
			TS:        s.Timestamp,
			CreatorID: deviceID,
		}
		if err := in.repo.InsertStorageItem(ctx, item); err != nil {
			slog.Error("failed to persist telemetry", "session", item.SessionID, "error", err)
		}
	}
}

func (in *Ingestor) parseTopic(topic string) (experimentID, deviceID string, ok bool) {
	rest, found := strings.CutPrefix(topic, in.prefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "data" || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (in *Ingestor) markSeen(deviceID string, at time.Time) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if last, ok := in.seen[deviceID]; ok && at.Sub(last) < seenInterval {
		return false
	}
	in.seen[deviceID] = at
	return true
}

func (in *Ingestor) nextSeq(deviceID string) uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.seq[deviceID]++
	return in.seq[deviceID]
}

func (in *Ingestor) mode(ctx context.Context, experimentID string) string {
	in.mu.Lock()
	e, ok := in.modes[experimentID]
	in.mu.Unlock()
	if ok && time.Since(e.fetched) < modeTTL {
		return e.mode
	}

	exp, err := in.repo.GetExperiment(ctx, experimentID)
	mode := store.AcquisitionModeLive
	if err == nil {
		mode = exp.AcquisitionMode
	} else if err != store.ErrNotFound {
		slog.Warn("could not resolve experiment mode", "experiment", experimentID, "error", err)
	}

	in.mu.Lock()
	in.modes[experimentID] = modeEntry{mode: mode, fetched: time.Now()}
	in.mu.Unlock()
	return mode
}
