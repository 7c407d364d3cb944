package devopt

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Failure classes reported by a Session. Callers match with errors.Is;
// the wrapped cause carries the transport detail.
var (
	ErrLoad         = errors.New("device options load failed")
	ErrSave         = errors.New("device options save failed")
	ErrCommand      = errors.New("device command failed")
	ErrSaveInFlight = errors.New("a save is already in flight")
	ErrClosed       = errors.New("edit session closed")
	ErrNoSuchOption = errors.New("no such option")
)

// DeviceAPI is the remote surface a Session edits against. pkg/client
// provides the HTTP-backed implementation; tests inject fakes.
type DeviceAPI interface {
	GetDeviceOptions(ctx context.Context, deviceID string) ([]WireOption, error)
	GetDeviceCommands(ctx context.Context, deviceID string) ([]Command, error)
	EditDeviceOptions(ctx context.Context, deviceID string, changes map[string]string) ([]WireOption, error)
	RefreshDeviceOptions(ctx context.Context, deviceID string) ([]WireOption, error)
	RunDeviceCommand(ctx context.Context, deviceID, commandID string) error
	SetDeviceType(ctx context.Context, deviceID string, deviceType int) error
}

// Session is one device-configuration editing session. It keeps the
// last values confirmed by the hub, a locally edited draft, and the
// minimal dirty set between them; only the dirty set is sent on save.
//
// Methods are safe for concurrent use; network calls run without the
// session lock held so edits stay possible while a save is in flight.
type Session struct {
	api      DeviceAPI
	deviceID string

	mu        sync.Mutex
	options   []Option
	byID      map[string]int
	commands  []Command
	confirmed map[string]string
	draft     map[string]string
	dirty     map[string]string
	saving    bool
	closed    bool
}

// NewSession creates an empty session for one device. Load must be
// called before editing.
func NewSession(api DeviceAPI, deviceID string) *Session {
	return &Session{
		api:      api,
		deviceID: deviceID,
		byID:     map[string]int{},
	}
}

// Load fetches the option schema and command set and resets confirmed
// and draft to the fetched values, dropping any local edits. The prior
// state is kept when the fetch fails.
func (s *Session) Load(ctx context.Context) error {
	wire, err := s.api.GetDeviceOptions(ctx, s.deviceID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	cmds, err := s.api.GetDeviceCommands(ctx, s.deviceID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	opts, err := DecodeAll(wire)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.installLocked(opts)
	s.commands = cmds
	return nil
}

// installLocked replaces schema and values, resetting the edit state.
func (s *Session) installLocked(opts []Option) {
	s.options = opts
	s.byID = make(map[string]int, len(opts))
	s.confirmed = make(map[string]string, len(opts))
	s.draft = make(map[string]string, len(opts))
	s.dirty = map[string]string{}
	for i, o := range opts {
		s.byID[o.ID] = i
		s.confirmed[o.ID] = o.Value
		s.draft[o.ID] = o.Value
	}
}

// SetDraft validates a candidate value against the option's kind and
// accepts the normalized form into the draft. Range values clamp to
// their bounds and snap to step; anything malformed is rejected and
// the draft is left untouched.
func (s *Session) SetDraft(optionID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	i, ok := s.byID[optionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchOption, optionID)
	}
	norm, err := s.options[i].Normalize(value)
	if err != nil {
		return err
	}
	s.draft[optionID] = norm
	s.recomputeDirtyLocked(optionID)
	return nil
}

// ToggleBit flips one bit of a binary option's draft value.
func (s *Session) ToggleBit(optionID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	i, ok := s.byID[optionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchOption, optionID)
	}
	flipped, err := s.options[i].FlipBit(s.draft[optionID], index)
	if err != nil {
		return err
	}
	s.draft[optionID] = flipped
	s.recomputeDirtyLocked(optionID)
	return nil
}

func (s *Session) recomputeDirtyLocked(optionID string) {
	if s.draft[optionID] == s.confirmed[optionID] {
		delete(s.dirty, optionID)
	} else {
		s.dirty[optionID] = s.draft[optionID]
	}
}

// Save sends the dirty set as a partial update. On success the hub's
// returned values become the confirmed baseline (the hub may clamp or
// default, so the response wins over the draft) and the dirty set
// clears. On failure draft and dirty are untouched so the operator can
// retry. At most one save per session is in flight; a second call
// while one is pending returns ErrSaveInFlight.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.saving {
		s.mu.Unlock()
		return ErrSaveInFlight
	}
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return nil
	}
	changes := make(map[string]string, len(s.dirty))
	for k, v := range s.dirty {
		changes[k] = v
	}
	s.saving = true
	s.mu.Unlock()

	updated, err := s.api.EditDeviceOptions(ctx, s.deviceID, changes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if s.closed {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSave, err)
	}
	for _, w := range updated {
		i, ok := s.byID[w.ID]
		if !ok {
			continue
		}
		s.options[i].Value = w.Value
		// The echo only replaces the draft if the operator has not
		// edited it since the save went out; a newer edit wins and
		// stays dirty against the new confirmed baseline.
		sent, wasSent := changes[w.ID]
		if (wasSent && s.draft[w.ID] == sent) || (!wasSent && s.draft[w.ID] == s.confirmed[w.ID]) {
			s.draft[w.ID] = w.Value
		}
		s.confirmed[w.ID] = w.Value
		s.recomputeDirtyLocked(w.ID)
	}
	// Sent options the hub did not echo back keep their old confirmed
	// value; recompute settles whether they remain dirty.
	for id := range changes {
		s.recomputeDirtyLocked(id)
	}
	return nil
}

// Refresh forces the hub to re-query the physical device and replaces
// confirmed and draft with the live values, discarding unsaved edits.
// Destructive; only ever triggered by an explicit operator action.
func (s *Session) Refresh(ctx context.Context) error {
	wire, err := s.api.RefreshDeviceOptions(ctx, s.deviceID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	opts, err := DecodeAll(wire)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.installLocked(opts)
	return nil
}

// RunCommand fires a parameterless remote action. Failure is reported
// and has no effect on local edit state.
func (s *Session) RunCommand(ctx context.Context, commandID string) error {
	if err := s.api.RunDeviceCommand(ctx, s.deviceID, commandID); err != nil {
		return fmt.Errorf("%w: %w", ErrCommand, err)
	}
	return nil
}

// SetDeviceType changes the device's type classification. The option
// schema is type-dependent, so a successful change reloads the session.
func (s *Session) SetDeviceType(ctx context.Context, deviceType int) error {
	if err := s.api.SetDeviceType(ctx, s.deviceID, deviceType); err != nil {
		return fmt.Errorf("%w: %w", ErrSave, err)
	}
	return s.Load(ctx)
}

// Close tears the session down. In-flight results arriving afterwards
// are discarded; no state mutates after Close.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Options returns the decoded schema with draft values applied, in
// load order.
func (s *Session) Options() []Option {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Option, len(s.options))
	copy(out, s.options)
	for i := range out {
		if v, ok := s.draft[out[i].ID]; ok {
			out[i].Value = v
		}
	}
	return out
}

// Groups returns the schema partitioned into display buckets.
func (s *Session) Groups() []Group {
	return GroupOptions(s.Options())
}

// Commands returns the device's command set as of the last Load.
func (s *Session) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}

// Dirty returns a copy of the pending change set.
func (s *Session) Dirty() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.dirty))
	for k, v := range s.dirty {
		out[k] = v
	}
	return out
}

// Confirmed returns the last hub-confirmed value of one option.
func (s *Session) Confirmed(optionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.confirmed[optionID]
	return v, ok
}

// Draft returns the current draft value of one option.
func (s *Session) Draft(optionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.draft[optionID]
	return v, ok
}
