package driver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"labhub/pkg/devopt"
)

var (
	ErrUnknownOption   = errors.New("unknown option")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrReadOnlyOption  = errors.New("option is read-only")
	ErrUnknownType     = errors.New("no driver for device type")
	ErrInvalidValue    = errors.New("invalid option value")
	ErrDeviceExecution = errors.New("device command execution failed")
)

// Driver is one device type's option schema and command surface. A
// driver owns the authoritative option state for every device of its
// type; the HTTP layer never touches option values directly.
type Driver interface {
	Type() int
	Label() string

	// Options returns the full current schema for one device,
	// instantiating defaults on first access.
	Options(deviceID string) []devopt.WireOption

	// EditOptions applies a partial update. Range values clamp and
	// snap, everything else validates strictly. The returned slice
	// holds only the affected options in their post-edit state.
	EditOptions(deviceID string, changes map[string]string) ([]devopt.WireOption, error)

	// RefreshOptions re-reads the device and returns the full schema.
	RefreshOptions(deviceID string) []devopt.WireOption

	Commands() []devopt.Command
	RunCommand(deviceID, commandID string) error
}

// Registry maps device type codes to their drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[int]Driver
}

func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{drivers: make(map[int]Driver, len(drivers))}
	for _, d := range drivers {
		r.drivers[d.Type()] = d
		slog.Info("device driver registered", "type", d.Type(), "label", d.Label())
	}
	return r
}

func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Type()] = d
}

func (r *Registry) ForType(deviceType int) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[deviceType]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, deviceType)
	}
	return d, nil
}

// Types returns the registered type codes with their labels.
func (r *Registry) Types() map[int]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]string, len(r.drivers))
	for t, d := range r.drivers {
		out[t] = d.Label()
	}
	return out
}

// optionDef is one schema entry: the wire shape plus its default value.
type optionDef struct {
	wire devopt.WireOption
}

// stateDriver is the shared implementation behind the concrete
// drivers: a fixed schema template and per-device value maps.
type stateDriver struct {
	typ      int
	label    string
	schema   []optionDef
	decoded  map[string]devopt.Option
	commands []devopt.Command
	// handlers run under the driver lock with the device's value map.
	handlers map[string]func(d *stateDriver, deviceID string, values map[string]string) error

	mu     sync.Mutex
	values map[string]map[string]string // deviceID -> optionID -> value
}

func newStateDriver(typ int, label string, schema []devopt.WireOption, commands []devopt.Command,
	handlers map[string]func(d *stateDriver, deviceID string, values map[string]string) error) *stateDriver {
	d := &stateDriver{
		typ:      typ,
		label:    label,
		decoded:  make(map[string]devopt.Option, len(schema)),
		commands: commands,
		handlers: handlers,
		values:   map[string]map[string]string{},
	}
	for _, w := range schema {
		o, err := devopt.Decode(w)
		if err != nil {
			// Schema templates are compiled in; a malformed one is a
			// programming error.
			panic(fmt.Sprintf("driver %s: bad schema entry %s: %v", label, w.ID, err))
		}
		d.schema = append(d.schema, optionDef{wire: w})
		d.decoded[w.ID] = o
	}
	return d
}

func (d *stateDriver) Type() int     { return d.typ }
func (d *stateDriver) Label() string { return d.label }

func (d *stateDriver) Commands() []devopt.Command {
	out := make([]devopt.Command, len(d.commands))
	copy(out, d.commands)
	return out
}

// deviceValuesLocked returns the device's value map, seeding defaults
// on first access.
func (d *stateDriver) deviceValuesLocked(deviceID string) map[string]string {
	vals, ok := d.values[deviceID]
	if !ok {
		vals = make(map[string]string, len(d.schema))
		for _, def := range d.schema {
			vals[def.wire.ID] = def.wire.Value
		}
		d.values[deviceID] = vals
	}
	return vals
}

func (d *stateDriver) Options(deviceID string) []devopt.WireOption {
	d.mu.Lock()
	defer d.mu.Unlock()
	vals := d.deviceValuesLocked(deviceID)
	out := make([]devopt.WireOption, 0, len(d.schema))
	for _, def := range d.schema {
		w := def.wire
		w.Value = vals[w.ID]
		out = append(out, w)
	}
	return out
}

func (d *stateDriver) EditOptions(deviceID string, changes map[string]string) ([]devopt.WireOption, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	vals := d.deviceValuesLocked(deviceID)

	// Validate the whole batch before mutating anything.
	normalized := make(map[string]string, len(changes))
	for id, v := range changes {
		opt, ok := d.decoded[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOption, id)
		}
		if opt.Kind == devopt.KindReadOnly {
			return nil, fmt.Errorf("%w: %s", ErrReadOnlyOption, id)
		}
		norm, err := opt.Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		normalized[id] = norm
	}

	out := make([]devopt.WireOption, 0, len(normalized))
	for _, def := range d.schema {
		norm, ok := normalized[def.wire.ID]
		if !ok {
			continue
		}
		vals[def.wire.ID] = norm
		w := def.wire
		w.Value = norm
		out = append(out, w)
	}
	slog.Debug("device options edited", "driver", d.label, "device", deviceID, "changed", len(out))
	return out, nil
}

func (d *stateDriver) RefreshOptions(deviceID string) []devopt.WireOption {
	// The in-memory state is the device; refresh and read coincide.
	return d.Options(deviceID)
}

func (d *stateDriver) RunCommand(deviceID, commandID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.handlers[commandID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, commandID)
	}
	vals := d.deviceValuesLocked(deviceID)
	if err := h(d, deviceID, vals); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceExecution, err)
	}
	slog.Info("device command executed", "driver", d.label, "device", deviceID, "command", commandID)
	return nil
}

// resetToDefaults is the shared "reset" handler.
func resetToDefaults(d *stateDriver, _ string, values map[string]string) error {
	for _, def := range d.schema {
		values[def.wire.ID] = def.wire.Value
	}
	return nil
}
