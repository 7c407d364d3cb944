package devopt

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the closed set of configurable option types an instrument can
// expose. The numeric values are the wire encoding used by the hub.
type Kind int

const (
	KindSwitch Kind = iota
	KindRange
	KindText
	KindList
	KindBinary
	KindReadOnly
)

func (k Kind) String() string {
	switch k {
	case KindSwitch:
		return "switch"
	case KindRange:
		return "range"
	case KindText:
		return "text"
	case KindList:
		return "list"
	case KindBinary:
		return "binary"
	case KindReadOnly:
		return "readonly"
	default:
		return "unknown"
	}
}

// DefaultGroup is the bucket for options that carry no group label.
const DefaultGroup = "Ungrouped"

// WireOption is a device option as it travels over the API: the
// type-dependent parameters are packed into AvailableValues and the
// current value is always a string.
type WireOption struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Group           string `json:"group,omitempty"`
	OptionType      int    `json:"optionType"`
	AvailableValues string `json:"availableValues"`
	Value           string `json:"value"`
}

// Command is a named parameterless remote action on a device.
type Command struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RangeSpec holds the decoded parameters of a Range option.
type RangeSpec struct {
	Min  float64
	Max  float64
	Step float64
}

// Option is a decoded device option. AvailableValues is parsed exactly
// once, at load time; afterwards editing and validation work on the
// typed payload (Switch labels, Range bounds, List labels, bit count).
type Option struct {
	ID          string
	Name        string
	Description string
	Group       string
	Kind        Kind
	Value       string

	// Exactly one of the following is populated, per Kind.
	SwitchOff string
	SwitchOn  string
	Range     *RangeSpec
	List      []string
	Bits      int
}

// Values the hub reports when an option's live state could not be read.
// They are surfaced distinctly and are never produced by local edits.
var unknownValues = map[string]struct{}{
	"Undefined": {},
	"ERROR":     {},
	"unknown":   {},
}

// ValueUnknown reports whether the current value is one of the hub's
// could-not-read sentinels.
func (o Option) ValueUnknown() bool {
	_, ok := unknownValues[o.Value]
	return ok
}

// Decode parses a wire option into its typed form. The returned option
// keeps the wire value untouched; validation applies to edits only,
// the hub is authoritative for what it reports.
func Decode(w WireOption) (Option, error) {
	o := Option{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Group:       w.Group,
		Kind:        Kind(w.OptionType),
		Value:       w.Value,
	}
	if o.Group == "" {
		o.Group = DefaultGroup
	}
	switch o.Kind {
	case KindSwitch:
		labels := strings.Split(w.AvailableValues, ";")
		if len(labels) != 2 || labels[0] == "" || labels[1] == "" {
			return Option{}, fmt.Errorf("option %s: switch needs two labels, got %q", w.ID, w.AvailableValues)
		}
		o.SwitchOff, o.SwitchOn = labels[0], labels[1]
	case KindRange:
		spec, err := parseRangeSpec(w.AvailableValues)
		if err != nil {
			return Option{}, fmt.Errorf("option %s: %w", w.ID, err)
		}
		o.Range = spec
	case KindList:
		labels := strings.Split(w.AvailableValues, ";")
		if len(labels) == 0 || labels[0] == "" {
			return Option{}, fmt.Errorf("option %s: list needs at least one label", w.ID)
		}
		o.List = labels
	case KindBinary:
		bits, err := strconv.Atoi(strings.TrimSpace(w.AvailableValues))
		if err != nil || bits <= 0 {
			return Option{}, fmt.Errorf("option %s: binary needs a positive bit count, got %q", w.ID, w.AvailableValues)
		}
		o.Bits = bits
	case KindText, KindReadOnly:
		// No parameters.
	default:
		return Option{}, fmt.Errorf("option %s: unknown option type %d", w.ID, w.OptionType)
	}
	return o, nil
}

// DecodeAll decodes a full option list, failing on the first malformed
// entry so a partially understood schema is never edited.
func DecodeAll(ws []WireOption) ([]Option, error) {
	out := make([]Option, 0, len(ws))
	for _, w := range ws {
		o, err := Decode(w)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// parseRangeSpec decodes the "[min-max-step]" encoding. The dash is
// both the field delimiter and a sign character, so the format cannot
// express negative bounds; reject rather than misparse.
func parseRangeSpec(s string) (*RangeSpec, error) {
	body := strings.TrimSpace(s)
	if !strings.HasPrefix(body, "[") || !strings.HasSuffix(body, "]") {
		return nil, fmt.Errorf("malformed range spec %q", s)
	}
	parts := strings.Split(body[1:len(body)-1], "-")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed range spec %q", s)
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed range spec %q", s)
		}
		vals[i] = v
	}
	spec := &RangeSpec{Min: vals[0], Max: vals[1], Step: vals[2]}
	if spec.Max < spec.Min || spec.Step < 0 {
		return nil, fmt.Errorf("inconsistent range spec %q", s)
	}
	return spec, nil
}

// Clamp pulls v into [Min,Max] and snaps it to the nearest step from
// Min. Step 0 disables snapping.
func (r RangeSpec) Clamp(v float64) float64 {
	if v < r.Min {
		v = r.Min
	}
	if v > r.Max {
		v = r.Max
	}
	if r.Step > 0 {
		v = r.Min + math.Round((v-r.Min)/r.Step)*r.Step
		if v > r.Max {
			v -= r.Step
		}
		if v < r.Min {
			v = r.Min
		}
	}
	return v
}

// Normalize validates a candidate value for this option and returns the
// canonical string form that may enter the draft. Range values are
// clamped and snapped rather than rejected; everything else must match
// the option's parameter set exactly.
func (o Option) Normalize(value string) (string, error) {
	switch o.Kind {
	case KindSwitch:
		if value != o.SwitchOff && value != o.SwitchOn {
			return "", fmt.Errorf("option %s: %q is not one of the switch labels", o.ID, value)
		}
		return value, nil
	case KindRange:
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return "", fmt.Errorf("option %s: %q is not numeric", o.ID, value)
		}
		return FormatNumber(o.Range.Clamp(v)), nil
	case KindList:
		for _, l := range o.List {
			if value == l {
				return value, nil
			}
		}
		return "", fmt.Errorf("option %s: %q is not in the value list", o.ID, value)
	case KindBinary:
		if len(value) != o.Bits {
			return "", fmt.Errorf("option %s: binary value must be %d bits, got %d", o.ID, o.Bits, len(value))
		}
		for _, c := range value {
			if c != '0' && c != '1' {
				return "", fmt.Errorf("option %s: binary value may contain only 0 and 1", o.ID)
			}
		}
		return value, nil
	case KindText:
		return value, nil
	case KindReadOnly:
		return "", fmt.Errorf("option %s: read-only", o.ID)
	}
	return "", fmt.Errorf("option %s: unknown kind", o.ID)
}

// FlipBit returns value with the bit at index toggled; all other bits
// and the overall width are preserved.
func (o Option) FlipBit(value string, index int) (string, error) {
	if o.Kind != KindBinary {
		return "", fmt.Errorf("option %s: not a binary option", o.ID)
	}
	if len(value) != o.Bits {
		return "", fmt.Errorf("option %s: binary value must be %d bits, got %d", o.ID, o.Bits, len(value))
	}
	if index < 0 || index >= o.Bits {
		return "", fmt.Errorf("option %s: bit index %d out of range", o.ID, index)
	}
	b := []byte(value)
	if b[index] == '0' {
		b[index] = '1'
	} else {
		b[index] = '0'
	}
	return string(b), nil
}

// FormatNumber renders a float the way option values are written on the
// wire: no exponent, no trailing zeros.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Group is a display bucket of options sharing a group label.
type Group struct {
	Name    string
	Options []Option
}

// GroupOptions partitions options by group label, preserving first
// appearance order of both groups and members. Grouping is display
// layout only; saving always spans all groups.
func GroupOptions(opts []Option) []Group {
	index := map[string]int{}
	var groups []Group
	for _, o := range opts {
		name := o.Group
		if name == "" {
			name = DefaultGroup
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, Group{Name: name})
		}
		groups[i].Options = append(groups[i].Options, o)
	}
	return groups
}
