package driver

import (
	"labhub/internal/store"
	"labhub/pkg/devopt"
)

// NewLabDevice builds the driver for the full acquisition instrument.
// The schema mirrors the front panel: acquisition timing, the high
// voltage supply, and the per-channel enable mask.
func NewLabDevice() Driver {
	schema := []devopt.WireOption{
		{
			ID:              "acq-mode",
			Name:            "Acquisition mode",
			Description:     "How the digitizer arms and captures events",
			Group:           "Acquisition",
			OptionType:      int(devopt.KindList),
			AvailableValues: "Continuous;Windowed;Triggered",
			Value:           "Continuous",
		},
		{
			ID:              "sample-period",
			Name:            "Sample period",
			Description:     "Sampling period in milliseconds",
			Group:           "Acquisition",
			OptionType:      int(devopt.KindRange),
			AvailableValues: "[1-1000-1]",
			Value:           "100",
		},
		{
			ID:              "averaging",
			Name:            "Averaging",
			Description:     "Number of raw samples averaged per reported point",
			Group:           "Acquisition",
			OptionType:      int(devopt.KindRange),
			AvailableValues: "[1-64-1]",
			Value:           "1",
		},
		{
			ID:              "hv-enable",
			Name:            "HV enable",
			Description:     "High voltage supply output",
			Group:           "High Voltage",
			OptionType:      int(devopt.KindSwitch),
			AvailableValues: "Off;On",
			Value:           "Off",
		},
		{
			ID:              "hv-level",
			Name:            "HV level",
			Description:     "High voltage setpoint in volts",
			Group:           "High Voltage",
			OptionType:      int(devopt.KindRange),
			AvailableValues: "[0-1500-25]",
			Value:           "0",
		},
		{
			ID:              "channel-mask",
			Name:            "Channel mask",
			Description:     "Per-channel acquisition enable bits",
			Group:           "Channels",
			OptionType:      int(devopt.KindBinary),
			AvailableValues: "8",
			Value:           "11111111",
		},
		{
			ID:          "label",
			Name:        "Device label",
			Description: "Free-form operator label",
			Group:       "Channels",
			OptionType:  int(devopt.KindText),
			Value:       "",
		},
		{
			ID:          "firmware",
			Name:        "Firmware version",
			Group:       "Acquisition",
			OptionType:  int(devopt.KindReadOnly),
			Value:       "2.4.1",
			Description: "Installed firmware revision",
		},
		{
			ID:          "serial",
			Name:        "Serial number",
			Group:       "Acquisition",
			OptionType:  int(devopt.KindReadOnly),
			Value:       "LH-00000000",
			Description: "Factory serial number",
		},
	}
	commands := []devopt.Command{
		{ID: "reset", Name: "Reset", Description: "Restore factory default settings"},
		{ID: "selftest", Name: "Self test", Description: "Run the built-in diagnostic"},
		{ID: "zero", Name: "Zero", Description: "Zero the baseline on all enabled channels"},
	}
	handlers := map[string]func(d *stateDriver, deviceID string, values map[string]string) error{
		"reset":    resetToDefaults,
		"selftest": func(*stateDriver, string, map[string]string) error { return nil },
		"zero":     func(*stateDriver, string, map[string]string) error { return nil },
	}
	return newStateDriver(store.DeviceTypeLab, "lab instrument", schema, commands, handlers)
}
