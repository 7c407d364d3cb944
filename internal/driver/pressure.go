package driver

import (
	"labhub/internal/store"
	"labhub/pkg/devopt"
)

// NewPressureGauge builds the driver for the chamber pressure gauge, a
// much smaller surface than the lab instrument.
func NewPressureGauge() Driver {
	schema := []devopt.WireOption{
		{
			ID:              "unit",
			Name:            "Pressure unit",
			Description:     "Unit reported in telemetry",
			Group:           "Readout",
			OptionType:      int(devopt.KindList),
			AvailableValues: "mbar;Pa;Torr",
			Value:           "mbar",
		},
		{
			ID:              "report-interval",
			Name:            "Report interval",
			Description:     "Telemetry interval in seconds",
			Group:           "Readout",
			OptionType:      int(devopt.KindRange),
			AvailableValues: "[1-60-1]",
			Value:           "5",
		},
		{
			ID:              "filament",
			Name:            "Filament",
			Description:     "Ionization filament state",
			Group:           "Gauge",
			OptionType:      int(devopt.KindSwitch),
			AvailableValues: "Off;On",
			Value:           "On",
		},
		{
			ID:          "model",
			Name:        "Gauge model",
			Group:       "Gauge",
			OptionType:  int(devopt.KindReadOnly),
			Value:       "PG-301",
			Description: "Gauge hardware model",
		},
	}
	commands := []devopt.Command{
		{ID: "reset", Name: "Reset", Description: "Restore default settings"},
		{ID: "degas", Name: "Degas", Description: "Run a degas cycle on the filament"},
	}
	handlers := map[string]func(d *stateDriver, deviceID string, values map[string]string) error{
		"reset": resetToDefaults,
		"degas": func(*stateDriver, string, map[string]string) error { return nil },
	}
	return newStateDriver(store.DeviceTypePressure, "pressure gauge", schema, commands, handlers)
}

// NewMockDevice builds the driver used by the telemetry simulator: a
// minimal schema so the simulator can be exercised end to end.
func NewMockDevice() Driver {
	schema := []devopt.WireOption{
		{
			ID:              "amplitude",
			Name:            "Amplitude",
			Description:     "Peak amplitude of the generated signal",
			Group:           "Signal",
			OptionType:      int(devopt.KindRange),
			AvailableValues: "[0-100-1]",
			Value:           "10",
		},
		{
			ID:              "waveform",
			Name:            "Waveform",
			Description:     "Shape of the generated signal",
			Group:           "Signal",
			OptionType:      int(devopt.KindList),
			AvailableValues: "sine;noise;ramp",
			Value:           "sine",
		},
	}
	commands := []devopt.Command{
		{ID: "reset", Name: "Reset", Description: "Restore default settings"},
	}
	handlers := map[string]func(d *stateDriver, deviceID string, values map[string]string) error{
		"reset": resetToDefaults,
	}
	return newStateDriver(store.DeviceTypeMock, "mock device", schema, commands, handlers)
}
