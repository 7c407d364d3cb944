package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labhub/internal/store"
	"labhub/pkg/devopt"
)

func findOption(t *testing.T, opts []devopt.WireOption, id string) devopt.WireOption {
	t.Helper()
	for _, o := range opts {
		if o.ID == id {
			return o
		}
	}
	t.Fatalf("option %s not found", id)
	return devopt.WireOption{}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(NewLabDevice(), NewPressureGauge())

	d, err := reg.ForType(store.DeviceTypeLab)
	require.NoError(t, err)
	assert.Equal(t, store.DeviceTypeLab, d.Type())

	_, err = reg.ForType(99)
	assert.ErrorIs(t, err, ErrUnknownType)

	types := reg.Types()
	assert.Len(t, types, 2)
	assert.Equal(t, "pressure gauge", types[store.DeviceTypePressure])
}

func TestOptionsSeedDefaultsPerDevice(t *testing.T) {
	d := NewLabDevice()

	a := d.Options("dev-a")
	b := d.Options("dev-b")
	assert.Equal(t, "Continuous", findOption(t, a, "acq-mode").Value)
	assert.Equal(t, "Continuous", findOption(t, b, "acq-mode").Value)

	_, err := d.EditOptions("dev-a", map[string]string{"acq-mode": "Windowed"})
	require.NoError(t, err)

	assert.Equal(t, "Windowed", findOption(t, d.Options("dev-a"), "acq-mode").Value)
	assert.Equal(t, "Continuous", findOption(t, d.Options("dev-b"), "acq-mode").Value,
		"state is per device")
}

func TestEditReturnsAffectedPostState(t *testing.T) {
	d := NewLabDevice()

	out, err := d.EditOptions("dev-1", map[string]string{
		"hv-level":  "1490", // snaps to the 25 V grid
		"hv-enable": "On",
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "1500", findOption(t, out, "hv-level").Value)
	assert.Equal(t, "On", findOption(t, out, "hv-enable").Value)
}

func TestEditRangeClamps(t *testing.T) {
	d := NewLabDevice()
	out, err := d.EditOptions("dev-1", map[string]string{"sample-period": "5000"})
	require.NoError(t, err)
	assert.Equal(t, "1000", out[0].Value)
}

func TestEditRejectsWithoutPartialApply(t *testing.T) {
	d := NewLabDevice()

	_, err := d.EditOptions("dev-1", map[string]string{
		"acq-mode": "Windowed",
		"no-such":  "x",
	})
	assert.ErrorIs(t, err, ErrUnknownOption)
	assert.Equal(t, "Continuous", findOption(t, d.Options("dev-1"), "acq-mode").Value,
		"a rejected batch must not apply any member")

	_, err = d.EditOptions("dev-1", map[string]string{"firmware": "9.9.9"})
	assert.ErrorIs(t, err, ErrReadOnlyOption)

	_, err = d.EditOptions("dev-1", map[string]string{"acq-mode": "Sideways"})
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = d.EditOptions("dev-1", map[string]string{"channel-mask": "10"})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestResetRestoresDefaults(t *testing.T) {
	d := NewLabDevice()
	_, err := d.EditOptions("dev-1", map[string]string{"hv-enable": "On", "channel-mask": "00000001"})
	require.NoError(t, err)

	require.NoError(t, d.RunCommand("dev-1", "reset"))
	opts := d.Options("dev-1")
	assert.Equal(t, "Off", findOption(t, opts, "hv-enable").Value)
	assert.Equal(t, "11111111", findOption(t, opts, "channel-mask").Value)

	assert.ErrorIs(t, d.RunCommand("dev-1", "explode"), ErrUnknownCommand)
}

func TestSchemasDecode(t *testing.T) {
	for _, d := range []Driver{NewLabDevice(), NewPressureGauge(), NewMockDevice()} {
		opts, err := devopt.DecodeAll(d.Options("dev-x"))
		require.NoError(t, err, "driver %s", d.Label())
		assert.NotEmpty(t, opts)
		assert.NotEmpty(t, d.Commands())
	}
}

func TestLabDeviceGrouping(t *testing.T) {
	d := NewLabDevice()
	opts, err := devopt.DecodeAll(d.Options("dev-1"))
	require.NoError(t, err)
	groups := devopt.GroupOptions(opts)
	require.Len(t, groups, 3)
	assert.Equal(t, "Acquisition", groups[0].Name)
	assert.Equal(t, "High Voltage", groups[1].Name)
	assert.Equal(t, "Channels", groups[2].Name)
}
