package devopt_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labhub/pkg/devopt"
)

// fakeAPI is an in-memory DeviceAPI with scriptable failures.
type fakeAPI struct {
	options  []devopt.WireOption
	commands []devopt.Command

	failLoad    error
	failSave    error
	failRefresh error

	editCalls []map[string]string
	ranCmds   []string
	// editResult overrides the echoed post-state when set.
	editResult []devopt.WireOption
	// block, when non-nil, is closed by the test to release a pending
	// save; entered receives once the save has reached the transport.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeAPI) GetDeviceOptions(ctx context.Context, deviceID string) ([]devopt.WireOption, error) {
	if f.failLoad != nil {
		return nil, f.failLoad
	}
	return append([]devopt.WireOption(nil), f.options...), nil
}

func (f *fakeAPI) GetDeviceCommands(ctx context.Context, deviceID string) ([]devopt.Command, error) {
	return append([]devopt.Command(nil), f.commands...), nil
}

func (f *fakeAPI) EditDeviceOptions(ctx context.Context, deviceID string, changes map[string]string) ([]devopt.WireOption, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.editCalls = append(f.editCalls, changes)
	if f.failSave != nil {
		return nil, f.failSave
	}
	if f.editResult != nil {
		return f.editResult, nil
	}
	var out []devopt.WireOption
	for _, o := range f.options {
		if v, ok := changes[o.ID]; ok {
			o.Value = v
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeAPI) RefreshDeviceOptions(ctx context.Context, deviceID string) ([]devopt.WireOption, error) {
	if f.failRefresh != nil {
		return nil, f.failRefresh
	}
	return append([]devopt.WireOption(nil), f.options...), nil
}

func (f *fakeAPI) RunDeviceCommand(ctx context.Context, deviceID, commandID string) error {
	f.ranCmds = append(f.ranCmds, commandID)
	return nil
}

func (f *fakeAPI) SetDeviceType(ctx context.Context, deviceID string, deviceType int) error {
	return nil
}

func testSchema() []devopt.WireOption {
	return []devopt.WireOption{
		{ID: "A", Name: "Averaging", OptionType: int(devopt.KindRange), AvailableValues: "[0-100-5]", Value: "0", Group: "Acquisition"},
		{ID: "B", Name: "HV", OptionType: int(devopt.KindSwitch), AvailableValues: "Off;On", Value: "Off", Group: "High Voltage"},
		{ID: "C", Name: "Mask", OptionType: int(devopt.KindBinary), AvailableValues: "4", Value: "0101"},
		{ID: "D", Name: "Serial", OptionType: int(devopt.KindReadOnly), Value: "SN-42"},
		{ID: "E", Name: "Label", OptionType: int(devopt.KindText), Value: "bench 1"},
	}
}

func loadedSession(t *testing.T, api *fakeAPI) *devopt.Session {
	t.Helper()
	s := devopt.NewSession(api, "dev-1")
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestDirtyTracksNetDifference(t *testing.T) {
	s := loadedSession(t, &fakeAPI{options: testSchema()})

	require.NoError(t, s.SetDraft("B", "On"))
	assert.Equal(t, map[string]string{"B": "On"}, s.Dirty())

	// Reverting to the confirmed value empties the dirty set again.
	require.NoError(t, s.SetDraft("B", "Off"))
	assert.Empty(t, s.Dirty())
}

func TestSetDraftClampsRange(t *testing.T) {
	s := loadedSession(t, &fakeAPI{options: testSchema()})

	require.NoError(t, s.SetDraft("A", "150"))
	v, _ := s.Draft("A")
	assert.Equal(t, "100", v)

	require.NoError(t, s.SetDraft("A", "-10"))
	v, _ = s.Draft("A")
	assert.Equal(t, "0", v)
	assert.Empty(t, s.Dirty(), "clamp back to the confirmed value leaves nothing dirty")
}

func TestToggleBit(t *testing.T) {
	s := loadedSession(t, &fakeAPI{options: testSchema()})

	require.NoError(t, s.ToggleBit("C", 0))
	v, _ := s.Draft("C")
	assert.Equal(t, "1101", v)
	assert.Equal(t, map[string]string{"C": "1101"}, s.Dirty())
}

func TestReadOnlyNeverDirty(t *testing.T) {
	s := loadedSession(t, &fakeAPI{options: testSchema()})
	require.Error(t, s.SetDraft("D", "SN-99"))
	assert.Empty(t, s.Dirty())
}

func TestSaveSendsOnlyDirty(t *testing.T) {
	api := &fakeAPI{options: testSchema()}
	s := loadedSession(t, api)

	require.NoError(t, s.SetDraft("B", "On"))
	require.NoError(t, s.Save(context.Background()))

	require.Len(t, api.editCalls, 1)
	assert.Equal(t, map[string]string{"B": "On"}, api.editCalls[0])
	assert.Empty(t, s.Dirty())
}

func TestSaveFailurePreservesEdits(t *testing.T) {
	api := &fakeAPI{options: testSchema(), failSave: errors.New("broker unreachable")}
	s := loadedSession(t, api)

	require.NoError(t, s.SetDraft("B", "On"))
	err := s.Save(context.Background())
	require.ErrorIs(t, err, devopt.ErrSave)

	assert.Equal(t, map[string]string{"B": "On"}, s.Dirty())
	confirmed, _ := s.Confirmed("B")
	assert.Equal(t, "Off", confirmed)
}

func TestSaveCommitsServerTruth(t *testing.T) {
	api := &fakeAPI{
		options: testSchema(),
		// The hub quantized the requested 5 down to 4.
		editResult: []devopt.WireOption{
			{ID: "A", OptionType: int(devopt.KindRange), AvailableValues: "[0-100-5]", Value: "4"},
		},
	}
	s := loadedSession(t, api)

	require.NoError(t, s.SetDraft("A", "5"))
	require.NoError(t, s.Save(context.Background()))

	confirmed, _ := s.Confirmed("A")
	assert.Equal(t, "4", confirmed)
	assert.Empty(t, s.Dirty())
}

func TestSecondSaveRejectedWhileInFlight(t *testing.T) {
	api := &fakeAPI{options: testSchema(), block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := loadedSession(t, api)
	require.NoError(t, s.SetDraft("B", "On"))

	done := make(chan error, 1)
	go func() { done <- s.Save(context.Background()) }()

	// Wait until the first save is on the wire, then try another.
	<-api.entered
	assert.ErrorIs(t, s.Save(context.Background()), devopt.ErrSaveInFlight)

	close(api.block)
	require.NoError(t, <-done)
}

func TestEditDuringSaveSurvivesCompletion(t *testing.T) {
	api := &fakeAPI{options: testSchema(), block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := loadedSession(t, api)
	require.NoError(t, s.SetDraft("A", "10"))

	done := make(chan error, 1)
	go func() { done <- s.Save(context.Background()) }()

	// Edit the same option again while the first save is on the wire.
	<-api.entered
	require.NoError(t, s.SetDraft("A", "20"))

	close(api.block)
	require.NoError(t, <-done)

	// The hub confirmed the value that was sent, but the newer edit
	// must not be overwritten by the echo.
	confirmed, _ := s.Confirmed("A")
	assert.Equal(t, "10", confirmed)
	v, _ := s.Draft("A")
	assert.Equal(t, "20", v)
	assert.Equal(t, map[string]string{"A": "20"}, s.Dirty())
}

func TestRefreshDiscardsEdits(t *testing.T) {
	api := &fakeAPI{options: testSchema()}
	s := loadedSession(t, api)

	require.NoError(t, s.SetDraft("B", "On"))
	require.NoError(t, s.Refresh(context.Background()))

	assert.Empty(t, s.Dirty())
	v, _ := s.Draft("B")
	assert.Equal(t, "Off", v)
}

func TestRefreshFailureKeepsEdits(t *testing.T) {
	api := &fakeAPI{options: testSchema(), failRefresh: errors.New("device busy")}
	s := loadedSession(t, api)

	require.NoError(t, s.SetDraft("B", "On"))
	require.ErrorIs(t, s.Refresh(context.Background()), devopt.ErrLoad)
	assert.Equal(t, map[string]string{"B": "On"}, s.Dirty())
}

func TestCloseDiscardsLateResults(t *testing.T) {
	api := &fakeAPI{options: testSchema(), block: make(chan struct{})}
	s := loadedSession(t, api)
	require.NoError(t, s.SetDraft("B", "On"))

	done := make(chan error, 1)
	go func() { done <- s.Save(context.Background()) }()

	s.Close()
	close(api.block)
	assert.ErrorIs(t, <-done, devopt.ErrClosed)

	// Post-close edits are refused too.
	assert.ErrorIs(t, s.SetDraft("B", "Off"), devopt.ErrClosed)
}

func TestGroupsCoverAllOptions(t *testing.T) {
	s := loadedSession(t, &fakeAPI{options: testSchema()})
	groups := s.Groups()

	total := 0
	for _, g := range groups {
		total += len(g.Options)
	}
	assert.Equal(t, len(testSchema()), total)

	names := map[string]bool{}
	for _, g := range groups {
		names[g.Name] = true
	}
	assert.True(t, names["Acquisition"])
	assert.True(t, names[devopt.DefaultGroup], "ungrouped options land in the default bucket")
}

func TestRunCommandReportsFailure(t *testing.T) {
	api := &fakeAPI{options: testSchema()}
	s := loadedSession(t, api)
	require.NoError(t, s.RunCommand(context.Background(), "reset"))
	assert.Equal(t, []string{"reset"}, api.ranCmds)
}
