package client

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"labhub/pkg/devopt"
)

type Device struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Type        int       `json:"type"`
	Description string    `json:"description"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DevicesAPI is the device-facing slice of the SDK.
type DevicesAPI struct {
	c *Client
}

func (c *Client) Devices() *DevicesAPI { return &DevicesAPI{c: c} }

func (d *DevicesAPI) GetDevices(ctx context.Context) ([]Device, error) {
	var out []Device
	err := d.c.do(ctx, http.MethodGet, "/api/labhub/devices", nil, &out)
	return out, err
}

func (d *DevicesAPI) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var out Device
	if err := d.c.do(ctx, http.MethodGet, "/api/labhub/devices/"+deviceID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type createDeviceRequest struct {
	Name        string `json:"name"`
	Type        int    `json:"type"`
	Description string `json:"description"`
}

func (d *DevicesAPI) CreateDevice(ctx context.Context, name string, deviceType int, description string) (*Device, error) {
	var out Device
	err := d.c.do(ctx, http.MethodPost, "/api/labhub/devices",
		createDeviceRequest{Name: name, Type: deviceType, Description: description}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *DevicesAPI) RenameDevice(ctx context.Context, deviceID, name string) (*Device, error) {
	var out Device
	err := d.c.do(ctx, http.MethodPatch, "/api/labhub/devices/"+deviceID,
		map[string]string{"name": name}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *DevicesAPI) DeleteDevice(ctx context.Context, deviceID string) error {
	return d.c.do(ctx, http.MethodDelete, "/api/labhub/devices/"+deviceID, nil, nil)
}

func (d *DevicesAPI) GetDeviceOptions(ctx context.Context, deviceID string) ([]devopt.WireOption, error) {
	var out []devopt.WireOption
	err := d.c.do(ctx, http.MethodGet, "/api/labhub/devices/"+deviceID+"/options", nil, &out)
	return out, err
}

func (d *DevicesAPI) EditDeviceOptions(ctx context.Context, deviceID string, changes map[string]string) ([]devopt.WireOption, error) {
	var out []devopt.WireOption
	err := d.c.do(ctx, http.MethodPatch, "/api/labhub/devices/"+deviceID+"/options", changes, &out)
	return out, err
}

func (d *DevicesAPI) RefreshDeviceOptions(ctx context.Context, deviceID string) ([]devopt.WireOption, error) {
	var out []devopt.WireOption
	err := d.c.do(ctx, http.MethodPost, "/api/labhub/devices/"+deviceID+"/options/refresh", nil, &out)
	return out, err
}

func (d *DevicesAPI) GetDeviceCommands(ctx context.Context, deviceID string) ([]devopt.Command, error) {
	var out []devopt.Command
	err := d.c.do(ctx, http.MethodGet, "/api/labhub/devices/"+deviceID+"/commands", nil, &out)
	return out, err
}

func (d *DevicesAPI) RunDeviceCommand(ctx context.Context, deviceID, commandID string) error {
	return d.c.do(ctx, http.MethodPost, "/api/labhub/devices/"+deviceID+"/commands/"+commandID, nil, nil)
}

func (d *DevicesAPI) SetDeviceType(ctx context.Context, deviceID string, deviceType int) (*Device, error) {
	var out Device
	err := d.c.do(ctx, http.MethodPut, "/api/labhub/devices/"+deviceID+"/type",
		map[string]int{"type": deviceType}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Editor adapts the device API to the interface devopt.Session edits
// against.
func (d *DevicesAPI) Editor() devopt.DeviceAPI { return editorAPI{d} }

// EditSession opens an option-editing session for one device.
func (d *DevicesAPI) EditSession(deviceID string) *devopt.Session {
	return devopt.NewSession(d.Editor(), deviceID)
}

type editorAPI struct {
	*DevicesAPI
}

func (e editorAPI) SetDeviceType(ctx context.Context, deviceID string, deviceType int) error {
	_, err := e.DevicesAPI.SetDeviceType(ctx, deviceID, deviceType)
	return err
}
