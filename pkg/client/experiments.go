package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Experiment struct {
	ID              uuid.UUID  `json:"id"`
	DeviceIDs       []string   `json:"device_ids"`
	AcquisitionMode string     `json:"acquisition_mode"`
	ConfigurationID *uuid.UUID `json:"configuration_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
}

type ExperimentsAPI struct {
	c *Client
}

func (c *Client) Experiments() *ExperimentsAPI { return &ExperimentsAPI{c: c} }

func (e *ExperimentsAPI) GetExperiments(ctx context.Context, archived bool) ([]Experiment, error) {
	path := "/api/labhub/experiments"
	if archived {
		path += "?archived=true"
	}
	var out []Experiment
	err := e.c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (e *ExperimentsAPI) GetExperiment(ctx context.Context, experimentID string) (*Experiment, error) {
	var out Experiment
	if err := e.c.do(ctx, http.MethodGet, "/api/labhub/experiments/"+experimentID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type createExperimentRequest struct {
	DeviceIDs       []string `json:"device_ids"`
	AcquisitionMode string   `json:"acquisition_mode,omitempty"`
	ConfigurationID string   `json:"configuration_id,omitempty"`
}

func (e *ExperimentsAPI) CreateExperiment(ctx context.Context, deviceIDs []string, acquisitionMode, configurationID string) (*Experiment, error) {
	var out Experiment
	err := e.c.do(ctx, http.MethodPost, "/api/labhub/experiments", createExperimentRequest{
		DeviceIDs:       deviceIDs,
		AcquisitionMode: acquisitionMode,
		ConfigurationID: configurationID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StartExperiment starts the run; a positive duration records a
// planned end.
func (e *ExperimentsAPI) StartExperiment(ctx context.Context, experimentID string, duration time.Duration) (*Experiment, error) {
	var out Experiment
	body := map[string]int{}
	if duration > 0 {
		body["duration_seconds"] = int(duration / time.Second)
	}
	err := e.c.do(ctx, http.MethodPost, "/api/labhub/experiments/"+experimentID+"/start", body, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *ExperimentsAPI) StopExperiment(ctx context.Context, experimentID string) (*Experiment, error) {
	var out Experiment
	if err := e.c.do(ctx, http.MethodPost, "/api/labhub/experiments/"+experimentID+"/stop", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *ExperimentsAPI) ArchiveExperiment(ctx context.Context, experimentID string) (*Experiment, error) {
	var out Experiment
	if err := e.c.do(ctx, http.MethodPost, "/api/labhub/experiments/"+experimentID+"/archive", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *ExperimentsAPI) DeleteExperiment(ctx context.Context, experimentID string) error {
	return e.c.do(ctx, http.MethodDelete, "/api/labhub/experiments/"+experimentID, nil, nil)
}

// --- acquisition configurations ---

type AcquisitionConfiguration struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	OutputDirectory string    `json:"output_directory"`
	OutputMode      int       `json:"output_mode"`
	WindWidth       int       `json:"wind_width"`
	WindOffset      int       `json:"wind_offset"`
	WindRejMargin   int       `json:"wind_rej_margin"`
	AlmostFullLevel int       `json:"almost_full_level"`
	IRQWait         int       `json:"irq_wait"`
	EveAlignMode    bool      `json:"eve_align_mode"`
	Period          int       `json:"period"`
	TimeDelay       int       `json:"time_delay"`
	FlipperPeriod   int       `json:"flipper_period"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type AcquisitionAPI struct {
	c *Client
}

func (c *Client) Acquisition() *AcquisitionAPI { return &AcquisitionAPI{c: c} }

func (a *AcquisitionAPI) GetConfigurations(ctx context.Context) ([]AcquisitionConfiguration, error) {
	var out []AcquisitionConfiguration
	err := a.c.do(ctx, http.MethodGet, "/api/labhub/acquisition-configurations", nil, &out)
	return out, err
}

func (a *AcquisitionAPI) CreateConfiguration(ctx context.Context, cfg AcquisitionConfiguration) (*AcquisitionConfiguration, error) {
	var out AcquisitionConfiguration
	if err := a.c.do(ctx, http.MethodPost, "/api/labhub/acquisition-configurations", cfg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *AcquisitionAPI) PatchConfiguration(ctx context.Context, configurationID string, fields map[string]any) (*AcquisitionConfiguration, error) {
	var out AcquisitionConfiguration
	err := a.c.do(ctx, http.MethodPatch, "/api/labhub/acquisition-configurations/"+configurationID, fields, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// --- stored telemetry ---

type StorageItem struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Type      string    `json:"type"`
	TS        time.Time `json:"timestamp"`
	CreatorID string    `json:"creator_id,omitempty"`
}

type StoragePage struct {
	Items      []StorageItem `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// GetStorageItems pages through one session's stored samples.
func (c *Client) GetStorageItems(ctx context.Context, sessionID string, limit int, cursor string) (*StoragePage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/api/labhub/storage/sessions/" + sessionID + "/items"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out StoragePage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
