package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Device type classifications. The option schema a device exposes is
// determined by its type.
const (
	DeviceTypeLab      = 0 // full acquisition instrument
	DeviceTypePressure = 1
	DeviceTypeMock     = 2
)

type Device struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `json:"name"`
	Type        int       `gorm:"index" json:"type"`
	Description string    `gorm:"type:text" json:"description"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) (err error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Acquisition modes an experiment can run in.
const (
	AcquisitionModeLive  = "live"  // pass-through only
	AcquisitionModeStore = "store" // pass-through plus persisted storage
)

type Experiment struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DeviceIDs       datatypes.JSON `gorm:"type:jsonb" json:"device_ids"`
	AcquisitionMode string         `json:"acquisition_mode"`
	ConfigurationID *uuid.UUID     `gorm:"type:uuid" json:"configuration_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
	ArchivedAt      *time.Time     `gorm:"index" json:"archived_at,omitempty"`
}

func (e *Experiment) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// AcquisitionConfiguration is a named set of hardware windowing and
// timing parameters an experiment can be created against.
type AcquisitionConfiguration struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
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

func (c *AcquisitionConfiguration) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// StorageItem is one persisted telemetry sample. SessionID is
// "<experimentID>_<deviceID>", matching the session naming the console
// queries by.
type StorageItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID string    `gorm:"index:idx_session_ts,priority:1" json:"session_id"`
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	Type      string    `json:"type"`
	TS        time.Time `gorm:"index:idx_session_ts,priority:2" json:"timestamp"`
	CreatorID string    `json:"creator_id,omitempty"`
}

type User struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserName           string    `gorm:"uniqueIndex" json:"user_name"`
	NormalizedUserName string    `json:"-"`
	Email              string    `gorm:"uniqueIndex" json:"email"`
	NormalizedEmail    string    `json:"-"`
	PasswordHash       string    `json:"-"`
	Role               string    `json:"role"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// AuthorizedResource grants one user access to one resource (a device
// or an experiment).
type AuthorizedResource struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	ResourceID string    `gorm:"index" json:"resource_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a *AuthorizedResource) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
