package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicate          = errors.New("already exists")
)

type Repo struct {
	db *gorm.DB
}

func OpenSQLite(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{})
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(
		&Device{},
		&Experiment{},
		&AcquisitionConfiguration{},
		&StorageItem{},
		&User{},
		&AuthorizedResource{},
	); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

// --- devices ---

func (r *Repo) ListDevices(ctx context.Context) ([]Device, error) {
	var out []Device
	err := r.db.WithContext(ctx).Order("created_at").Find(&out).Error
	return out, err
}

func (r *Repo) GetDevice(ctx context.Context, id string) (*Device, error) {
	var d Device
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repo) CreateDevice(ctx context.Context, d *Device) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *Repo) UpdateDevice(ctx context.Context, d *Device) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *Repo) DeleteDevice(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&Device{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) TouchDeviceSeen(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Device{}).Where("id = ?", id).
		Updates(map[string]any{"online": true, "last_seen": at}).Error
}

// --- experiments ---

func (r *Repo) CreateExperiment(ctx context.Context, deviceIDs []string, mode string, configurationID *uuid.UUID) (*Experiment, error) {
	ids, err := json.Marshal(deviceIDs)
	if err != nil {
		return nil, err
	}
	e := &Experiment{
		DeviceIDs:       ids,
		AcquisitionMode: mode,
		ConfigurationID: configurationID,
	}
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Repo) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	var e Experiment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListRelevantExperiments returns non-archived experiments, newest
// first.
func (r *Repo) ListRelevantExperiments(ctx context.Context) ([]Experiment, error) {
	var out []Experiment
	err := r.db.WithContext(ctx).Where("archived_at IS NULL").Order("created_at DESC").Find(&out).Error
	return out, err
}

func (r *Repo) ListArchivedExperiments(ctx context.Context) ([]Experiment, error) {
	var out []Experiment
	err := r.db.WithContext(ctx).Where("archived_at IS NOT NULL").Order("archived_at DESC").Find(&out).Error
	return out, err
}

func (r *Repo) SaveExperiment(ctx context.Context, e *Experiment) error {
	return r.db.WithContext(ctx).Save(e).Error
}

func (r *Repo) DeleteExperiment(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&Experiment{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeviceIDList decodes an experiment's device id set.
func (e *Experiment) DeviceIDList() []string {
	var ids []string
	if len(e.DeviceIDs) > 0 {
		_ = json.Unmarshal(e.DeviceIDs, &ids)
	}
	return ids
}

// --- acquisition configurations ---

func (r *Repo) ListConfigurations(ctx context.Context) ([]AcquisitionConfiguration, error) {
	var out []AcquisitionConfiguration
	err := r.db.WithContext(ctx).Order("created_at").Find(&out).Error
	return out, err
}

func (r *Repo) CreateConfiguration(ctx context.Context, c *AcquisitionConfiguration) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetConfiguration(ctx context.Context, id string) (*AcquisitionConfiguration, error) {
	var c AcquisitionConfiguration
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// PatchConfiguration applies a partial field update and returns the
// post-state.
func (r *Repo) PatchConfiguration(ctx context.Context, id string, fields map[string]any) (*AcquisitionConfiguration, error) {
	if len(fields) == 0 {
		return r.GetConfiguration(ctx, id)
	}
	res := r.db.WithContext(ctx).Model(&AcquisitionConfiguration{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetConfiguration(ctx, id)
}

// --- storage items ---

func (r *Repo) InsertStorageItem(ctx context.Context, item *StorageItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.TS.IsZero() {
		item.TS = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(item).Error
}

// ListStorageItems pages through a session's stored samples in (ts,id)
// keyset order.
func (r *Repo) ListStorageItems(ctx context.Context, sessionID string, limit int, cursor *Cursor) (StoragePage, error) {
	if limit <= 0 {
		limit = 1000
	}
	if limit > 10000 {
		limit = 10000
	}

	exprs := []clause.Expression{
		clause.Eq{Column: clause.Column{Name: "session_id"}, Value: sessionID},
	}
	if cursor != nil {
		exprs = append(exprs, clause.Or(
			clause.Gt{Column: clause.Column{Name: "ts"}, Value: cursor.TS},
			clause.And(
				clause.Eq{Column: clause.Column{Name: "ts"}, Value: cursor.TS},
				clause.Gt{Column: clause.Column{Name: "id"}, Value: cursor.ID},
			),
		))
	}
	order := clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "ts"}},
		{Column: clause.Column{Name: "id"}},
	}}

	var rows []StorageItem
	q := r.db.WithContext(ctx).Clauses(clause.Where{Exprs: exprs}, order).Limit(limit + 1)
	if err := q.Find(&rows).Error; err != nil {
		return StoragePage{}, err
	}

	out := StoragePage{}
	if len(rows) > limit {
		rows = rows[:limit]
		out.NextCursor = cursorAfter(rows[limit-1])
	}
	out.Items = rows
	return out, nil
}

// --- users ---

func (r *Repo) CreateUser(ctx context.Context, userName, email, password, role string) (*User, error) {
	var existing User
	if err := r.db.WithContext(ctx).Where("normalized_email = ?", strings.ToUpper(email)).First(&existing).Error; err == nil {
		return nil, fmt.Errorf("%w: email", ErrDuplicate)
	}
	if err := r.db.WithContext(ctx).Where("normalized_user_name = ?", strings.ToUpper(userName)).First(&existing).Error; err == nil {
		return nil, fmt.Errorf("%w: user name", ErrDuplicate)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &User{
		UserName:           userName,
		NormalizedUserName: strings.ToUpper(userName),
		Email:              email,
		NormalizedEmail:    strings.ToUpper(email),
		PasswordHash:       string(hash),
		Role:               role,
	}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

func (r *Repo) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	err := r.db.WithContext(ctx).Order("created_at").Find(&out).Error
	return out, err
}

func (r *Repo) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repo) DeleteUser(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&User{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ValidateUser checks credentials and returns the matching user.
func (r *Repo) ValidateUser(ctx context.Context, email, password string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("normalized_email = ?", strings.ToUpper(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// --- authorized resources ---

func (r *Repo) AuthorizedResourcesForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	var rows []AuthorizedResource
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ResourceID)
	}
	return out, nil
}

// SetAuthorizedResourcesForUser replaces a user's grant set atomically.
func (r *Repo) SetAuthorizedResourcesForUser(ctx context.Context, userID uuid.UUID, resourceIDs []string) ([]string, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&AuthorizedResource{}).Error; err != nil {
			return err
		}
		for _, rid := range resourceIDs {
			if err := tx.Create(&AuthorizedResource{UserID: userID, ResourceID: rid}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.AuthorizedResourcesForUser(ctx, userID)
}

// HasAccess reports whether a user holds a grant for the resource.
func (r *Repo) HasAccess(ctx context.Context, userID uuid.UUID, resourceID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&AuthorizedResource{}).
		Where("user_id = ? AND resource_id = ?", userID, resourceID).Count(&count).Error
	return count > 0, err
}
