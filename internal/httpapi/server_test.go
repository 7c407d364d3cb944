package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"labhub/internal/driver"
	"labhub/internal/realtime"
	"labhub/internal/store"
	"labhub/pkg/devopt"
)

const testSecret = "httpapi-test-secret"

var dbSeq int

type testEnv struct {
	repo   *store.Repo
	router http.Handler
	admin  string // bearer token
	user   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dbSeq++
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:httpapi_%d?mode=memory&cache=shared", dbSeq)), &gorm.Config{})
	require.NoError(t, err)
	repo, err := store.New(db)
	require.NoError(t, err)

	drivers := driver.NewRegistry(driver.NewLabDevice(), driver.NewPressureGauge())
	srv := NewServer(repo, drivers, realtime.NewHub(), testSecret, time.Hour)
	router := NewRouter(srv, RouterOptions{JWTSecret: testSecret})

	env := &testEnv{repo: repo, router: router}
	env.admin = env.login(t, "admin", "admin@lab.example", "admin-pw", "admin")
	env.user = env.login(t, "operator", "op@lab.example", "op-pw", "user")
	return env
}

func (e *testEnv) login(t *testing.T, name, email, password, role string) string {
	t.Helper()
	_, err := e.repo.CreateUser(t.Context(), name, email, password, role)
	require.NoError(t, err)
	rec := e.do(t, http.MethodPost, "/api/labhub/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (e *testEnv) createDevice(t *testing.T, name string, typ int) store.Device {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/labhub/devices", e.user, deviceCreateRequest{Name: name, Type: typ})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[store.Device](t, rec)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/labhub/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/labhub/devices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/labhub/auth/login", "", map[string]string{
		"email": "admin@lab.example", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/labhub/auth/me", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	u := decode[store.User](t, rec)
	assert.Equal(t, "operator", u.UserName)
}

func TestDeviceLifecycle(t *testing.T) {
	env := newTestEnv(t)

	d := env.createDevice(t, "rig-1", store.DeviceTypeLab)

	rec := env.do(t, http.MethodGet, "/api/labhub/devices", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Device](t, rec), 1)

	rec = env.do(t, http.MethodPatch, "/api/labhub/devices/"+d.ID.String(), env.user, renameRequest{Name: "rig-renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rig-renamed", decode[store.Device](t, rec).Name)

	rec = env.do(t, http.MethodPut, "/api/labhub/devices/"+d.ID.String()+"/type", env.user, setTypeRequest{Type: store.DeviceTypePressure})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.DeviceTypePressure, decode[store.Device](t, rec).Type)

	rec = env.do(t, http.MethodPut, "/api/labhub/devices/"+d.ID.String()+"/type", env.user, setTypeRequest{Type: 99})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/labhub/devices/"+d.ID.String(), env.user, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/labhub/devices/"+d.ID.String(), env.user, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeviceCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/labhub/devices", env.user, deviceCreateRequest{Name: "x", Type: 42})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/labhub/devices", env.user, deviceCreateRequest{Name: "  ", Type: store.DeviceTypeLab})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceOptionsFlow(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDevice(t, "rig-1", store.DeviceTypeLab)
	base := "/api/labhub/devices/" + d.ID.String()

	rec := env.do(t, http.MethodGet, base+"/options", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	opts := decode[[]devopt.WireOption](t, rec)
	assert.NotEmpty(t, opts)

	// Partial edit returns only affected options, range snapped.
	rec = env.do(t, http.MethodPatch, base+"/options", env.user, map[string]string{
		"hv-level": "1490", "hv-enable": "On",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[[]devopt.WireOption](t, rec)
	require.Len(t, updated, 2)
	for _, o := range updated {
		if o.ID == "hv-level" {
			assert.Equal(t, "1500", o.Value)
		}
	}

	rec = env.do(t, http.MethodPatch, base+"/options", env.user, map[string]string{"firmware": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/options/refresh", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	refreshed := decode[[]devopt.WireOption](t, rec)
	assert.Len(t, refreshed, len(opts))

	rec = env.do(t, http.MethodGet, base+"/commands", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]devopt.Command](t, rec))

	rec = env.do(t, http.MethodPost, base+"/commands/reset", env.user, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, base+"/commands/warp", env.user, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExperimentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDevice(t, "rig-1", store.DeviceTypeLab)

	rec := env.do(t, http.MethodPost, "/api/labhub/experiments", env.user, experimentCreateRequest{
		DeviceIDs: []string{"no-such-device"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/labhub/experiments", env.user, experimentCreateRequest{
		DeviceIDs:       []string{d.ID.String()},
		AcquisitionMode: store.AcquisitionModeStore,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	e := decode[store.Experiment](t, rec)
	base := "/api/labhub/experiments/" + e.ID.String()

	rec = env.do(t, http.MethodPost, base+"/start", env.user, experimentStartRequest{DurationSeconds: 60})
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode[store.Experiment](t, rec)
	require.NotNil(t, started.StartedAt)
	require.NotNil(t, started.EndedAt, "duration sets a planned end")

	rec = env.do(t, http.MethodPost, base+"/stop", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/archive", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/labhub/experiments", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.Experiment](t, rec), "archived experiments leave the relevant list")

	rec = env.do(t, http.MethodGet, "/api/labhub/experiments?archived=true", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Experiment](t, rec), 1)

	rec = env.do(t, http.MethodDelete, base, env.user, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExperimentStartWithoutContentLength(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDevice(t, "rig-1", store.DeviceTypeLab)
	rec := env.do(t, http.MethodPost, "/api/labhub/experiments", env.user, experimentCreateRequest{
		DeviceIDs: []string{d.ID.String()},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	e := decode[store.Experiment](t, rec)

	// Chunked transfer carries no Content-Length; the duration in the
	// body must still be honored.
	body := struct{ io.Reader }{bytes.NewBufferString(`{"duration_seconds": 60}`)}
	req := httptest.NewRequest(http.MethodPost, "/api/labhub/experiments/"+e.ID.String()+"/start", body)
	require.Equal(t, int64(-1), req.ContentLength)
	req.Header.Set("Authorization", "Bearer "+env.user)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	started := decode[store.Experiment](t, rec)
	require.NotNil(t, started.StartedAt)
	require.NotNil(t, started.EndedAt, "duration sets a planned end")
}

func TestExperimentStartConflicts(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDevice(t, "rig-1", store.DeviceTypeLab)
	rec := env.do(t, http.MethodPost, "/api/labhub/experiments", env.user, experimentCreateRequest{
		DeviceIDs: []string{d.ID.String()},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	e := decode[store.Experiment](t, rec)
	base := "/api/labhub/experiments/" + e.ID.String()

	rec = env.do(t, http.MethodPost, base+"/stop", env.user, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "cannot stop before start")

	rec = env.do(t, http.MethodPost, base+"/start", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, base+"/start", env.user, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "cannot start twice")
}

func TestConfigurations(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/labhub/acquisition-configurations", env.user,
		store.AcquisitionConfiguration{Name: "windowed", WindWidth: 100})
	require.Equal(t, http.StatusCreated, rec.Code)
	c := decode[store.AcquisitionConfiguration](t, rec)

	rec = env.do(t, http.MethodPatch, "/api/labhub/acquisition-configurations/"+c.ID.String(), env.user,
		map[string]any{"wind_width": 300})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 300, decode[store.AcquisitionConfiguration](t, rec).WindWidth)

	rec = env.do(t, http.MethodGet, "/api/labhub/acquisition-configurations", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.AcquisitionConfiguration](t, rec), 1)
}

func TestStorageItemsPaged(t *testing.T) {
	env := newTestEnv(t)
	session := "exp-1_dev-1"
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		require.NoError(t, env.repo.InsertStorageItem(t.Context(), &store.StorageItem{
			SessionID: session,
			Value:     fmt.Sprintf("%d", i),
			TS:        base.Add(time.Duration(i) * time.Second),
		}))
	}

	rec := env.do(t, http.MethodGet, "/api/labhub/storage/sessions/"+session+"/items?limit=10", env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[store.StoragePage](t, rec)
	require.Len(t, page.Items, 10)
	require.NotEmpty(t, page.NextCursor)

	rec = env.do(t, http.MethodGet, "/api/labhub/storage/sessions/"+session+"/items?limit=10&cursor="+page.NextCursor, env.user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[store.StoragePage](t, rec)
	assert.Len(t, page.Items, 5)
	assert.Empty(t, page.NextCursor)

	rec = env.do(t, http.MethodGet, "/api/labhub/storage/sessions/"+session+"/items?cursor=%25bad", env.user, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserAdminGuard(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/labhub/users", env.user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/labhub/users", env.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.User](t, rec), 2)

	rec = env.do(t, http.MethodPost, "/api/labhub/users", env.admin, userCreateRequest{
		UserName: "carol", Email: "carol@lab.example", Password: "pw",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[store.User](t, rec)
	assert.Equal(t, "user", created.Role)

	rec = env.do(t, http.MethodPost, "/api/labhub/users", env.admin, userCreateRequest{
		UserName: "carol2", Email: "carol@lab.example", Password: "pw",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/labhub/users/"+created.ID.String(), env.admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthorizedResources(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/labhub/users", env.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[[]store.User](t, rec)
	var operator store.User
	for _, u := range users {
		if u.UserName == "operator" {
			operator = u
		}
	}
	base := "/api/labhub/users/" + operator.ID.String() + "/authorized-resources"

	rec = env.do(t, http.MethodPut, base, env.admin, authorizedResourcesRequest{ResourceIDs: []string{"dev-1", "exp-2"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, base, env.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"dev-1", "exp-2"}, decode[authorizedResourcesRequest](t, rec).ResourceIDs)
}

func TestLiveRequiresExperiment(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/labhub/live", env.user, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/labhub/live?experiment_id=nope", env.user, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
