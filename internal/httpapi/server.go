package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"labhub/internal/auth"
	"labhub/internal/driver"
	"labhub/internal/realtime"
	"labhub/internal/store"
)

type Server struct {
	repo     *store.Repo
	drivers  *driver.Registry
	hub      *realtime.Hub
	secret   string
	tokenTTL time.Duration
}

func NewServer(repo *store.Repo, drivers *driver.Registry, hub *realtime.Hub, secret string, tokenTTL time.Duration) *Server {
	return &Server{repo: repo, drivers: drivers, hub: hub, secret: secret, tokenTTL: tokenTTL}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- auth ---

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := s.repo.ValidateUser(r.Context(), req.Email, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		slog.Error("login lookup failed", "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	token, err := auth.IssueToken(s.secret, u, s.tokenTTL)
	if err != nil {
		slog.Error("token issue failed", "user", u.ID.String(), "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: u})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r)
	u, err := s.repo.GetUser(r.Context(), claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- devices ---

type deviceCreateRequest struct {
	Name        string `json:"name"`
	Type        int    `json:"type"`
	Description string `json:"description"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type setTypeRequest struct {
	Type int `json:"type"`
}

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	devices, err := s.repo.ListDevices(r.Context())
	if err != nil {
		slog.Error("device list query failed", "error", err)
		http.Error(w, "failed to load devices", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDeviceCreate(w http.ResponseWriter, r *http.Request) {
	var req deviceCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if _, err := s.drivers.ForType(req.Type); err != nil {
		http.Error(w, "unknown device type", http.StatusBadRequest)
		return
	}
	d := &store.Device{Name: strings.TrimSpace(req.Name), Type: req.Type, Description: req.Description}
	if err := s.repo.CreateDevice(r.Context(), d); err != nil {
		slog.Error("device create failed", "error", err)
		http.Error(w, "failed to create device", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// device resolves the path device or writes the error response.
func (s *Server) device(w http.ResponseWriter, r *http.Request) *store.Device {
	id := chi.URLParam(r, "id")
	d, err := s.repo.GetDevice(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "device not found", http.StatusNotFound)
		return nil
	}
	if err != nil {
		slog.Error("device lookup failed", "device_id", id, "error", err)
		http.Error(w, "device lookup failed", http.StatusInternalServerError)
		return nil
	}
	return d
}

func (s *Server) handleDeviceGet(w http.ResponseWriter, r *http.Request) {
	if d := s.device(w, r); d != nil {
		writeJSON(w, http.StatusOK, d)
	}
}

func (s *Server) handleDeviceRename(w http.ResponseWriter, r *http.Request) {
	d := s.device(w, r)
	if d == nil {
		return
	}
	var req renameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	d.Name = name
	if err := s.repo.UpdateDevice(r.Context(), d); err != nil {
		slog.Error("rename update failed", "device_id", d.ID.String(), "error", err)
		http.Error(w, "failed to update device", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeviceDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.repo.DeleteDevice(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("device delete failed", "device_id", id, "error", err)
		http.Error(w, "failed to delete device", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeviceSetType(w http.ResponseWriter, r *http.Request) {
	d := s.device(w, r)
	if d == nil {
		return
	}
	var req setTypeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := s.drivers.ForType(req.Type); err != nil {
		http.Error(w, "unknown device type", http.StatusBadRequest)
		return
	}
	d.Type = req.Type
	if err := s.repo.UpdateDevice(r.Context(), d); err != nil {
		slog.Error("type update failed", "device_id", d.ID.String(), "error", err)
		http.Error(w, "failed to update device", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// deviceDriver resolves the device and its driver or writes the error.
func (s *Server) deviceDriver(w http.ResponseWriter, r *http.Request) (*store.Device, driver.Driver) {
	d := s.device(w, r)
	if d == nil {
		return nil, nil
	}
	drv, err := s.drivers.ForType(d.Type)
	if err != nil {
		http.Error(w, "no driver for device type", http.StatusConflict)
		return nil, nil
	}
	return d, drv
}

func (s *Server) handleDeviceOptions(w http.ResponseWriter, r *http.Request) {
	d, drv := s.deviceDriver(w, r)
	if d == nil {
		return
	}
	writeJSON(w, http.StatusOK, drv.Options(d.ID.String()))
}

func (s *Server) handleDeviceOptionsEdit(w http.ResponseWriter, r *http.Request) {
	d, drv := s.deviceDriver(w, r)
	if d == nil {
		return
	}
	var changes map[string]string
	if !decodeBody(w, r, &changes) {
		return
	}
	if len(changes) == 0 {
		http.Error(w, "no changes", http.StatusBadRequest)
		return
	}
	updated, err := drv.EditOptions(d.ID.String(), changes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeviceOptionsRefresh(w http.ResponseWriter, r *http.Request) {
	d, drv := s.deviceDriver(w, r)
	if d == nil {
		return
	}
	writeJSON(w, http.StatusOK, drv.RefreshOptions(d.ID.String()))
}

func (s *Server) handleDeviceCommands(w http.ResponseWriter, r *http.Request) {
	d, drv := s.deviceDriver(w, r)
	if d == nil {
		return
	}
	writeJSON(w, http.StatusOK, drv.Commands())
}

func (s *Server) handleDeviceRunCommand(w http.ResponseWriter, r *http.Request) {
	d, drv := s.deviceDriver(w, r)
	if d == nil {
		return
	}
	commandID := chi.URLParam(r, "commandID")
	err := drv.RunCommand(d.ID.String(), commandID)
	if errors.Is(err, driver.ErrUnknownCommand) {
		http.Error(w, "command not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("command failed", "device_id", d.ID.String(), "command", commandID, "error", err)
		http.Error(w, "command failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed", "device_id": d.ID.String(), "command": commandID})
}

// --- storage ---

func (s *Server) handleStorageItems(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	cursor, err := store.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		http.Error(w, "invalid cursor", http.StatusBadRequest)
		return
	}
	page, err := s.repo.ListStorageItems(r.Context(), sessionID, limit, cursor)
	if err != nil {
		slog.Error("storage query failed", "session", sessionID, "error", err)
		http.Error(w, "failed to load storage items", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// --- live ---

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	experimentID := r.URL.Query().Get("experiment_id")
	if experimentID == "" {
		http.Error(w, "experiment_id is required", http.StatusBadRequest)
		return
	}
	if _, err := s.repo.GetExperiment(r.Context(), experimentID); errors.Is(err, store.ErrNotFound) {
		http.Error(w, "experiment not found", http.StatusNotFound)
		return
	}
	s.hub.Serve(w, r, experimentID)
}

// --- helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if len(body) == 0 {
		http.Error(w, "request body required", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

// decodeOptionalBody is decodeBody for endpoints whose body may be
// absent. An empty body leaves dst untouched. Presence is decided by
// reading, not by Content-Length, since chunked requests carry none.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
