package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"labhub/internal/store"
)

type experimentCreateRequest struct {
	DeviceIDs       []string `json:"device_ids"`
	AcquisitionMode string   `json:"acquisition_mode"`
	ConfigurationID string   `json:"configuration_id,omitempty"`
}

type experimentStartRequest struct {
	DurationSeconds int `json:"duration_seconds,omitempty"`
}

func (s *Server) handleExperimentList(w http.ResponseWriter, r *http.Request) {
	var (
		list []store.Experiment
		err  error
	)
	if r.URL.Query().Get("archived") == "true" {
		list, err = s.repo.ListArchivedExperiments(r.Context())
	} else {
		list, err = s.repo.ListRelevantExperiments(r.Context())
	}
	if err != nil {
		slog.Error("experiment list query failed", "error", err)
		http.Error(w, "failed to load experiments", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleExperimentCreate(w http.ResponseWriter, r *http.Request) {
	var req experimentCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.DeviceIDs) == 0 {
		http.Error(w, "device_ids is required", http.StatusBadRequest)
		return
	}
	mode := req.AcquisitionMode
	if mode == "" {
		mode = store.AcquisitionModeLive
	}
	if mode != store.AcquisitionModeLive && mode != store.AcquisitionModeStore {
		http.Error(w, "invalid acquisition_mode", http.StatusBadRequest)
		return
	}
	for _, id := range req.DeviceIDs {
		if _, err := s.repo.GetDevice(r.Context(), id); errors.Is(err, store.ErrNotFound) {
			http.Error(w, "device not found: "+id, http.StatusBadRequest)
			return
		}
	}
	var configID *uuid.UUID
	if req.ConfigurationID != "" {
		parsed, err := uuid.Parse(req.ConfigurationID)
		if err != nil {
			http.Error(w, "invalid configuration_id", http.StatusBadRequest)
			return
		}
		if _, err := s.repo.GetConfiguration(r.Context(), parsed.String()); errors.Is(err, store.ErrNotFound) {
			http.Error(w, "configuration not found", http.StatusBadRequest)
			return
		}
		configID = &parsed
	}
	e, err := s.repo.CreateExperiment(r.Context(), req.DeviceIDs, mode, configID)
	if err != nil {
		slog.Error("experiment create failed", "error", err)
		http.Error(w, "failed to create experiment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// experiment resolves the path experiment or writes the error response.
func (s *Server) experiment(w http.ResponseWriter, r *http.Request) *store.Experiment {
	id := chi.URLParam(r, "id")
	e, err := s.repo.GetExperiment(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "experiment not found", http.StatusNotFound)
		return nil
	}
	if err != nil {
		slog.Error("experiment lookup failed", "experiment_id", id, "error", err)
		http.Error(w, "experiment lookup failed", http.StatusInternalServerError)
		return nil
	}
	return e
}

func (s *Server) handleExperimentGet(w http.ResponseWriter, r *http.Request) {
	if e := s.experiment(w, r); e != nil {
		writeJSON(w, http.StatusOK, e)
	}
}

func (s *Server) handleExperimentStart(w http.ResponseWriter, r *http.Request) {
	e := s.experiment(w, r)
	if e == nil {
		return
	}
	if e.StartedAt != nil && e.EndedAt == nil {
		http.Error(w, "experiment already running", http.StatusConflict)
		return
	}
	var req experimentStartRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	now := time.Now().UTC()
	e.StartedAt = &now
	e.EndedAt = nil
	if req.DurationSeconds > 0 {
		// Planned end; the operator can still stop earlier.
		end := now.Add(time.Duration(req.DurationSeconds) * time.Second)
		e.EndedAt = &end
	}
	if err := s.repo.SaveExperiment(r.Context(), e); err != nil {
		slog.Error("experiment start failed", "experiment_id", e.ID.String(), "error", err)
		http.Error(w, "failed to start experiment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleExperimentStop(w http.ResponseWriter, r *http.Request) {
	e := s.experiment(w, r)
	if e == nil {
		return
	}
	if e.StartedAt == nil {
		http.Error(w, "experiment not started", http.StatusConflict)
		return
	}
	now := time.Now().UTC()
	e.EndedAt = &now
	if err := s.repo.SaveExperiment(r.Context(), e); err != nil {
		slog.Error("experiment stop failed", "experiment_id", e.ID.String(), "error", err)
		http.Error(w, "failed to stop experiment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleExperimentArchive(w http.ResponseWriter, r *http.Request) {
	e := s.experiment(w, r)
	if e == nil {
		return
	}
	now := time.Now().UTC()
	if e.StartedAt != nil && e.EndedAt == nil {
		// Archiving a running experiment stops it.
		e.EndedAt = &now
	}
	e.ArchivedAt = &now
	if err := s.repo.SaveExperiment(r.Context(), e); err != nil {
		slog.Error("experiment archive failed", "experiment_id", e.ID.String(), "error", err)
		http.Error(w, "failed to archive experiment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleExperimentDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.repo.DeleteExperiment(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "experiment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("experiment delete failed", "experiment_id", id, "error", err)
		http.Error(w, "failed to delete experiment", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- acquisition configurations ---

func (s *Server) handleConfigurationList(w http.ResponseWriter, r *http.Request) {
	list, err := s.repo.ListConfigurations(r.Context())
	if err != nil {
		slog.Error("configuration list query failed", "error", err)
		http.Error(w, "failed to load configurations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleConfigurationCreate(w http.ResponseWriter, r *http.Request) {
	var c store.AcquisitionConfiguration
	if !decodeBody(w, r, &c) {
		return
	}
	if c.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	c.ID = uuid.Nil
	if err := s.repo.CreateConfiguration(r.Context(), &c); err != nil {
		slog.Error("configuration create failed", "error", err)
		http.Error(w, "failed to create configuration", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleConfigurationPatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var fields map[string]any
	if !decodeBody(w, r, &fields) {
		return
	}
	delete(fields, "id")
	c, err := s.repo.PatchConfiguration(r.Context(), id, fields)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "configuration not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("configuration patch failed", "configuration_id", id, "error", err)
		http.Error(w, "failed to update configuration", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
