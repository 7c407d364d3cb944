package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"labhub/internal/store"
)

type userCreateRequest struct {
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type authorizedResourcesRequest struct {
	ResourceIDs []string `json:"resource_ids"`
}

func (s *Server) handleUserList(w http.ResponseWriter, r *http.Request) {
	users, err := s.repo.ListUsers(r.Context())
	if err != nil {
		slog.Error("user list query failed", "error", err)
		http.Error(w, "failed to load users", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.UserName = strings.TrimSpace(req.UserName)
	req.Email = strings.TrimSpace(req.Email)
	if req.UserName == "" || req.Email == "" || req.Password == "" {
		http.Error(w, "user_name, email and password are required", http.StatusBadRequest)
		return
	}
	role := req.Role
	if role == "" {
		role = "user"
	}
	if role != "user" && role != "admin" {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}
	u, err := s.repo.CreateUser(r.Context(), req.UserName, req.Email, req.Password, role)
	if errors.Is(err, store.ErrDuplicate) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		slog.Error("user create failed", "error", err)
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.repo.DeleteUser(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("user delete failed", "user_id", id, "error", err)
		http.Error(w, "failed to delete user", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathUserID parses the path user id or writes the error response.
func pathUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleAuthorizedResourcesGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}
	if _, err := s.repo.GetUser(r.Context(), id.String()); errors.Is(err, store.ErrNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	resources, err := s.repo.AuthorizedResourcesForUser(r.Context(), id)
	if err != nil {
		slog.Error("authorized resources query failed", "user_id", id.String(), "error", err)
		http.Error(w, "failed to load authorized resources", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, authorizedResourcesRequest{ResourceIDs: resources})
}

func (s *Server) handleAuthorizedResourcesSet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}
	if _, err := s.repo.GetUser(r.Context(), id.String()); errors.Is(err, store.ErrNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	var req authorizedResourcesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resources, err := s.repo.SetAuthorizedResourcesForUser(r.Context(), id, req.ResourceIDs)
	if err != nil {
		slog.Error("authorized resources update failed", "user_id", id.String(), "error", err)
		http.Error(w, "failed to update authorized resources", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, authorizedResourcesRequest{ResourceIDs: resources})
}
