package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nstogner/studio/pkg/controller"
	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/generate"
	"github.com/nstogner/studio/pkg/store"
)

// --- Gallery ---

func (s *Server) handleGetGallery(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.ctrl.Gallery())
}

func (s *Server) handleFolderTree(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.ctrl.FolderTree())
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.ctrl.Item(chi.URLParam(r, "id"))
	if err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parentId"`
		Name     string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	folder, err := s.ctrl.CreateFolder(r.Context(), parentOrRoot(req.ParentID), req.Name)
	if err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusCreated, folder)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, header, err := r.FormFile("file")
	if err != nil {
		errorResponse(w, http.StatusBadRequest, fmt.Errorf("reading upload: %w", err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, fmt.Errorf("reading upload: %w", err))
		return
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}

	item, err := s.ctrl.Upload(r.Context(), parentOrRoot(r.FormValue("parentId")), header.Filename, domain.Blob{MIMEType: mime, Data: data})
	if err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusCreated, item)
}

func (s *Server) handleRenameItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.ctrl.Rename(r.Context(), id, req.Name); err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	s.handleGetItem(w, r)
}

func (s *Server) handleDeleteItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.Delete(r.Context(), req.IDs); err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs           []string `json:"ids"`
		DestinationID string   `json:"destinationId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.Move(r.Context(), req.IDs, parentOrRoot(req.DestinationID)); err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parentOrRoot(id string) string {
	if id == "" {
		return domain.RootID
	}
	return id
}

// --- Models & settings ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.ctrl.Models())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.ctrl.Settings())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := decodeJSON(r, &settings); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	updated, err := s.ctrl.UpdateSettings(r.Context(), settings)
	if err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.ctrl.Connectors())
}

func (s *Server) handleSetConnector(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Connected bool `json:"connected"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.SetConnector(r.Context(), chi.URLParam(r, "id"), req.Connected); err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusOK, s.ctrl.Connectors())
}

// --- Conversations ---

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.ctrl.History(chi.URLParam(r, "id"))
	if err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusOK, history)
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ClearConversation(r.Context(), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// --- Generation ---

func (s *Server) handleGenerateImages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID    string       `json:"parentId"`
		Prompt      string       `json:"prompt"`
		Count       int          `json:"count"`
		AspectRatio string       `json:"aspectRatio"`
		Source      *domain.Blob `json:"source"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	items, err := s.ctrl.GenerateImages(r.Context(), parentOrRoot(req.ParentID), generate.ImageRequest{
		Prompt:      req.Prompt,
		Count:       req.Count,
		AspectRatio: req.AspectRatio,
		Source:      req.Source,
	})
	if err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusCreated, items)
}

func (s *Server) handleGenerateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parentId"`
		Prompt   string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	item, err := s.ctrl.GenerateProject(r.Context(), parentOrRoot(req.ParentID), req.Prompt)
	if err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusCreated, item)
}

// --- Admin ---

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.ctrl.Users())
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string          `json:"username"`
		Role     domain.UserRole `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Role == "" {
		req.Role = domain.UserRoleMember
	}
	u, err := s.ctrl.CreateUser(r.Context(), req.Username, req.Role)
	if err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusCreated, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.ctrl.APIKeys())
}

func (s *Server) handleAddAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider domain.Provider `json:"provider"`
		Label    string          `json:"label"`
		Key      string          `json:"key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	k, err := s.ctrl.AddAPIKey(r.Context(), req.Provider, req.Label, req.Key)
	if err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusCreated, k)
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeleteAPIKey(r.Context(), chi.URLParam(r, "id")); err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddModel(w http.ResponseWriter, r *http.Request) {
	var m domain.ModelDescriptor
	if err := decodeJSON(r, &m); err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	added, err := s.ctrl.AddCustomModel(r.Context(), m)
	if err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusCreated, added)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeleteCustomModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	jsonResponse(w, http.StatusOK, s.ctrl.Logs(limit))
}

func (s *Server) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := store.Encode(s.ctrl.Snapshot())
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	name := fmt.Sprintf("studio-backup-%s.json", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(data)
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	snap, err := store.DecodeJSON(data, time.Now().UTC())
	if err != nil {
		errorResponse(w, http.StatusBadRequest, fmt.Errorf("%w: %w", controller.ErrInvalid, err))
		return
	}
	if err := s.ctrl.Restore(r.Context(), snap); err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
