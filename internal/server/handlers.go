package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/auth"
	"github.com/yourusername/bulletin/internal/coordinator"
	"github.com/yourusername/bulletin/internal/store"
)

// DegradedHeader is set on collection reads served from the local mirror.
const DegradedHeader = "X-Degraded"

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// saveBody reports one collection mutation.
type saveBody struct {
	Success      bool                 `json:"success"`
	Data         any                  `json:"data,omitempty"`
	Outcome      coordinator.Outcome  `json:"outcome"`
	PrimaryError string               `json:"primaryError,omitempty"`
	MirrorError  string               `json:"mirrorError,omitempty"`
	Collections  map[string]saveEntry `json:"collections,omitempty"`
}

type saveEntry struct {
	Outcome      coordinator.Outcome `json:"outcome"`
	PrimaryError string              `json:"primaryError,omitempty"`
	MirrorError  string              `json:"mirrorError,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Success: false, Error: msg})
}

// statusFor maps an outcome to a response status; only a write that reached
// no backend is a server error.
func statusFor(o coordinator.Outcome) int {
	if o == coordinator.OutcomeFailed {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func writeSave(w http.ResponseWriter, res store.SaveResult, data any) {
	writeJSON(w, statusFor(res.Outcome), saveBody{
		Success:      res.Outcome != coordinator.OutcomeFailed,
		Data:         data,
		Outcome:      res.Outcome,
		PrimaryError: errString(res.Primary),
		MirrorError:  errString(res.Mirror),
	})
}

func writeResults(w http.ResponseWriter, results store.Results) {
	body := saveBody{
		Outcome:     results.Outcome(),
		Collections: make(map[string]saveEntry, len(results)),
	}
	body.Success = body.Outcome != coordinator.OutcomeFailed
	for kind, res := range results {
		body.Collections[string(kind)] = saveEntry{
			Outcome:      res.Outcome,
			PrimaryError: errString(res.Primary),
			MirrorError:  errString(res.Mirror),
		}
	}
	writeJSON(w, statusFor(body.Outcome), body)
}

func kindParam(r *http.Request) (announcement.Kind, error) {
	return announcement.ParseKind(mux.Vars(r)["name"])
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"primary":   s.store.Primary(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.auth.Login(req.Password)
	if errors.Is(err, auth.ErrInvalidPassword) {
		s.logger.WarnContext(r.Context(), "Login rejected", "request_id", RequestID(r.Context()))
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Logout(sessionToken(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.store.Degraded(kind) {
		w.Header().Set(DegradedHeader, "true")
	}
	writeJSON(w, http.StatusOK, s.store.List(kind))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var draft announcement.Draft
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, res, err := s.store.Create(r.Context(), kind, draft)
	if err != nil {
		if announcement.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSave(w, res, record)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	res, err := s.store.Remove(r.Context(), kind, id, store.Confirmed())
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSave(w, res, nil)
}

func (s *Server) handleBackup(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.ExportAll()
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="backup-%s.json"`, snap.ExportDate.Format(announcement.DateLayout)))
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	snap, err := store.DecodeSnapshot(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.store.ImportAll(r.Context(), snap)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeResults(w, results)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	confirm := store.Confirmation{}
	if r.URL.Query().Get("confirm") == "true" {
		confirm = store.Confirmed()
	}
	results, err := s.store.Clear(r.Context(), confirm)
	if err != nil {
		writeError(w, http.StatusBadRequest, "clearing requires confirm=true")
		return
	}
	writeResults(w, results)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	writeResults(w, s.store.Sync(r.Context()))
}
