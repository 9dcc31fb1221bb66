package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"portal-conductor/internal/domain"
)

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var identity domain.Identity
	if err := decodeJSON(r, &identity); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validateIdentity(identity); err != nil {
		h.writeError(w, r, err)
		return
	}

	username, err := h.accounts.Create(r.Context(), identity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"username": username})
}

func validateIdentity(identity domain.Identity) error {
	switch {
	case identity.Username == "":
		return domain.ErrValidation("username is required")
	case identity.Password == "":
		return domain.ErrValidation("password is required")
	case identity.UIDNumber <= 0:
		return domain.ErrValidation("uid_number must be positive")
	default:
		return nil
	}
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Password == "" {
		h.writeError(w, r, domain.ErrValidation("password is required"))
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), username, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": username, "status": "password changed"})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.accounts.DeleteSync(r.Context(), username); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.recs != nil {
		if err := h.recs.DeleteUser(r.Context(), username); err != nil {
			// Backend accounts are gone; stale bookkeeping is not fatal.
			h.logger.Warn("records cleanup failed", "username", username, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": username, "status": "deleted"})
}

func (h *Handler) handleDeleteUserAsync(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	job, err := h.accounts.DeleteAsync(r.Context(), username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) handleDeletionStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.accounts.DeletionStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleListDeletions(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.accounts.ListDeletions(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deletions": jobs})
}

func (h *Handler) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	if h.recs == nil {
		h.writeError(w, r, domain.ErrServiceUnavailable("records store is not configured"))
		return
	}
	rec, err := h.recs.GetUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
