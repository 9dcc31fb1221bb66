package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"portal-conductor/internal/domain"
)

func (h *Handler) handleStoreHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleAvailablePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.AvailablePermissions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"permissions": perms})
}

type serviceRegistration struct {
	Service   string `json:"service"`
	Path      string `json:"path"`
	StoreUser string `json:"store_user"`
}

// handleRegisterService grants a named service access to a path under the
// user's home and records the registration.
func (h *Handler) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var req serviceRegistration
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Service == "" {
		h.writeError(w, r, domain.ErrValidation("service is required"))
		return
	}
	if req.Path == "" {
		home, err := h.store.HomePath(r.Context(), username)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		req.Path = home
	}

	if err := h.store.RegisterService(r.Context(), username, req.Path, req.StoreUser); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.recs != nil {
		if err := h.recs.AddServiceRegistration(r.Context(), username, req.Service, req.Path); err != nil {
			h.logger.Warn("service registration not recorded", "username", username, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"username": username, "service": req.Service, "path": req.Path,
	})
}
