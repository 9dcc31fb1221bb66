package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleGetDirectoryUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.dir.GetUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleDirectoryUserExists(w http.ResponseWriter, r *http.Request) {
	exists, err := h.dir.UserExists(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (h *Handler) handleUserGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.dir.UserGroups(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"groups": groups})
}

func (h *Handler) handleAddToGroup(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	group := chi.URLParam(r, "group")
	if err := h.dir.AddToGroup(r.Context(), username, group); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": username, "group": group, "status": "member"})
}

func (h *Handler) handleRemoveFromGroup(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	group := chi.URLParam(r, "group")
	if err := h.dir.RemoveFromGroup(r.Context(), username, group); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": username, "group": group, "status": "removed"})
}

func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.dir.GetGroup(r.Context(), chi.URLParam(r, "group"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.dir.ListGroups(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}
