package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"portal-conductor/internal/domain"
)

// listParams pulls the list name and (decoded) member address out of the
// route. Addresses contain characters chi keeps percent-encoded.
func listParams(r *http.Request) (list, email string) {
	list = chi.URLParam(r, "list")
	email = chi.URLParam(r, "email")
	if decoded, err := url.PathUnescape(email); err == nil {
		email = decoded
	}
	return list, email
}

func (h *Handler) requireLists(w http.ResponseWriter, r *http.Request) bool {
	if h.lists == nil {
		h.writeError(w, r, domain.ErrServiceUnavailable("mailing-list backend is not configured"))
		return false
	}
	return true
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	if !h.requireLists(w, r) {
		return
	}
	members, err := h.lists.ListMembers(r.Context(), chi.URLParam(r, "list"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if members == nil {
		members = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"members": members})
}

func (h *Handler) handleMemberExists(w http.ResponseWriter, r *http.Request) {
	if !h.requireLists(w, r) {
		return
	}
	list, email := listParams(r)
	exists, err := h.lists.MemberExists(r.Context(), list, email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	if !h.requireLists(w, r) {
		return
	}
	list, email := listParams(r)
	if err := h.lists.AddMember(r.Context(), list, email); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"list": list, "email": email, "status": "subscribed"})
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if !h.requireLists(w, r) {
		return
	}
	list, email := listParams(r)
	if err := h.lists.RemoveMember(r.Context(), list, email); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"list": list, "email": email, "status": "unsubscribed"})
}
