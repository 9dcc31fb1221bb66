// Package api provides the HTTP handlers for the provisioning REST API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"portal-conductor/internal/domain"
	"portal-conductor/internal/mailer"
	"portal-conductor/internal/middleware"
	"portal-conductor/internal/records"
	"portal-conductor/internal/service/accounts"
)

// Handler carries the services the routes dispatch into. Lists, sender,
// and recs may be nil when the corresponding backend is not configured;
// their routes then answer 503.
type Handler struct {
	accounts *accounts.Service
	dir      domain.Directory
	store    domain.ObjectStore
	lists    domain.MailingLists
	sender   *mailer.Mailer
	recs     *records.Store
	logger   *slog.Logger
}

// NewHandler wires the API handler.
func NewHandler(
	accountsSvc *accounts.Service,
	dir domain.Directory,
	store domain.ObjectStore,
	lists domain.MailingLists,
	sender *mailer.Mailer,
	recs *records.Store,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		accounts: accountsSvc,
		dir:      dir,
		store:    store,
		lists:    lists,
		sender:   sender,
		recs:     recs,
		logger:   logger,
	}
}

// Routes registers every API route on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleRoot)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.handleCreateUser)
		r.Get("/deletions", h.handleListDeletions)
		r.Get("/deletions/{jobID}", h.handleDeletionStatus)
		r.Post("/{username}/password", h.handleChangePassword)
		r.Delete("/{username}", h.handleDeleteUser)
		r.Delete("/{username}/async", h.handleDeleteUserAsync)
		r.Get("/{username}/records", h.handleGetRecords)
	})

	r.Route("/directory", func(r chi.Router) {
		r.Get("/groups", h.handleListGroups)
		r.Get("/groups/{group}", h.handleGetGroup)
		r.Route("/users/{username}", func(r chi.Router) {
			r.Get("/", h.handleGetDirectoryUser)
			r.Get("/exists", h.handleDirectoryUserExists)
			r.Get("/groups", h.handleUserGroups)
			r.Post("/groups/{group}", h.handleAddToGroup)
			r.Delete("/groups/{group}", h.handleRemoveFromGroup)
		})
	})

	r.Route("/datastore", func(r chi.Router) {
		r.Get("/health", h.handleStoreHealth)
		r.Get("/permissions/available", h.handleAvailablePermissions)
		r.Post("/users/{username}/services", h.handleRegisterService)
	})

	r.Route("/mailinglists/{list}/members", func(r chi.Router) {
		r.Get("/", h.handleListMembers)
		r.Get("/{email}", h.handleMemberExists)
		r.Post("/{email}", h.handleAddMember)
		r.Delete("/{email}", h.handleRemoveMember)
	})

	r.Post("/emails/send", h.handleSendEmail)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "portal-conductor", "status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	if status >= 500 {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err)
	}
	writeJSON(w, status, apiError{Code: status, Message: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}
