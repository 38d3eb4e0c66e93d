package execution

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/dispatch/internal/apierr"
	"github.com/wisbric/dispatch/internal/audit"
	"github.com/wisbric/dispatch/internal/auth"
	"github.com/wisbric/dispatch/internal/httpserver"
)

// Handler exposes the execution endpoints: POST /executions,
// GET /executions/{id}. No /execute route is registered.
type Handler struct {
	logger       *slog.Logger
	audit        *audit.Writer
	orchestrator *Orchestrator
	store        *Store
}

// NewHandler creates an execution Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, orchestrator *Orchestrator, store *Store) *Handler {
	return &Handler{logger: logger, audit: auditWriter, orchestrator: orchestrator, store: store}
}

// Routes mounts the execution endpoints.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	return r
}

type createResponse struct {
	ExecutionID uuid.UUID `json:"executionId"`
	Status      Status    `json:"status"`
}

// handleCreate implements `POST /api/executions` (Routes is mounted at
// /executions; there is no `POST /api/execute` route): creates the
// execution record and starts its workflow asynchronously, returning
// immediately with the PENDING record.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}

	e, err := h.orchestrator.Submit(r.Context(), identity.OrganizationID, req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	detail, _ := json.Marshal(createResponse{ExecutionID: e.ID, Status: e.Status})
	h.audit.LogFromRequest(r, "execution.requested", "execution", e.ID, detail)

	go h.orchestrator.Run(context.Background(), e, req.PreferredCluster)

	httpserver.Respond(w, http.StatusAccepted, createResponse{ExecutionID: e.ID, Status: e.Status})
}

// handleGet implements `GET /api/executions/{id}` (spec §6), scoped to the
// caller's organization so one tenant cannot observe another's execution.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "validation_error", "invalid execution id")
		return
	}

	e, err := h.store.Get(r.Context(), identity.OrganizationID, id)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "execution not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, e.ToStatusView())
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if apiErr, ok := apierr.As(err); ok {
		httpserver.RespondError(w, apiErr.HTTPStatus(), apiErr.Code(), apiErr.Message)
		return
	}
	h.logger.Error("execution request failed", "error", err)
	httpserver.RespondError(w, http.StatusInternalServerError, "fatal", "internal error")
}
