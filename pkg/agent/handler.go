package agent

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/dispatch/internal/audit"
	"github.com/wisbric/dispatch/internal/auth"
	"github.com/wisbric/dispatch/internal/httpserver"
)

// Handler exposes the §6 agent endpoints: POST /agents/register, GET /agents.
type Handler struct {
	logger       *slog.Logger
	audit        *audit.Writer
	orchestrator *Orchestrator
	store        *Store
}

// NewHandler creates an agent Handler.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, orchestrator *Orchestrator, store *Store) *Handler {
	return &Handler{logger: logger, audit: auditWriter, orchestrator: orchestrator, store: store}
}

// Routes mounts the agent endpoints.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/register", h.handleRegister)
	r.Get("/", h.handleList)
	return r
}

type registerRequestBody struct {
	Agents []RegisterRequest `json:"agents"`
}

type registerResponse struct {
	Accepted  bool      `json:"accepted"`
	RequestID uuid.UUID `json:"requestId"`
}

// handleRegister implements `POST /api/agents/register` (spec §6): accepts
// a batch of agent configs and responds 202 immediately; propagation to
// clusters happens synchronously against the queue but status convergence
// is asynchronous (driven by C9/C8's inbound registration-status events).
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerRequestBody
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}

	results, err := h.orchestrator.RegisterBatch(r.Context(), identity.OrganizationID, body.Agents)
	if err != nil {
		h.logger.Error("registering agents", "error", err)
		httpserver.RespondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	requestID := uuid.New()
	detail, _ := json.Marshal(results)
	h.audit.LogFromRequest(r, "agent.registration.requested", "agent", requestID, detail)

	httpserver.Respond(w, http.StatusAccepted, registerResponse{Accepted: true, RequestID: requestID})
}

type listResponse struct {
	Agents []Agent `json:"agents"`
}

// handleList implements `GET /api/agents?name=…` (spec §6).
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
		return
	}

	name := r.URL.Query().Get("name")
	agents, err := h.store.ListAgents(r.Context(), identity.OrganizationID, name)
	if err != nil {
		h.logger.Error("listing agents", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "fatal", "failed to list agents")
		return
	}

	httpserver.Respond(w, http.StatusOK, listResponse{Agents: agents})
}
