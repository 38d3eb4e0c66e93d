package orgs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/dispatch/internal/audit"
	"github.com/wisbric/dispatch/internal/auth"
	"github.com/wisbric/dispatch/internal/httpserver"
)

// Handler provides HTTP handlers for API-key self-management under the
// caller's own organization.
type Handler struct {
	logger  *slog.Logger
	audit   *audit.Writer
	service *Service
}

// NewHandler creates a Handler backed by the given pool.
func NewHandler(logger *slog.Logger, auditWriter *audit.Writer, pool *pgxpool.Pool) *Handler {
	return &Handler{logger: logger, audit: auditWriter, service: NewService(pool, logger)}
}

// Routes returns a chi.Router mounted at /api/keys.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Delete("/{id}", h.handleRevoke)
	return r
}

type createKeyRequest struct {
	Description string `json:"description" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "missing authentication")
		return
	}

	resp, err := h.service.CreateAPIKey(r.Context(), id.OrganizationID, CreateAPIKeyRequest{Description: req.Description})
	if err != nil {
		h.logger.Error("creating api key", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "fatal", "failed to create api key")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"description": resp.Description})
		h.audit.LogFromRequest(r, "create", "api_key", resp.ID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "missing authentication")
		return
	}

	items, err := h.service.List(r.Context(), id.OrganizationID)
	if err != nil {
		h.logger.Error("listing api keys", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "fatal", "failed to list api keys")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"keys": items, "count": len(items)})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	keyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "validation_error", "invalid api key id")
		return
	}

	if err := h.service.Revoke(r.Context(), keyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "api key not found")
			return
		}
		h.logger.Error("revoking api key", "error", err, "id", keyID)
		httpserver.RespondError(w, http.StatusInternalServerError, "fatal", "failed to revoke api key")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "revoke", "api_key", keyID, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}
