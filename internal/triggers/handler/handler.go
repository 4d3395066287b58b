// Package handler exposes the trigger lifecycle over the admin REST surface.
package handler

import (
	"errors"
	"net/http"
	"strings"

	"trigger-server/internal/apierrors"
	"trigger-server/internal/catalog"
	"trigger-server/internal/connectors"
	"trigger-server/internal/observability"
	"trigger-server/internal/store"
	"trigger-server/internal/triggers/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	service *service.Service
	logger  *observability.Logger
}

func New(svc *service.Service, logger *observability.Logger) Handler {
	return Handler{service: svc, logger: logger}
}

type CreateTriggerRequest struct {
	ProjectID       uuid.UUID              `json:"project_id" binding:"required"`
	AppName         string                 `json:"app_name" binding:"required"`
	LinkedAccountID uuid.UUID              `json:"linked_account_id" binding:"required"`
	TriggerName     string                 `json:"trigger_name" binding:"required"`
	TriggerType     string                 `json:"trigger_type" binding:"required"`
	Description     string                 `json:"description"`
	Config          map[string]interface{} `json:"config"`
}

type UpdateTriggerRequest struct {
	Description *string                `json:"description"`
	Config      map[string]interface{} `json:"config"`
}

type BulkStatusRequest struct {
	TriggerIDs []uuid.UUID `json:"trigger_ids" binding:"required"`
	Status     string      `json:"status" binding:"required"`
}

type BulkDeleteRequest struct {
	TriggerIDs []uuid.UUID `json:"trigger_ids" binding:"required"`
}

// HandleCreateTrigger registers a new trigger. A transient provider failure
// still returns the created row (status error) so the caller can watch the
// retry job recover it.
func (h *Handler) HandleCreateTrigger(c *gin.Context) {
	ctx := c.Request.Context()
	var req CreateTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.service.Create(ctx, service.CreateTriggerRequest{
		ProjectID:       req.ProjectID,
		AppName:         strings.ToUpper(req.AppName),
		LinkedAccountID: req.LinkedAccountID,
		TriggerName:     req.TriggerName,
		TriggerType:     req.TriggerType,
		Description:     req.Description,
		Config:          req.Config,
	})
	if err != nil {
		if connectors.IsTransient(err) && result.Trigger.ID != uuid.Nil {
			c.JSON(http.StatusCreated, gin.H{
				"trigger": result.Trigger,
				"warning": "provider registration failed, will be retried",
			})
			return
		}
		h.respondServiceError(c, err)
		return
	}

	response := gin.H{"trigger": result.Trigger}
	if result.SetupInstructions != "" {
		response["setup_instructions"] = result.SetupInstructions
	}
	c.JSON(http.StatusCreated, response)
}

func (h *Handler) HandleGetTrigger(c *gin.Context) {
	triggerID, ok := h.triggerID(c)
	if !ok {
		return
	}
	trigger, err := h.service.Get(c.Request.Context(), triggerID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trigger": trigger})
}

func (h *Handler) HandleListTriggers(c *gin.Context) {
	params := store.ListTriggersParams{Limit: 50}

	if raw := c.Query("project_id"); raw != "" {
		projectID, err := uuid.Parse(raw)
		if err != nil {
			apierrors.BadRequest(c, "INVALID_REQUEST", "project_id must be a UUID")
			return
		}
		params.ProjectID = &projectID
	}
	if app := c.Query("app_name"); app != "" {
		upper := strings.ToUpper(app)
		params.AppName = &upper
	}
	if status := c.Query("status"); status != "" {
		if !store.ValidTriggerStatus(status) {
			apierrors.BadRequest(c, "INVALID_REQUEST", "unknown status "+status)
			return
		}
		params.Status = &status
	}

	triggers, err := h.service.List(c.Request.Context(), params)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggers": triggers, "count": len(triggers)})
}

func (h *Handler) HandleUpdateTrigger(c *gin.Context) {
	triggerID, ok := h.triggerID(c)
	if !ok {
		return
	}
	var req UpdateTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}

	trigger, err := h.service.Update(c.Request.Context(), triggerID, service.UpdateTriggerRequest{
		Description: req.Description,
		Config:      req.Config,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trigger": trigger})
}

func (h *Handler) HandleDeleteTrigger(c *gin.Context) {
	triggerID, ok := h.triggerID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), triggerID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) HandlePauseTrigger(c *gin.Context) {
	triggerID, ok := h.triggerID(c)
	if !ok {
		return
	}
	trigger, err := h.service.Pause(c.Request.Context(), triggerID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trigger": trigger})
}

func (h *Handler) HandleResumeTrigger(c *gin.Context) {
	triggerID, ok := h.triggerID(c)
	if !ok {
		return
	}
	trigger, err := h.service.Resume(c.Request.Context(), triggerID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trigger": trigger})
}

func (h *Handler) HandleRetryRegistration(c *gin.Context) {
	triggerID, ok := h.triggerID(c)
	if !ok {
		return
	}
	if err := h.service.RetryRegistration(c.Request.Context(), triggerID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	trigger, err := h.service.Get(c.Request.Context(), triggerID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trigger": trigger})
}

func (h *Handler) HandleGetHealth(c *gin.Context) {
	triggerID, ok := h.triggerID(c)
	if !ok {
		return
	}
	health, err := h.service.GetHealth(c.Request.Context(), triggerID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, health)
}

func (h *Handler) HandleGetStats(c *gin.Context) {
	triggerID, ok := h.triggerID(c)
	if !ok {
		return
	}
	stats, err := h.service.GetStats(c.Request.Context(), triggerID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleBulkStatus pauses or resumes a batch, reporting per-item outcomes.
func (h *Handler) HandleBulkStatus(c *gin.Context) {
	var req BulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	result := h.service.BulkUpdateStatus(c.Request.Context(), req.TriggerIDs, req.Status)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) HandleBulkDelete(c *gin.Context) {
	var req BulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "INVALID_REQUEST", err.Error())
		return
	}
	result := h.service.BulkDelete(c.Request.Context(), req.TriggerIDs)
	c.JSON(http.StatusOK, result)
}

// HandleCatalog lists the static trigger catalog, optionally filtered by app.
func (h *Handler) HandleCatalog(c *gin.Context) {
	if app := c.Query("app_name"); app != "" {
		types := catalog.TypesForApp(strings.ToUpper(app))
		if types == nil {
			apierrors.NotFound(c, "unknown app")
			return
		}
		c.JSON(http.StatusOK, gin.H{"trigger_types": types})
		return
	}

	byApp := make(map[string][]catalog.TriggerType)
	for _, app := range catalog.Apps() {
		byApp[app] = catalog.TypesForApp(app)
	}
	c.JSON(http.StatusOK, gin.H{"apps": byApp})
}

func (h *Handler) triggerID(c *gin.Context) (uuid.UUID, bool) {
	triggerID, err := uuid.Parse(c.Param("trigger_id"))
	if err != nil {
		apierrors.NotFound(c, "unknown trigger")
		return uuid.Nil, false
	}
	return triggerID, true
}

// respondServiceError maps service and store errors onto HTTP responses.
func (h *Handler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		apierrors.NotFound(c, "trigger not found")
	case errors.Is(err, store.ErrConflict):
		apierrors.Conflict(c, "ALREADY_EXISTS", "a trigger with this name already exists")
	case errors.Is(err, service.ErrUnknownApp):
		apierrors.BadRequest(c, "UNKNOWN_APP", err.Error())
	case errors.Is(err, service.ErrAccountMismatch):
		apierrors.BadRequest(c, "ACCOUNT_MISMATCH", err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.Conflict(c, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, catalog.ErrInvalidConfig):
		apierrors.BadRequest(c, "INVALID_CONFIG", err.Error())
	default:
		var permanent *connectors.PermanentError
		if errors.As(err, &permanent) {
			apierrors.BadRequest(c, "PROVIDER_REJECTED", err.Error())
			return
		}
		apierrors.InternalError(c, err)
	}
}
