package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zoonk/zoonk-sub009/internal/data/repos/generation"
	types "github.com/zoonk/zoonk-sub009/internal/domain"
	"github.com/zoonk/zoonk-sub009/internal/http/response"
	"github.com/zoonk/zoonk-sub009/internal/services"
	"github.com/zoonk/zoonk-sub009/internal/stream"
)

type GenerationHandler struct {
	svc services.GenerationService
	hub *stream.Hub
}

func NewGenerationHandler(svc services.GenerationService, hub *stream.Hub) *GenerationHandler {
	return &GenerationHandler{svc: svc, hub: hub}
}

// POST /api/generations
func (h *GenerationHandler) Trigger(c *gin.Context) {
	var req services.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	run, err := h.svc.Trigger(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, generation.ErrDuplicateRun):
			response.RespondError(c, http.StatusConflict, "generation_in_progress", err)
		case errors.Is(err, services.ErrEntitlementRequired):
			response.RespondError(c, http.StatusPaymentRequired, "entitlement_required", err)
		case errors.Is(err, services.ErrSubjectNotFound):
			response.RespondError(c, http.StatusNotFound, "subject_not_found", err)
		case errors.Is(err, services.ErrInvalidTrigger):
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		default:
			response.RespondError(c, http.StatusInternalServerError, "trigger_failed", err)
		}
		return
	}

	response.RespondAccepted(c, gin.H{"runId": run.ID})
}

// GET /api/generations/:id
func (h *GenerationHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	run, err := h.svc.GetRun(c.Request.Context(), runID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "get_run_failed", err)
		return
	}
	if run == nil {
		response.RespondError(c, http.StatusNotFound, "run_not_found", errors.New("run not found"))
		return
	}
	response.RespondOK(c, gin.H{"run": run})
}

/*
GET /api/generations/:id/stream?startIndex=N

SSE status stream with replay. A reconnecting client passes the next index
it expects and receives the retained backlog before live events. When the
run finished long enough ago that its stream was evicted, the handler
synthesizes a single terminal event so the client can settle instead of
hanging on an empty stream.
*/
func (h *GenerationHandler) Stream(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	startIndex, _ := strconv.Atoi(c.DefaultQuery("startIndex", "0"))
	if startIndex < 0 {
		startIndex = 0
	}

	run, err := h.svc.GetRun(c.Request.Context(), runID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "get_run_failed", err)
		return
	}
	if run == nil {
		response.RespondError(c, http.StatusNotFound, "run_not_found", errors.New("run not found"))
		return
	}

	if run.Terminal() && !h.hub.Closed(runID) {
		status := stream.StatusCompleted
		reason := ""
		if run.Status == types.RunFailed {
			status = stream.StatusError
			// reason carries the stable taxonomy value, never the raw
			// error message.
			reason = run.ErrorKind
			if reason == "" {
				reason = "internal"
			}
		}
		h.hub.Publish(runID, stream.Event{Step: run.CurrentStep, Status: status, Reason: reason})
		h.hub.Close(runID)
	}

	h.hub.ServeSSE(c.Writer, c.Request, runID, startIndex)
}
