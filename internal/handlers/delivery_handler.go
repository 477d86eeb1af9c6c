package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docgate/internal/interfaces"
	"github.com/ternarybob/docgate/internal/models"
)

// DeliveryHandler exposes the delivery flow over local HTTP for UI clients.
// Open and retry are asynchronous: the response acknowledges the flow start,
// and transitions arrive on the WebSocket.
type DeliveryHandler struct {
	delivery interfaces.DeliveryService
	logger   arbor.ILogger
}

func NewDeliveryHandler(delivery interfaces.DeliveryService, logger arbor.ILogger) *DeliveryHandler {
	return &DeliveryHandler{
		delivery: delivery,
		logger:   logger,
	}
}

type openRequest struct {
	LessonID string          `json:"lessonId"`
	Document models.Document `json:"document"`
}

type lessonRequest struct {
	LessonID string `json:"lessonId"`
}

// OpenHandler starts (or joins) a delivery flow for a document.
func (h *DeliveryHandler) OpenHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LessonID == "" {
		WriteError(w, http.StatusBadRequest, "lessonId is required")
		return
	}

	// The flow outlives this request: net/http cancels r.Context() as soon
	// as the 202 is written, which would tear the poll down as if the view
	// closed. Detach the flow; CancelView is the teardown path.
	if err := h.delivery.Open(context.WithoutCancel(r.Context()), req.LessonID, req.Document); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteStarted(w, "delivery flow started")
}

// RetryHandler issues a processing retry and re-enters the delivery flow.
func (h *DeliveryHandler) RetryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LessonID == "" {
		WriteError(w, http.StatusBadRequest, "lessonId is required")
		return
	}

	// Detached for the same reason as OpenHandler: the re-entered flow must
	// survive the request.
	if err := h.delivery.RetryProcessing(context.WithoutCancel(r.Context()), req.LessonID, req.Document); err != nil {
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	WriteStarted(w, "processing retry accepted")
}

// CancelViewHandler tears down all live flows for a lesson view.
func (h *DeliveryHandler) CancelViewHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req lessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
		WriteError(w, http.StatusBadRequest, "lessonId is required")
		return
	}

	h.delivery.CancelView(req.LessonID)
	WriteSuccess(w, "view cancelled")
}

// InvalidateHandler drops cached grants for a lesson.
func (h *DeliveryHandler) InvalidateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req lessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LessonID == "" {
		WriteError(w, http.StatusBadRequest, "lessonId is required")
		return
	}

	if err := h.delivery.InvalidateLesson(r.Context(), req.LessonID); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteSuccess(w, "lesson cache invalidated")
}
