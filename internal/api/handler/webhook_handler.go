package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teacurran/village-calendar-sub007/internal/app/service"
	"github.com/teacurran/village-calendar-sub007/internal/common"
)

// maxWebhookBody bounds provider payloads; real events are a few KB.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	webhookService *service.WebhookService
}

func NewWebhookHandler(ws *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: ws}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/payment", h.handlePaymentEvent)
}

func (h *WebhookHandler) handlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	// The signature covers the raw bytes, so the body must be read before
	// any decoding touches it.
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Unreadable payload")
		return
	}
	defer r.Body.Close()

	result, err := h.webhookService.HandleEvent(r.Context(), payload, r.Header.Get("Signature"))
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, result)
}
