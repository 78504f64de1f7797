package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/teacurran/village-calendar-sub007/internal/api/middleware"
	"github.com/teacurran/village-calendar-sub007/internal/app/service"
	"github.com/teacurran/village-calendar-sub007/internal/common"
	"github.com/teacurran/village-calendar-sub007/internal/domain/model"
	"github.com/teacurran/village-calendar-sub007/internal/domain/repository"
)

type OrderHandler struct {
	orderService *service.OrderService
}

func NewOrderHandler(os *service.OrderService) *OrderHandler {
	return &OrderHandler{orderService: os}
}

func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)

	r.Group(func(adminRouter chi.Router) {
		adminRouter.Use(middleware.AdminOnly)
		adminRouter.Post("/", h.createOrder)
		adminRouter.Post("/{orderID}/advance", h.advanceOrder)
		adminRouter.Post("/{orderID}/cancel", h.cancelOrder)
	})
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerEmail string  `json:"customer_email"`
		ProductTitle  string  `json:"product_title"`
		AssetRef      *string `json:"asset_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	order, err := h.orderService.Create(r.Context(), service.CreateOrderParams{
		CustomerEmail: req.CustomerEmail,
		ProductTitle:  req.ProductTitle,
		AssetRef:      req.AssetRef,
	})
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	filter := repository.OrderFilter{
		Status:        r.URL.Query().Get("status"),
		CustomerEmail: r.URL.Query().Get("email"),
		Limit:         limit,
		Offset:        offset,
	}

	orders, total, err := h.orderService.List(r.Context(), filter)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	type PaginatedOrdersResponse struct {
		Orders []model.Order `json:"orders"`
		Total  int           `json:"total"`
	}
	common.RespondWithJSON(w, http.StatusOK, PaginatedOrdersResponse{Orders: orders, Total: total})
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	order, err := h.orderService.Get(r.Context(), orderID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	refunds, err := h.orderService.Refunds(r.Context(), orderID)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}

	type OrderDetailResponse struct {
		Order   *model.Order        `json:"order"`
		Refunds []model.OrderRefund `json:"refunds"`
	}
	common.RespondWithJSON(w, http.StatusOK, OrderDetailResponse{Order: order, Refunds: refunds})
}

func (h *OrderHandler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	next, err := model.ParseOrderStatus(req.Status)
	if err != nil {
		common.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.orderService.Advance(r.Context(), orderID, next)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	order, err := h.orderService.Cancel(r.Context(), orderID, req.Reason)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, order)
}
