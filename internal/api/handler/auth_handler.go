package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teacurran/village-calendar-sub007/internal/app/service"
	"github.com/teacurran/village-calendar-sub007/internal/common"
)

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.login)
}

// RegisterAdminRoutes mounts account management under the admin subtree.
func (h *AuthHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/", h.createStaff)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	resp, err := h.authService.Login(r.Context(), req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) createStaff(w http.ResponseWriter, r *http.Request) {
	var req service.CreateStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	user, err := h.authService.CreateStaff(r.Context(), req)
	if err != nil {
		common.RespondWithError(w, common.HTTPStatusFromError(err), err.Error())
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, user)
}
