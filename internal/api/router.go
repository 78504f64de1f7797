package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"

	"github.com/teacurran/village-calendar-sub007/internal/api/handler"
	"github.com/teacurran/village-calendar-sub007/internal/api/middleware"
	"github.com/teacurran/village-calendar-sub007/internal/app/service"
	"github.com/teacurran/village-calendar-sub007/internal/common/security"
)

func NewRouter(
	tokens *security.TokenIssuer,
	authService *service.AuthService,
	orderService *service.OrderService,
	jobAdminService *service.JobAdminService,
	webhookService *service.WebhookService,
) http.Handler {
	r := chi.NewRouter()

	// Base Middlewares
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Verifies a bearer token when present and puts claims in context.
	// Authenticator below decides which routes require one.
	r.Use(jwtauth.Verifier(tokens.Auth()))

	// Public health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// API v1 Routes
	r.Route("/api/v1", func(v1 chi.Router) {
		// Provider webhooks: authenticated by HMAC signature, not JWT
		webhookHandler := handler.NewWebhookHandler(webhookService)
		v1.Route("/webhooks", webhookHandler.RegisterRoutes)

		// Auth routes (public)
		authHandler := handler.NewAuthHandler(authService)
		v1.Route("/auth", authHandler.RegisterRoutes)

		// Ops dashboard: read API for any staff token, mutations admin-only
		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.Authenticator)

			jobHandler := handler.NewJobHandler(jobAdminService)
			admin.Route("/jobs", jobHandler.RegisterRoutes)

			orderHandler := handler.NewOrderHandler(orderService)
			admin.Route("/orders", orderHandler.RegisterRoutes)

			admin.Group(func(adminOnly chi.Router) {
				adminOnly.Use(middleware.AdminOnly)
				adminOnly.Route("/users", authHandler.RegisterAdminRoutes)
			})
		})
	})

	return r
}
