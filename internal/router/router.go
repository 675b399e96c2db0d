package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vitrina-retail/api/internal/config"
	"github.com/vitrina-retail/api/internal/database"
	"github.com/vitrina-retail/api/internal/handler"
	mw "github.com/vitrina-retail/api/internal/middleware"
	"github.com/vitrina-retail/api/internal/service"
	"github.com/vitrina-retail/api/internal/ws"
)

// New creates a Chi router with all application routes wired up.
// Applies authentication and role-based middleware as needed.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:8081",           // Expo dev server
			"https://admin.vitrina-retail.ru", // Admin panel
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		newOrderStore := func(db database.DBTX) service.OrderStore {
			return database.New(db)
		}
		orderService := service.NewOrderService(pool, newOrderStore)
		orderHandler := handler.NewOrderHandler(orderService, queries, hub)

		r.Route("/orders", func(r chi.Router) {
			// Reads and cancellation: staff and clients alike. Clients are
			// scoped to their own orders inside the handlers.
			orderHandler.RegisterRoutes(r)

			// Take / complete-stage: processing staff only.
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireStaff)
				orderHandler.RegisterStaffRoutes(r)
			})

			// Direct status changes and reassignment: admins only.
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole("ADMIN"))
				orderHandler.RegisterAdminRoutes(r)
			})
		})

		// Staff directory (admin only)
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole("ADMIN"))
			userHandler := handler.NewUserHandler(queries)
			r.Route("/users", userHandler.RegisterRoutes)
		})
	})

	log.Println("Router initialized with all handlers")
	return r
}
