package handlers

import (
	"net/http"

	"click-backend/internal/middleware"
	"click-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Dependencies aggregates the services behind the HTTP API
type Dependencies struct {
	Users       *services.UserService
	Pairing     *services.PairingService
	Connections *services.ConnectionService
	Chat        *services.ChatService
	Media       *services.MediaService
	Hub         *services.WSHub
	PollLimiter *middleware.RateLimiter
	CORSOrigins []string
}

// NewRouter wires every route. Media may be nil when no bucket is
// configured; the attachment route is then not registered.
func NewRouter(deps Dependencies) http.Handler {
	userHandler := NewUserHandler(deps.Users)
	pairingHandler := NewPairingHandler(deps.Pairing)
	connectionHandler := NewConnectionHandler(deps.Connections)
	chatHandler := NewChatHandler(deps.Chat)
	wsHandler := NewWebSocketHandler(deps.Hub, deps.Users, deps.Chat, originChecker(deps.CORSOrigins))

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(deps.Users))

			r.Get("/users", userHandler.LookupUser)
			r.Get("/users/me", userHandler.GetMe)
			r.Put("/users/me/push-token", userHandler.UpdatePushToken)

			r.With(middleware.RateLimit(deps.PollLimiter)).Post("/poll", pairingHandler.Poll)

			r.Post("/connections", connectionHandler.CreateConnection)
			r.Get("/connections", connectionHandler.ListConnections)
			r.Route("/connections/{connection_id}", func(r chi.Router) {
				r.Get("/", connectionHandler.GetConnection)
				r.Put("/continue", connectionHandler.SetContinue)
				r.Get("/messages", chatHandler.ListMessages)
				r.Post("/messages", chatHandler.SendMessage)
				r.Post("/read", chatHandler.MarkRead)
				r.Get("/typing", chatHandler.GetTyping)
				r.Post("/typing", chatHandler.SetTyping)
				if deps.Media != nil {
					r.Post("/attachments", NewMediaHandler(deps.Media).UploadAttachment)
				}
			})

			r.Route("/messages/{message_id}", func(r chi.Router) {
				r.Put("/", chatHandler.EditMessage)
				r.Delete("/", chatHandler.DeleteMessage)
				r.Put("/status", chatHandler.SetStatus)
				r.Post("/reactions", chatHandler.AddReaction)
				r.Delete("/reactions/{type}", chatHandler.RemoveReaction)
			})
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	return r
}

func originChecker(origins []string) func(r *http.Request) bool {
	for _, o := range origins {
		if o == "*" {
			return nil
		}
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
