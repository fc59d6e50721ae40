package rest

import (
	"net/http"
	"strings"

	"tutorcall/internal/transport/rest/handler"
	"tutorcall/internal/transport/rest/middleware"
	"tutorcall/internal/transport/ws"

	"github.com/gorilla/mux"
	"github.com/swaggo/swag"
)

// Container holds all dependencies for the router
type Container struct {
	Auth           middleware.TokenValidator
	Calls          handler.CallAPI
	WSHub          *ws.Hub
	AllowedOrigins []string
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	callHandler := handler.NewCallHandler(c.Calls)
	wsHandler := ws.NewHandler(c.WSHub)
	authMW := middleware.NewAuthMiddleware(c.Auth)

	// CORS middleware (apply first)
	r.Use(corsMiddleware(c.AllowedOrigins))

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	r.HandleFunc("/swagger/doc.json", serveDoc).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()

	// Signaling socket: authenticated by the room access token in join-room
	v1.HandleFunc("/ws", wsHandler.ServeWS).Methods("GET")

	authed := v1.NewRoute().Subrouter()
	authed.Use(authMW.RequireAuth)

	authed.HandleFunc("/sessions/{id}/room", callHandler.EnsureRoom).Methods("POST", "OPTIONS")
	authed.HandleFunc("/sessions/{id}/cancel", callHandler.Cancel).Methods("POST", "OPTIONS")
	authed.HandleFunc("/rooms/{roomId}/join", callHandler.Join).Methods("POST", "OPTIONS")
	authed.HandleFunc("/rooms/{roomId}/leave", callHandler.Leave).Methods("POST", "OPTIONS")
	authed.HandleFunc("/rooms/{roomId}/validate", callHandler.Validate).Methods("POST", "OPTIONS")
	authed.HandleFunc("/rooms/{roomId}/status", callHandler.Status).Methods("GET", "OPTIONS")
	authed.HandleFunc("/rooms/{roomId}/start", callHandler.Start).Methods("POST", "OPTIONS")
	authed.HandleFunc("/rooms/{roomId}/end", callHandler.End).Methods("POST", "OPTIONS")

	return r
}

func serveDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		http.Error(w, `{"error":"api docs not registered"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(doc))
}

func corsMiddleware(allowed []string) mux.MiddlewareFunc {
	wildcard := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case wildcard:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && set[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{"Content-Type", "Authorization"}, ", "))

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
