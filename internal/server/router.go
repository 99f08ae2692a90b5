// Package server assembles the HTTP surface: the websocket endpoint, static
// assets and a couple of operational endpoints.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"anochat/internal/lobby"
)

type Deps struct {
	Lobby     *lobby.Lobby
	WebSocket http.Handler
	// Connections reports open websocket connections.
	Connections func() int
	// StaticDir is served at / when non-empty.
	StaticDir      string
	AllowedOrigins []string
	Log            zerolog.Logger
}

type statsResponse struct {
	lobby.Stats
	Connections int `json:"connections"`
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(d.Log))

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		resp := statsResponse{Stats: d.Lobby.Stats()}
		if d.Connections != nil {
			resp.Connections = d.Connections()
		}
		writeJSON(w, resp)
	})

	r.Get("/ws", d.WebSocket.ServeHTTP)

	var static http.Handler = http.NotFoundHandler()
	if d.StaticDir != "" {
		static = http.FileServer(http.Dir(d.StaticDir))
	}
	// Browsers open the socket on the page origin, so / doubles as the
	// websocket endpoint.
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			d.WebSocket.ServeHTTP(w, r)
			return
		}
		static.ServeHTTP(w, r)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func requestLog(log zerolog.Logger) func(http.Handler) http.Handler {
	log = log.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Debug().
				Str("req_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
