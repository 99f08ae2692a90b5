package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"anochat/internal/dispatch"
)

// Handler upgrades HTTP requests and spins up the per-connection goroutines.
type Handler struct {
	upgrader   websocket.Upgrader
	dispatcher *dispatch.Dispatcher
	manager    *ClientManager
	opts       Options
	log        zerolog.Logger
}

// NewHandler accepts any origin when allowedOrigins is empty.
func NewHandler(d *dispatch.Dispatcher, m *ClientManager, opts Options, allowedOrigins []string, log zerolog.Logger) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowedOrigins) == 0 || origin == "" || lo.Contains(allowedOrigins, origin)
			},
		},
		dispatcher: d,
		manager:    m,
		opts:       opts,
		log:        log.With().Str("component", "ws").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	c := newClient(socket, h.opts)
	if !h.manager.Register(c) {
		_ = socket.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = socket.Close()
		return
	}
	h.dispatcher.Dispatch(dispatch.Connected{Peer: c.peer})

	go c.read(h.dispatcher, h.manager)
	go c.write(h.dispatcher)
}
