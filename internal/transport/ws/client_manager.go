// client_manager.go
package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"anochat/internal/dispatch"
	"anochat/internal/protocol"
)

// ClientManager tracks connected clients so shutdown can close them all.
type ClientManager struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
	log        zerolog.Logger
}

// Options tune every client's socket.
type Options struct {
	SendBuffer      int
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// Client represents a single WebSocket connection. Outbound payloads are
// queued on send and written by the client's write goroutine.
type Client struct {
	socket *websocket.Conn
	peer   *dispatch.Peer
	opts   Options

	mu     sync.Mutex
	closed bool
	send   chan protocol.Outbound
}
