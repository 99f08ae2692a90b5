// manager.go

// Central bookkeeping loop. The manager only tracks which clients are alive;
// pairing and routing live in the lobby.
package ws

import (
	"context"

	"github.com/rs/zerolog"
)

func NewClientManager(log zerolog.Logger) *ClientManager {
	return &ClientManager{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws-manager").Logger(),
	}
}

// Run owns the client set until ctx is cancelled, then closes every client.
func (m *ClientManager) Run(ctx context.Context) error {
	defer close(m.done)

	for {
		select {
		case c := <-m.register:
			m.clients[c] = struct{}{}
			m.count.Store(int64(len(m.clients)))

		case c := <-m.unregister:
			if _, ok := m.clients[c]; ok {
				delete(m.clients, c)
				m.count.Store(int64(len(m.clients)))
			}

		case <-ctx.Done():
			m.log.Info().Int("clients", len(m.clients)).Msg("closing clients")
			for c := range m.clients {
				c.close()
				delete(m.clients, c)
			}
			m.count.Store(0)
			return nil
		}
	}
}

// Register reports false once the manager has stopped.
func (m *ClientManager) Register(c *Client) bool {
	select {
	case m.register <- c:
		return true
	case <-m.done:
		return false
	}
}

func (m *ClientManager) Unregister(c *Client) {
	select {
	case m.unregister <- c:
	case <-m.done:
	}
}

// Count is the number of open websocket connections.
func (m *ClientManager) Count() int {
	return int(m.count.Load())
}
