// client.go
// The read goroutine turns frames from the browser into dispatcher events.
// The write goroutine drains the client's send channel back to the browser and
// keeps the connection alive with pings.
package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"anochat/internal/dispatch"
	"anochat/internal/protocol"
)

func newClient(socket *websocket.Conn, opts Options) *Client {
	c := &Client{
		socket: socket,
		opts:   opts,
		send:   make(chan protocol.Outbound, opts.SendBuffer),
	}
	c.peer = dispatch.NewPeer(c)
	return c
}

// Send queues msg without blocking. A client whose buffer is full is closed.
func (c *Client) Send(msg protocol.Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.closeLocked()
		return false
	}
}

func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Client) close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) read(d *dispatch.Dispatcher, m *ClientManager) {
	var cause error
	defer func() {
		c.close()
		d.Dispatch(dispatch.Closed{Peer: c.peer, Err: cause})
		m.Unregister(c)
		_ = c.socket.Close()
	}()

	c.socket.SetReadLimit(c.opts.MaxMessageBytes)
	_ = c.socket.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				cause = err
			}
			return
		}
		d.Dispatch(dispatch.Received{Peer: c.peer, Data: data})
	}
}

func (c *Client) write(d *dispatch.Dispatcher) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.socket.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(msg); err != nil {
				c.fail(d, err)
				return
			}

		case <-ticker.C:
			if err := c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.fail(d, err)
				return
			}
		}
	}
}

// fail reports a write-side transport error. The read side reports its own
// close as well; the dispatcher keeps only the first.
func (c *Client) fail(d *dispatch.Dispatcher, err error) {
	c.close()
	d.Dispatch(dispatch.Closed{Peer: c.peer, Err: err})
}
