package lobby

import (
	"time"

	"anochat/internal/protocol"
)

// Conn is the outbound half of a client connection. Send must not block: the
// lobby calls it while holding its lock.
type Conn interface {
	Send(msg protocol.Outbound) bool
	IsOpen() bool
}

type State int

const (
	Idle State = iota
	Waiting
	InSession
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case InSession:
		return "in_session"
	default:
		return "unknown"
	}
}

// Participant is one identified connection. SessionID and PartnerID are set
// and cleared together.
type Participant struct {
	ID          string
	Label       string
	SessionID   string
	PartnerID   string
	Waiting     bool
	ConnectedAt time.Time

	conn Conn
}

func (p *Participant) State() State {
	switch {
	case p.SessionID != "":
		return InSession
	case p.Waiting:
		return Waiting
	default:
		return Idle
	}
}

func (p *Participant) open() bool {
	return p.conn != nil && p.conn.IsOpen()
}

// send delivers best-effort; the result is deliberately dropped.
func (p *Participant) send(msg protocol.Outbound) {
	if p.conn == nil {
		return
	}
	_ = p.conn.Send(msg)
}

func (p *Participant) reset() {
	p.SessionID = ""
	p.PartnerID = ""
	p.Waiting = false
}
