// Package dispatch turns transport events into lobby operations.
package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"anochat/internal/events"
	"anochat/internal/lobby"
	"anochat/internal/protocol"
)

var (
	ErrIdentityRequired   = errors.New("identity required")
	ErrIdentityAlreadySet = errors.New("identity already set")
)

// Peer is what the dispatcher remembers about one connection.
type Peer struct {
	conn lobby.Conn

	mu       sync.Mutex
	identity string
	cleaned  atomic.Bool
}

func NewPeer(conn lobby.Conn) *Peer {
	return &Peer{conn: conn}
}

// Identity is empty until the peer has sent set_identity.
func (p *Peer) Identity() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

func (p *Peer) reply(msg protocol.Outbound) {
	_ = p.conn.Send(msg)
}

// Event is one of Connected, Received or Closed.
type Event interface {
	event()
}

type Connected struct {
	Peer *Peer
}

type Received struct {
	Peer *Peer
	Data []byte
}

// Closed covers both an orderly close and a transport error.
type Closed struct {
	Peer *Peer
	Err  error
}

func (Connected) event() {}
func (Received) event()  {}
func (Closed) event()    {}

type Dispatcher struct {
	lobby     *lobby.Lobby
	publisher events.Publisher
	log       zerolog.Logger
	now       func() time.Time
}

func New(l *lobby.Lobby, publisher events.Publisher, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		lobby:     l,
		publisher: publisher,
		log:       log.With().Str("component", "dispatch").Logger(),
		now:       time.Now,
	}
}

func (d *Dispatcher) Dispatch(ev Event) {
	switch ev := ev.(type) {
	case Connected:
		d.log.Debug().Msg("connection opened")
	case Received:
		d.received(ev.Peer, ev.Data)
	case Closed:
		d.closed(ev.Peer, ev.Err)
	default:
		d.log.Error().Type("event", ev).Msg("unhandled event")
	}
}

func (d *Dispatcher) received(p *Peer, data []byte) {
	in, err := protocol.Decode(data)
	if err != nil {
		d.log.Warn().Err(err).Str("participant_id", p.Identity()).Msg("bad payload")
		p.reply(protocol.NewError("Malformed message."))
		return
	}

	if in.Type == protocol.TypeSetIdentity {
		if err := d.identify(p, in.Label); err != nil {
			d.log.Debug().Err(err).Str("participant_id", p.Identity()).Msg("set_identity rejected")
			if errors.Is(err, ErrIdentityAlreadySet) {
				p.reply(protocol.NewError("Identity already set."))
			}
		}
		return
	}

	id := p.Identity()
	if id == "" {
		d.log.Debug().Err(ErrIdentityRequired).Str("type", in.Type).Msg("intent before identity")
		p.reply(protocol.NewError("Identity required."))
		return
	}

	log := d.log.With().Str("participant_id", id).Str("type", in.Type).Logger()
	switch in.Type {
	case protocol.TypeFindPartner:
		d.matched(id, d.lobby.RequestPartner(id))
	case protocol.TypeSendMessage:
		if _, ok := d.lobby.SendMessage(id, in.Message); !ok {
			log.Debug().Msg("message ignored")
		}
	case protocol.TypeEndChat:
		if ended, ok := d.lobby.EndSession(id); ok {
			d.sessionEnded(id, ended)
		}
	case protocol.TypeNewChat:
		r := d.lobby.Requeue(id)
		if r.HadSession {
			d.sessionEnded(id, r.Ended)
		}
		d.matched(id, r.Match)
	case protocol.TypeReport:
		d.report(id, in.Reason)
	default:
		log.Warn().Msg("unknown message type")
	}
}

// identify registers the peer. It refuses peers that already closed so a
// late set_identity cannot leak a registry entry.
func (d *Dispatcher) identify(p *Peer, label string) error {
	p.mu.Lock()
	if p.identity != "" {
		p.mu.Unlock()
		return ErrIdentityAlreadySet
	}
	if p.cleaned.Load() {
		p.mu.Unlock()
		return errors.New("connection already closed")
	}
	id := d.lobby.Register(p.conn, label)
	p.identity = id
	p.mu.Unlock()

	participant, ok := d.lobby.Lookup(id)
	if !ok {
		return nil
	}
	p.reply(protocol.NewConnected(id, participant.Label))
	d.publish(events.Event{Kind: events.KindParticipantJoined, ParticipantID: id})
	return nil
}

// closed runs the teardown at most once per peer.
func (d *Dispatcher) closed(p *Peer, cause error) {
	if !p.cleaned.CompareAndSwap(false, true) {
		return
	}
	id := p.Identity()
	if id == "" {
		return
	}

	level := zerolog.InfoLevel
	if cause != nil {
		level = zerolog.WarnLevel
	}
	d.log.WithLevel(level).Err(cause).Str("participant_id", id).Msg("connection closed")

	if ended, ok := d.lobby.Leave(id); ok {
		d.sessionEnded(id, ended)
	}
	d.publish(events.Event{Kind: events.KindParticipantLeft, ParticipantID: id})
}

func (d *Dispatcher) matched(id string, m lobby.Match) {
	switch m.Outcome {
	case lobby.OutcomePaired:
		d.publish(events.Event{
			Kind:          events.KindSessionStarted,
			ParticipantID: id,
			PartnerID:     m.PartnerID,
			SessionID:     m.SessionID,
		})
	case lobby.OutcomeInSession:
		d.log.Debug().Str("participant_id", id).Str("session_id", m.SessionID).Msg("already chatting, request ignored")
	}
}

func (d *Dispatcher) sessionEnded(id string, ended lobby.Ended) {
	d.publish(events.Event{
		Kind:          events.KindSessionEnded,
		ParticipantID: id,
		PartnerID:     ended.PartnerID,
		SessionID:     ended.SessionID,
		Messages:      ended.Messages,
		Duration:      ended.Duration,
	})
}

func (d *Dispatcher) report(id, reason string) {
	participant, ok := d.lobby.Lookup(id)
	if !ok {
		return
	}
	d.publish(events.Event{
		Kind:          events.KindReport,
		ParticipantID: id,
		PartnerID:     participant.PartnerID,
		SessionID:     participant.SessionID,
		Reason:        reason,
	})
}

func (d *Dispatcher) publish(ev events.Event) {
	if d.publisher == nil {
		return
	}
	ev.At = d.now().UTC()
	if err := d.publisher.Publish(ev); err != nil {
		d.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("publish failed")
	}
}
