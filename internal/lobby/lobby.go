// Package lobby owns the shared matchmaking state: connected participants, the
// waiting queue and the live chat sessions. Every operation runs under one
// mutex; outbound notifications are handed to non-blocking connections while
// the lock is held so per-session delivery order matches acceptance order.
package lobby

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anochat/internal/protocol"
)

const DefaultLabel = "Stranger"

// MaxLabelLength caps a label, in characters.
const MaxLabelLength = 32

type Outcome int

const (
	OutcomeWaiting Outcome = iota
	OutcomePaired
	OutcomeInSession
	OutcomeGone
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWaiting:
		return "waiting"
	case OutcomePaired:
		return "paired"
	case OutcomeInSession:
		return "in_session"
	case OutcomeGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Match is the result of a partner request.
type Match struct {
	Outcome   Outcome
	SessionID string
	PartnerID string
	// Dropped is a dequeued candidate whose connection had already closed.
	Dropped string
}

// Ended describes a session torn down by EndSession, Requeue or Leave.
type Ended struct {
	SessionID string
	PartnerID string
	Messages  int
	Duration  time.Duration
}

type Requeued struct {
	Ended      Ended
	HadSession bool
	Match      Match
}

type Lobby struct {
	mu       sync.Mutex
	registry *registry
	queue    queue
	sessions map[string]*Session

	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

type Option func(*Lobby)

func WithClock(now func() time.Time) Option {
	return func(l *Lobby) { l.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Lobby) { l.newID = newID }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Lobby) { l.log = log.With().Str("component", "lobby").Logger() }
}

func New(opts ...Option) *Lobby {
	l := &Lobby{
		registry: newRegistry(),
		sessions: make(map[string]*Session),
		now:      time.Now,
		newID:    uuid.NewString,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register creates an idle participant for conn and returns its identity.
func (l *Lobby) Register(conn Conn, label string) string {
	label = strings.TrimSpace(label)
	if r := []rune(label); len(r) > MaxLabelLength {
		label = strings.TrimSpace(string(r[:MaxLabelLength]))
	}
	if label == "" {
		label = DefaultLabel
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.newID()
	for {
		if _, taken := l.registry.lookup(id); !taken {
			break
		}
		id = l.newID()
	}
	l.registry.register(id, conn, label, l.now())
	l.log.Info().
		Str("participant_id", id).
		Str("label", label).
		Int("participants", l.registry.len()).
		Msg("participant registered")
	return id
}

// Lookup returns a copy of the participant.
func (l *Lobby) Lookup(id string) (Participant, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.registry.lookup(id)
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Remove is the registry-level removal: it drops the registry entry and any
// queue membership and is a no-op for unknown ids. It does not touch the
// session; callers end it first. Disconnects go through Leave, which does
// both under one lock.
func (l *Lobby) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(id)
}

// Leave tears down everything a disconnecting participant holds.
func (l *Lobby) Leave(id string) (Ended, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ended, ok := l.endSessionLocked(id)
	l.removeLocked(id)
	return ended, ok
}

func (l *Lobby) removeLocked(id string) {
	if _, ok := l.registry.lookup(id); !ok {
		return
	}
	l.queue.remove(id)
	l.registry.remove(id)
	l.log.Info().
		Str("participant_id", id).
		Int("participants", l.registry.len()).
		Msg("participant removed")
}

// RequestPartner pairs id with the head of the waiting queue or enqueues it.
// A dead head is discarded without trying the next entry.
func (l *Lobby) RequestPartner(id string) Match {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requestPartnerLocked(id)
}

func (l *Lobby) requestPartnerLocked(id string) Match {
	p, ok := l.registry.lookup(id)
	if !ok {
		return Match{Outcome: OutcomeGone}
	}
	if p.SessionID != "" {
		return Match{Outcome: OutcomeInSession, SessionID: p.SessionID, PartnerID: p.PartnerID}
	}

	l.queue.remove(id)
	p.Waiting = false
	if !p.open() {
		return Match{Outcome: OutcomeGone}
	}

	var match Match
	if candidateID, ok := l.queue.dequeueFirst(); ok {
		candidate, found := l.registry.lookup(candidateID)
		if found && candidate.open() && candidate.SessionID == "" {
			return l.pairLocked(p, candidate)
		}
		if found {
			candidate.Waiting = false
		}
		match.Dropped = candidateID
		l.log.Debug().
			Str("participant_id", id).
			Str("candidate_id", candidateID).
			Msg("dropped dead candidate")
	}

	l.queue.enqueue(id)
	p.Waiting = true
	p.send(protocol.NewWaiting())
	match.Outcome = OutcomeWaiting
	return match
}

func (l *Lobby) pairLocked(p, candidate *Participant) Match {
	s := &Session{
		ID:           l.newID(),
		Participants: [2]string{candidate.ID, p.ID},
		CreatedAt:    l.now(),
	}
	l.sessions[s.ID] = s

	p.SessionID, p.PartnerID, p.Waiting = s.ID, candidate.ID, false
	candidate.SessionID, candidate.PartnerID, candidate.Waiting = s.ID, p.ID, false

	p.send(protocol.NewChatStarted(s.ID, candidate.ID))
	candidate.send(protocol.NewChatStarted(s.ID, p.ID))

	l.log.Info().
		Str("session_id", s.ID).
		Str("participant_id", p.ID).
		Str("partner_id", candidate.ID).
		Int("sessions", len(l.sessions)).
		Msg("session started")
	return Match{Outcome: OutcomePaired, SessionID: s.ID, PartnerID: candidate.ID}
}

// SendMessage appends text to the sender's session and delivers it to both
// sides. Blank text, or a sender without a live session, is ignored.
func (l *Lobby) SendMessage(id, text string) (MessageRecord, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return MessageRecord{}, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sender, ok := l.registry.lookup(id)
	if !ok || sender.SessionID == "" || sender.PartnerID == "" {
		return MessageRecord{}, false
	}
	session, ok := l.sessions[sender.SessionID]
	if !ok {
		return MessageRecord{}, false
	}
	partner, ok := l.registry.lookup(sender.PartnerID)
	if !ok {
		return MessageRecord{}, false
	}

	rec := MessageRecord{
		ID:        l.newID(),
		SenderID:  sender.ID,
		Text:      text,
		Timestamp: l.now(),
	}
	session.Messages = append(session.Messages, rec)

	for _, to := range []*Participant{sender, partner} {
		to.send(protocol.Message{
			Type:         protocol.TypeMessage,
			SessionID:    session.ID,
			MessageID:    rec.ID,
			SenderID:     sender.ID,
			SenderLabel:  sender.Label,
			PartnerID:    partner.ID,
			PartnerLabel: partner.Label,
			Message:      rec.Text,
			Timestamp:    rec.Timestamp,
			IsOwn:        to == sender,
		})
	}
	return rec, true
}

// EndSession ends id's session, if any, and notifies the partner. Calling it
// again is a no-op.
func (l *Lobby) EndSession(id string) (Ended, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.endSessionLocked(id)
}

func (l *Lobby) endSessionLocked(id string) (Ended, bool) {
	p, ok := l.registry.lookup(id)
	if !ok {
		return Ended{}, false
	}
	l.queue.remove(id)
	if p.SessionID == "" {
		p.reset()
		return Ended{}, false
	}

	ended := Ended{SessionID: p.SessionID, PartnerID: p.PartnerID}
	if s, ok := l.sessions[ended.SessionID]; ok {
		ended.Messages = len(s.Messages)
		ended.Duration = l.now().Sub(s.CreatedAt)
		delete(l.sessions, ended.SessionID)
	}

	if partner, ok := l.registry.lookup(ended.PartnerID); ok && partner.SessionID == ended.SessionID {
		if partner.open() {
			partner.send(protocol.NewChatEnded())
		}
		partner.reset()
	}
	p.reset()

	l.log.Info().
		Str("session_id", ended.SessionID).
		Str("participant_id", id).
		Str("partner_id", ended.PartnerID).
		Int("messages", ended.Messages).
		Dur("duration", ended.Duration).
		Msg("session ended")
	return ended, true
}

// Requeue ends the current session and immediately looks for a new partner.
func (l *Lobby) Requeue(id string) Requeued {
	l.mu.Lock()
	defer l.mu.Unlock()

	var r Requeued
	r.Ended, r.HadSession = l.endSessionLocked(id)
	r.Match = l.requestPartnerLocked(id)
	return r
}
