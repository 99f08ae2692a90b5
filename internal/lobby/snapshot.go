package lobby

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Stats is a cheap count of the lobby contents.
type Stats struct {
	Participants int `json:"participants"`
	Waiting      int `json:"waiting"`
	Sessions     int `json:"sessions"`
}

func (l *Lobby) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Participants: l.registry.len(),
		Waiting:      l.queue.len(),
		Sessions:     len(l.sessions),
	}
}

// Snapshot is a consistent copy of the lobby state.
type Snapshot struct {
	Participants map[string]Participant
	Queue        []string
	Sessions     map[string]Session
}

func (l *Lobby) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{
		Participants: make(map[string]Participant, l.registry.len()),
		Queue:        l.queue.snapshot(),
		Sessions:     make(map[string]Session, len(l.sessions)),
	}
	for id, p := range l.registry.participants {
		s.Participants[id] = *p
	}
	for id, session := range l.sessions {
		s.Sessions[id] = session.clone()
	}
	return s
}

// Validate reports the first broken cross-reference between participants,
// the waiting queue and sessions.
func (s Snapshot) Validate() error {
	if dup := lo.FindDuplicates(s.Queue); len(dup) > 0 {
		return errors.Errorf("queue holds %s more than once", dup[0])
	}
	for _, id := range s.Queue {
		p, ok := s.Participants[id]
		if !ok {
			return errors.Errorf("queue holds unknown participant %s", id)
		}
		if !p.Waiting || p.SessionID != "" {
			return errors.Errorf("queued participant %s is %s", id, p.State())
		}
	}

	for id, p := range s.Participants {
		if (p.SessionID == "") != (p.PartnerID == "") {
			return errors.Errorf("participant %s has session %q but partner %q", id, p.SessionID, p.PartnerID)
		}
		if p.Waiting != lo.Contains(s.Queue, id) {
			return errors.Errorf("participant %s waiting=%t disagrees with queue", id, p.Waiting)
		}
		if p.SessionID == "" {
			continue
		}
		session, ok := s.Sessions[p.SessionID]
		if !ok {
			return errors.Errorf("participant %s references dead session %s", id, p.SessionID)
		}
		if peer, ok := session.peerOf(id); !ok || peer != p.PartnerID {
			return errors.Errorf("participant %s partner %s does not match session %s", id, p.PartnerID, session.ID)
		}
	}

	for id, session := range s.Sessions {
		a, b := session.Participants[0], session.Participants[1]
		if a == b {
			return errors.Errorf("session %s pairs %s with itself", id, a)
		}
		for _, pid := range session.Participants {
			p, ok := s.Participants[pid]
			if !ok || p.SessionID != id {
				return errors.Errorf("session %s is not referenced by participant %s", id, pid)
			}
		}
	}
	return nil
}
