package lobby

import "time"

// MessageRecord is one accepted chat line.
type MessageRecord struct {
	ID        string
	SenderID  string
	Text      string
	Timestamp time.Time
}

// Session joins two distinct participants. Messages are append-only.
type Session struct {
	ID           string
	Participants [2]string
	Messages     []MessageRecord
	CreatedAt    time.Time
}

func (s *Session) peerOf(id string) (string, bool) {
	switch id {
	case s.Participants[0]:
		return s.Participants[1], true
	case s.Participants[1]:
		return s.Participants[0], true
	default:
		return "", false
	}
}

func (s *Session) clone() Session {
	c := *s
	c.Messages = append([]MessageRecord(nil), s.Messages...)
	return c
}
