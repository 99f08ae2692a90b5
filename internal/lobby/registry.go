package lobby

import "time"

type registry struct {
	participants map[string]*Participant
}

func newRegistry() *registry {
	return &registry{participants: make(map[string]*Participant)}
}

func (r *registry) register(id string, conn Conn, label string, at time.Time) *Participant {
	p := &Participant{ID: id, Label: label, ConnectedAt: at, conn: conn}
	r.participants[id] = p
	return p
}

func (r *registry) lookup(id string) (*Participant, bool) {
	p, ok := r.participants[id]
	return p, ok
}

// remove is a no-op for unknown ids.
func (r *registry) remove(id string) {
	delete(r.participants, id)
}

func (r *registry) len() int {
	return len(r.participants)
}
