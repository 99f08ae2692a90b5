package lobby

import "github.com/samber/lo"

// queue is a FIFO of participant ids with set semantics.
type queue struct {
	ids []string
}

func (q *queue) enqueue(id string) {
	if lo.Contains(q.ids, id) {
		return
	}
	q.ids = append(q.ids, id)
}

func (q *queue) dequeueFirst() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids[0] = ""
	q.ids = q.ids[1:]
	return id, true
}

func (q *queue) remove(id string) {
	if i := lo.IndexOf(q.ids, id); i >= 0 {
		q.ids = append(q.ids[:i], q.ids[i+1:]...)
	}
}

func (q *queue) contains(id string) bool {
	return lo.Contains(q.ids, id)
}

func (q *queue) len() int {
	return len(q.ids)
}

func (q *queue) snapshot() []string {
	return append([]string(nil), q.ids...)
}
