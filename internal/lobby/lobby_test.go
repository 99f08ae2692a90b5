package lobby

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anochat/internal/protocol"
)

var fixedTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubConn struct {
	mu     sync.Mutex
	closed bool
	out    []protocol.Outbound
}

func (s *stubConn) Send(msg protocol.Outbound) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.out = append(s.out, msg)
	return true
}

func (s *stubConn) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *stubConn) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// drain returns and forgets everything delivered so far.
func (s *stubConn) drain() []protocol.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.out
	s.out = nil
	return out
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

func newTestLobby() *Lobby {
	return New(WithClock(func() time.Time { return fixedTime }), WithIDGenerator(sequentialIDs()))
}

func requireValid(t *testing.T, l *Lobby) {
	t.Helper()
	require.NoError(t, l.Snapshot().Validate())
}

func join(t *testing.T, l *Lobby, label string) (string, *stubConn) {
	t.Helper()
	conn := &stubConn{}
	return l.Register(conn, label), conn
}

func TestRegisterAssignsDistinctIdentities(t *testing.T) {
	l := New()
	a, _ := join(t, l, "a")
	b, _ := join(t, l, "")
	require.NotEqual(t, a, b)

	pb, ok := l.Lookup(b)
	require.True(t, ok)
	assert.Equal(t, DefaultLabel, pb.Label)
	assert.Equal(t, Idle, pb.State())
	requireValid(t, l)
}

func TestRegisterRetriesOnCollision(t *testing.T) {
	ids := []string{"x", "x", "y"}
	l := New(WithIDGenerator(func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}))
	a, _ := join(t, l, "a")
	b, _ := join(t, l, "b")
	assert.Equal(t, "x", a)
	assert.Equal(t, "y", b)
}

func TestTwoParticipantsArePaired(t *testing.T) {
	l := newTestLobby()
	x, xc := join(t, l, "x")
	y, yc := join(t, l, "y")

	m := l.RequestPartner(x)
	assert.Equal(t, OutcomeWaiting, m.Outcome)
	require.Equal(t, []protocol.Outbound{protocol.NewWaiting()}, xc.drain())
	requireValid(t, l)

	m = l.RequestPartner(y)
	require.Equal(t, OutcomePaired, m.Outcome)
	assert.Equal(t, x, m.PartnerID)

	assert.Equal(t, []protocol.Outbound{protocol.NewChatStarted(m.SessionID, y)}, xc.drain())
	assert.Equal(t, []protocol.Outbound{protocol.NewChatStarted(m.SessionID, x)}, yc.drain())

	px, _ := l.Lookup(x)
	py, _ := l.Lookup(y)
	assert.Equal(t, InSession, px.State())
	assert.Equal(t, InSession, py.State())
	assert.Equal(t, m.SessionID, px.SessionID)
	assert.Equal(t, m.SessionID, py.SessionID)
	requireValid(t, l)
}

// queueDirectly puts open participants in line without pairing them, which
// RequestPartner never allows.
func queueDirectly(t *testing.T, l *Lobby, ids ...string) {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		p, ok := l.registry.lookup(id)
		require.True(t, ok)
		l.queue.enqueue(id)
		p.Waiting = true
	}
}

func TestMatchingIsFirstComeFirstServed(t *testing.T) {
	l := newTestLobby()
	a, _ := join(t, l, "a")
	b, _ := join(t, l, "b")
	c, _ := join(t, l, "c")
	queueDirectly(t, l, a, b)

	m := l.RequestPartner(c)

	require.Equal(t, OutcomePaired, m.Outcome)
	assert.Equal(t, a, m.PartnerID)
	assert.Equal(t, []string{b}, l.Snapshot().Queue)
	requireValid(t, l)
}

func TestRepeatedRequestDoesNotDuplicate(t *testing.T) {
	l := newTestLobby()
	a, ac := join(t, l, "a")

	l.RequestPartner(a)
	m := l.RequestPartner(a)

	assert.Equal(t, OutcomeWaiting, m.Outcome)
	assert.Equal(t, []string{a}, l.Snapshot().Queue)
	assert.Len(t, ac.drain(), 2)
	requireValid(t, l)
}

func TestDeadCandidateIsDroppedWithoutRetry(t *testing.T) {
	l := newTestLobby()
	a, ac := join(t, l, "a")
	b, bc := join(t, l, "b")
	c, cc := join(t, l, "c")

	l.RequestPartner(a)
	ac.close()

	m := l.RequestPartner(b)
	assert.Equal(t, OutcomeWaiting, m.Outcome)
	assert.Equal(t, a, m.Dropped)
	assert.Equal(t, []string{b}, l.Snapshot().Queue)
	assert.Equal(t, []protocol.Outbound{protocol.NewWaiting()}, bc.drain())

	pa, _ := l.Lookup(a)
	assert.Equal(t, Idle, pa.State())
	requireValid(t, l)

	m = l.RequestPartner(c)
	require.Equal(t, OutcomePaired, m.Outcome)
	assert.Equal(t, b, m.PartnerID)
	assert.Empty(t, m.Dropped)
	assert.Empty(t, l.Snapshot().Queue)
	assert.Equal(t, []protocol.Outbound{protocol.NewChatStarted(m.SessionID, b)}, cc.drain())
	requireValid(t, l)
}

func TestDeadCandidateConsumesOnlyTheHead(t *testing.T) {
	l := newTestLobby()
	a, ac := join(t, l, "a")
	b, _ := join(t, l, "b")
	c, _ := join(t, l, "c")
	queueDirectly(t, l, a, b)
	ac.close()

	m := l.RequestPartner(c)
	assert.Equal(t, OutcomeWaiting, m.Outcome)
	assert.Equal(t, a, m.Dropped)
	assert.Equal(t, []string{b, c}, l.Snapshot().Queue)
	assert.Equal(t, 0, l.Stats().Sessions)
	requireValid(t, l)
}

func TestLongLabelIsTruncated(t *testing.T) {
	l := newTestLobby()
	id, _ := join(t, l, "  "+strings.Repeat("é", MaxLabelLength+5)+"  ")

	p, ok := l.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("é", MaxLabelLength), p.Label)
}

func TestClosedRequesterConsumesNoCandidate(t *testing.T) {
	l := newTestLobby()
	a, _ := join(t, l, "a")
	b, bc := join(t, l, "b")

	l.RequestPartner(a)
	bc.close()

	m := l.RequestPartner(b)
	assert.Equal(t, OutcomeGone, m.Outcome)
	assert.Equal(t, []string{a}, l.Snapshot().Queue)
	requireValid(t, l)
}

func TestRequestWhileInSessionIsIgnored(t *testing.T) {
	l := newTestLobby()
	a, _ := join(t, l, "a")
	b, _ := join(t, l, "b")
	c, _ := join(t, l, "c")
	l.RequestPartner(a)
	paired := l.RequestPartner(b)
	l.RequestPartner(c)

	m := l.RequestPartner(a)
	assert.Equal(t, OutcomeInSession, m.Outcome)
	assert.Equal(t, paired.SessionID, m.SessionID)
	assert.Equal(t, []string{c}, l.Snapshot().Queue)
	requireValid(t, l)
}

func TestRequestUnknownParticipant(t *testing.T) {
	l := newTestLobby()
	assert.Equal(t, OutcomeGone, l.RequestPartner("nobody").Outcome)
}

func pair(t *testing.T, l *Lobby) (x string, xc *stubConn, y string, yc *stubConn, session string) {
	t.Helper()
	x, xc = join(t, l, "x")
	y, yc = join(t, l, "y")
	l.RequestPartner(x)
	m := l.RequestPartner(y)
	require.Equal(t, OutcomePaired, m.Outcome)
	xc.drain()
	yc.drain()
	return x, xc, y, yc, m.SessionID
}

func TestSendMessageReachesBothSides(t *testing.T) {
	l := newTestLobby()
	x, xc, y, yc, session := pair(t, l)

	rec, ok := l.SendMessage(x, "  hello ")
	require.True(t, ok)
	assert.Equal(t, "hello", rec.Text)

	toX := xc.drain()
	toY := yc.drain()
	require.Len(t, toX, 1)
	require.Len(t, toY, 1)

	mx := toX[0].(protocol.Message)
	my := toY[0].(protocol.Message)
	assert.Equal(t, "hello", mx.Message)
	assert.Equal(t, "hello", my.Message)
	assert.True(t, mx.IsOwn)
	assert.False(t, my.IsOwn)
	for _, m := range []protocol.Message{mx, my} {
		assert.Equal(t, session, m.SessionID)
		assert.Equal(t, rec.ID, m.MessageID)
		assert.Equal(t, x, m.SenderID)
		assert.Equal(t, "x", m.SenderLabel)
		assert.Equal(t, y, m.PartnerID)
		assert.Equal(t, "y", m.PartnerLabel)
		assert.Equal(t, fixedTime, m.Timestamp)
	}

	msgs := l.Snapshot().Sessions[session].Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, rec, msgs[0])
}

func TestBlankMessageIsDropped(t *testing.T) {
	l := newTestLobby()
	x, xc, _, yc, session := pair(t, l)

	_, ok := l.SendMessage(x, "   ")
	assert.False(t, ok)
	assert.Empty(t, xc.drain())
	assert.Empty(t, yc.drain())
	assert.Empty(t, l.Snapshot().Sessions[session].Messages)
}

func TestMessageWithoutSessionIsDropped(t *testing.T) {
	l := newTestLobby()
	a, ac := join(t, l, "a")
	_, ok := l.SendMessage(a, "hi")
	assert.False(t, ok)
	assert.Empty(t, ac.drain())

	_, ok = l.SendMessage("nobody", "hi")
	assert.False(t, ok)
}

func TestMessagesKeepAcceptanceOrder(t *testing.T) {
	l := newTestLobby()
	x, xc, y, yc, session := pair(t, l)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			l.SendMessage(x, fmt.Sprintf("x%d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			l.SendMessage(y, fmt.Sprintf("y%d", i))
		}(i)
	}
	wg.Wait()

	var stored []string
	for _, m := range l.Snapshot().Sessions[session].Messages {
		stored = append(stored, m.ID)
	}
	ids := func(out []protocol.Outbound) []string {
		var got []string
		for _, o := range out {
			got = append(got, o.(protocol.Message).MessageID)
		}
		return got
	}
	require.Len(t, stored, 100)
	assert.Equal(t, stored, ids(xc.drain()))
	assert.Equal(t, stored, ids(yc.drain()))
}

func TestEndSessionNotifiesPartnerAndIsIdempotent(t *testing.T) {
	l := newTestLobby()
	x, xc, y, yc, session := pair(t, l)

	ended, ok := l.EndSession(x)
	require.True(t, ok)
	assert.Equal(t, session, ended.SessionID)
	assert.Equal(t, y, ended.PartnerID)

	assert.Empty(t, xc.drain())
	assert.Equal(t, []protocol.Outbound{protocol.NewChatEnded()}, yc.drain())

	px, _ := l.Lookup(x)
	py, _ := l.Lookup(y)
	assert.Equal(t, Idle, px.State())
	assert.Equal(t, Idle, py.State())
	assert.Empty(t, l.Snapshot().Sessions)
	requireValid(t, l)

	before := l.Snapshot()
	_, ok = l.EndSession(x)
	assert.False(t, ok)
	assert.Equal(t, before, l.Snapshot())
	assert.Empty(t, yc.drain())
}

func TestEndSessionWhileWaitingLeavesQueue(t *testing.T) {
	l := newTestLobby()
	a, _ := join(t, l, "a")
	l.RequestPartner(a)

	_, ok := l.EndSession(a)
	assert.False(t, ok)
	assert.Empty(t, l.Snapshot().Queue)
	pa, _ := l.Lookup(a)
	assert.Equal(t, Idle, pa.State())
	requireValid(t, l)
}

func TestEndSessionSkipsClosedPartnerNotification(t *testing.T) {
	l := newTestLobby()
	x, _, y, yc, _ := pair(t, l)
	yc.close()

	_, ok := l.EndSession(x)
	require.True(t, ok)
	assert.Empty(t, yc.drain())
	py, _ := l.Lookup(y)
	assert.Equal(t, Idle, py.State())
	requireValid(t, l)
}

func TestRequeuePairsWithWaitingThirdParty(t *testing.T) {
	l := newTestLobby()
	x, xc, y, yc, session := pair(t, l)
	z, zc := join(t, l, "z")
	l.RequestPartner(z)
	zc.drain()

	r := l.Requeue(x)
	require.True(t, r.HadSession)
	assert.Equal(t, session, r.Ended.SessionID)
	require.Equal(t, OutcomePaired, r.Match.Outcome)
	assert.Equal(t, z, r.Match.PartnerID)

	assert.Equal(t, []protocol.Outbound{protocol.NewChatEnded()}, yc.drain())
	assert.Equal(t, []protocol.Outbound{protocol.NewChatStarted(r.Match.SessionID, z)}, xc.drain())
	assert.Equal(t, []protocol.Outbound{protocol.NewChatStarted(r.Match.SessionID, x)}, zc.drain())

	py, _ := l.Lookup(y)
	assert.Equal(t, Idle, py.State())
	requireValid(t, l)
}

func TestRequeueWithNobodyWaitingEnqueues(t *testing.T) {
	l := newTestLobby()
	x, xc, y, _, _ := pair(t, l)

	r := l.Requeue(x)
	assert.Equal(t, OutcomeWaiting, r.Match.Outcome)
	assert.Equal(t, []string{x}, l.Snapshot().Queue)
	assert.Equal(t, []protocol.Outbound{protocol.NewWaiting()}, xc.drain())

	// the abandoned partner is idle, not auto-queued
	py, _ := l.Lookup(y)
	assert.Equal(t, Idle, py.State())
	requireValid(t, l)
}

func TestLeaveWhileWaitingCleansQueue(t *testing.T) {
	l := newTestLobby()
	a, _ := join(t, l, "a")
	l.RequestPartner(a)

	_, ok := l.Leave(a)
	assert.False(t, ok)
	assert.Empty(t, l.Snapshot().Queue)
	_, found := l.Lookup(a)
	assert.False(t, found)
	requireValid(t, l)
}

func TestLeaveWhileInSessionFreesPartner(t *testing.T) {
	l := newTestLobby()
	x, _, y, yc, session := pair(t, l)

	ended, ok := l.Leave(x)
	require.True(t, ok)
	assert.Equal(t, session, ended.SessionID)
	assert.Equal(t, []protocol.Outbound{protocol.NewChatEnded()}, yc.drain())

	py, _ := l.Lookup(y)
	assert.Equal(t, Idle, py.State())
	assert.Equal(t, Stats{Participants: 1}, l.Stats())
	requireValid(t, l)

	l.Remove(x)
	l.Remove(x)
	requireValid(t, l)
}

func TestRemoveDropsQueueMembership(t *testing.T) {
	l := newTestLobby()
	a, _ := join(t, l, "a")
	b, _ := join(t, l, "b")
	l.RequestPartner(a)

	l.Remove(a)
	l.Remove(a)
	l.Remove("nobody")

	_, ok := l.Lookup(a)
	assert.False(t, ok)
	assert.Empty(t, l.Snapshot().Queue)
	assert.Equal(t, OutcomeWaiting, l.RequestPartner(b).Outcome)
	requireValid(t, l)
}

func TestConcurrentChurnKeepsInvariants(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, conn := join(t, l, "")
				l.RequestPartner(id)
				l.SendMessage(id, "hi")
				switch (w + i) % 4 {
				case 0:
					l.Requeue(id)
				case 1:
					l.EndSession(id)
				case 2:
					conn.close()
					l.RequestPartner(id)
				}
				l.Leave(id)
			}
		}(w)
	}
	wg.Wait()

	requireValid(t, l)
	assert.Equal(t, Stats{}, l.Stats())
}

func TestValidateCatchesBrokenState(t *testing.T) {
	s := Snapshot{
		Participants: map[string]Participant{
			"a": {ID: "a", SessionID: "s"},
		},
		Sessions: map[string]Session{},
	}
	assert.Error(t, s.Validate())

	s = Snapshot{
		Participants: map[string]Participant{"a": {ID: "a", Waiting: true}},
		Queue:        []string{"a", "a"},
	}
	assert.Error(t, s.Validate())

	s = Snapshot{
		Participants: map[string]Participant{"a": {ID: "a", Waiting: true}},
	}
	assert.Error(t, s.Validate())
}
