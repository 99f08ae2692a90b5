// Package events carries lobby lifecycle notifications and abuse reports over
// an in-process watermill pub/sub.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	TopicLifecycle = "anochat.lifecycle"
	TopicReports   = "anochat.reports"
)

type Kind string

const (
	KindParticipantJoined Kind = "participant.joined"
	KindParticipantLeft   Kind = "participant.left"
	KindSessionStarted    Kind = "session.started"
	KindSessionEnded      Kind = "session.ended"
	KindReport            Kind = "report"
)

// Event is the JSON body of every bus message.
type Event struct {
	Kind          Kind          `json:"kind"`
	ParticipantID string        `json:"participantId,omitempty"`
	PartnerID     string        `json:"partnerId,omitempty"`
	SessionID     string        `json:"sessionId,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Messages      int           `json:"messages,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	At            time.Time     `json:"at"`
}

func (e Event) Topic() string {
	if e.Kind == KindReport {
		return TopicReports
	}
	return TopicLifecycle
}

type Publisher interface {
	Publish(ev Event) error
}

type Bus struct {
	pubsub *gochannel.GoChannel
}

func NewBus(log zerolog.Logger, buffer int64) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: buffer},
			NewWatermillLogger(log),
		),
	}
}

func (b *Bus) Publish(ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(ev.Kind))
	return errors.Wrapf(b.pubsub.Publish(ev.Topic(), msg), "publish %s", ev.Kind)
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode reads an Event back out of a bus message.
func Decode(msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, errors.Wrapf(err, "decode event %s", msg.UUID)
	}
	return ev, nil
}
