package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RunAuditLog logs every lifecycle event and report until ctx is done.
// Reports are only recorded; nothing analyses them.
func RunAuditLog(ctx context.Context, bus *Bus, log zerolog.Logger) error {
	log = log.With().Str("component", "audit").Logger()

	lifecycle, err := bus.Subscribe(ctx, TopicLifecycle)
	if err != nil {
		return errors.Wrap(err, "subscribe lifecycle")
	}
	reports, err := bus.Subscribe(ctx, TopicReports)
	if err != nil {
		return errors.Wrap(err, "subscribe reports")
	}

	for lifecycle != nil || reports != nil {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-lifecycle:
			if !ok {
				lifecycle = nil
				continue
			}
			record(log, msg, zerolog.DebugLevel)
		case msg, ok := <-reports:
			if !ok {
				reports = nil
				continue
			}
			record(log, msg, zerolog.WarnLevel)
		}
	}
	return nil
}

func record(log zerolog.Logger, msg *message.Message, level zerolog.Level) {
	defer msg.Ack()

	ev, err := Decode(msg)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable event")
		return
	}
	log.WithLevel(level).
		Str("kind", string(ev.Kind)).
		Str("participant_id", ev.ParticipantID).
		Str("partner_id", ev.PartnerID).
		Str("session_id", ev.SessionID).
		Str("reason", ev.Reason).
		Int("messages", ev.Messages).
		Dur("duration", ev.Duration).
		Time("at", ev.At).
		Msg("lobby event")
}
