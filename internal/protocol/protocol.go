// Package protocol defines the JSON payloads exchanged with browser clients.
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Inbound payload kinds.
const (
	TypeSetIdentity = "set_identity"
	TypeFindPartner = "find_partner"
	TypeSendMessage = "send_message"
	TypeEndChat     = "end_chat"
	TypeNewChat     = "new_chat"
	TypeReport      = "report"
)

// Outbound payload kinds.
const (
	TypeConnected   = "connected"
	TypeWaiting     = "waiting"
	TypeChatStarted = "chat_started"
	TypeMessage     = "message"
	TypeChatEnded   = "chat_ended"
	TypeError       = "error"
)

var (
	ErrMalformed = errors.New("malformed payload")
	ErrInvalid   = errors.New("invalid payload")
)

// Inbound is the union of every field a client may send.
type Inbound struct {
	Type    string `json:"type" validate:"required"`
	Label   string `json:"label,omitempty"`
	Message string `json:"message,omitempty" validate:"max=2000"`
	Reason  string `json:"reason,omitempty" validate:"max=500"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses and validates a raw client frame. Unknown types are not an
// error here; routing decides what to do with them.
func Decode(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, errors.Wrap(ErrMalformed, err.Error())
	}
	in.Type = strings.TrimSpace(in.Type)
	in.Label = strings.TrimSpace(in.Label)
	if err := validate.Struct(in); err != nil {
		return Inbound{}, errors.Wrap(ErrInvalid, err.Error())
	}
	return in, nil
}

// Outbound is implemented by every server-to-client payload.
type Outbound interface {
	OutboundType() string
}

type Connected struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
	Label    string `json:"label"`
}

type Waiting struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ChatStarted struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	PartnerID string `json:"partnerId"`
}

type Message struct {
	Type         string    `json:"type"`
	SessionID    string    `json:"sessionId"`
	MessageID    string    `json:"messageId"`
	SenderID     string    `json:"senderId"`
	SenderLabel  string    `json:"senderLabel"`
	PartnerID    string    `json:"partnerId"`
	PartnerLabel string    `json:"partnerLabel"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	IsOwn        bool      `json:"isOwn"`
}

type ChatEnded struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (Connected) OutboundType() string   { return TypeConnected }
func (Waiting) OutboundType() string     { return TypeWaiting }
func (ChatStarted) OutboundType() string { return TypeChatStarted }
func (Message) OutboundType() string     { return TypeMessage }
func (ChatEnded) OutboundType() string   { return TypeChatEnded }
func (Error) OutboundType() string       { return TypeError }

func NewConnected(identity, label string) Connected {
	return Connected{Type: TypeConnected, Identity: identity, Label: label}
}

func NewWaiting() Waiting {
	return Waiting{Type: TypeWaiting, Message: "Looking for a stranger to chat with..."}
}

func NewChatStarted(sessionID, partnerID string) ChatStarted {
	return ChatStarted{Type: TypeChatStarted, SessionID: sessionID, PartnerID: partnerID}
}

func NewChatEnded() ChatEnded {
	return ChatEnded{Type: TypeChatEnded, Message: "Stranger has disconnected"}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
