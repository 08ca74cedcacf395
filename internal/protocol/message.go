// Package protocol defines the closed set of wire messages spoken over a
// client session. Every frame is one UTF-8 JSON object carrying a Type
// discriminator and a unique MessageId minted when the message is built.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"social-game-backend/internal/models"
)

// Wire values of the Type discriminator.
const (
	TypeLogin                   = "LoginMessage"
	TypeLoginSuccess            = "LoginSuccessMessage"
	TypeSendGift                = "SendGiftMessage"
	TypeGiftAck                 = "GiftAckMessage"
	TypeGiftNotification        = "GiftNotificationMessage"
	TypeUpdateResources         = "UpdateResourcesMessage"
	TypeUpdateResourcesResponse = "UpdateResourcesResponseMessage"
	TypeError                   = "ErrorMessage"
)

var (
	ErrUnknownType = errors.New("protocol: unknown message type")
	ErrInvalid     = errors.New("protocol: invalid message")
)

// Message is the closed union of wire variants. The MessageId is for
// logging and tracing only; it is not an idempotency key.
type Message interface {
	Kind() string
	ID() string
}

type LoginMessage struct {
	Type      string `json:"Type"`
	MessageId string `json:"MessageId"`
	DeviceId  string `json:"DeviceId"`
}

func NewLoginMessage(deviceID string) *LoginMessage {
	return &LoginMessage{Type: TypeLogin, MessageId: newMessageID(), DeviceId: deviceID}
}

func (m *LoginMessage) Kind() string { return TypeLogin }
func (m *LoginMessage) ID() string   { return m.MessageId }

func (m *LoginMessage) validate() error {
	if m.DeviceId == "" {
		return fmt.Errorf("%w: LoginMessage requires DeviceId", ErrInvalid)
	}
	return nil
}

type LoginSuccessMessage struct {
	Type      string         `json:"Type"`
	MessageId string         `json:"MessageId"`
	PlayerId  string         `json:"PlayerId"`
	Balance   models.Balance `json:"Balance"`
}

func NewLoginSuccessMessage(playerID string, balance models.Balance) *LoginSuccessMessage {
	return &LoginSuccessMessage{Type: TypeLoginSuccess, MessageId: newMessageID(), PlayerId: playerID, Balance: balance}
}

func (m *LoginSuccessMessage) Kind() string { return TypeLoginSuccess }
func (m *LoginSuccessMessage) ID() string   { return m.MessageId }

type SendGiftMessage struct {
	Type          string              `json:"Type"`
	MessageId     string              `json:"MessageId"`
	To            string              `json:"To"`
	ResourceType  models.ResourceType `json:"ResourceType"`
	ResourceValue int                 `json:"ResourceValue"`
}

func NewSendGiftMessage(to string, rt models.ResourceType, value int) *SendGiftMessage {
	return &SendGiftMessage{Type: TypeSendGift, MessageId: newMessageID(), To: to, ResourceType: rt, ResourceValue: value}
}

func (m *SendGiftMessage) Kind() string { return TypeSendGift }
func (m *SendGiftMessage) ID() string   { return m.MessageId }

func (m *SendGiftMessage) validate() error {
	if m.To == "" {
		return fmt.Errorf("%w: SendGiftMessage requires To", ErrInvalid)
	}
	if !m.ResourceType.Valid() {
		return fmt.Errorf("%w: bad resource type %q", ErrInvalid, m.ResourceType)
	}
	return nil
}

type GiftAckMessage struct {
	Type      string         `json:"Type"`
	MessageId string         `json:"MessageId"`
	Success   bool           `json:"Success"`
	Balance   models.Balance `json:"Balance"`
}

func NewGiftAckMessage(success bool, balance models.Balance) *GiftAckMessage {
	return &GiftAckMessage{Type: TypeGiftAck, MessageId: newMessageID(), Success: success, Balance: balance}
}

func (m *GiftAckMessage) Kind() string { return TypeGiftAck }
func (m *GiftAckMessage) ID() string   { return m.MessageId }

// GiftNotificationMessage is pushed unsolicited to an online receiver.
type GiftNotificationMessage struct {
	Type          string              `json:"Type"`
	MessageId     string              `json:"MessageId"`
	From          string              `json:"From"`
	ResourceType  models.ResourceType `json:"ResourceType"`
	ResourceValue int                 `json:"ResourceValue"`
	Balance       models.Balance      `json:"Balance"`
}

func NewGiftNotificationMessage(from string, rt models.ResourceType, value int, balance models.Balance) *GiftNotificationMessage {
	return &GiftNotificationMessage{Type: TypeGiftNotification, MessageId: newMessageID(), From: from, ResourceType: rt, ResourceValue: value, Balance: balance}
}

func (m *GiftNotificationMessage) Kind() string { return TypeGiftNotification }
func (m *GiftNotificationMessage) ID() string   { return m.MessageId }

type UpdateResourcesMessage struct {
	Type          string              `json:"Type"`
	MessageId     string              `json:"MessageId"`
	ResourceType  models.ResourceType `json:"ResourceType"`
	ResourceValue int                 `json:"ResourceValue"`
}

func NewUpdateResourcesMessage(rt models.ResourceType, value int) *UpdateResourcesMessage {
	return &UpdateResourcesMessage{Type: TypeUpdateResources, MessageId: newMessageID(), ResourceType: rt, ResourceValue: value}
}

func (m *UpdateResourcesMessage) Kind() string { return TypeUpdateResources }
func (m *UpdateResourcesMessage) ID() string   { return m.MessageId }

func (m *UpdateResourcesMessage) validate() error {
	if !m.ResourceType.Valid() {
		return fmt.Errorf("%w: bad resource type %q", ErrInvalid, m.ResourceType)
	}
	return nil
}

type UpdateResourcesResponseMessage struct {
	Type      string         `json:"Type"`
	MessageId string         `json:"MessageId"`
	Balance   models.Balance `json:"Balance"`
}

func NewUpdateResourcesResponseMessage(balance models.Balance) *UpdateResourcesResponseMessage {
	return &UpdateResourcesResponseMessage{Type: TypeUpdateResourcesResponse, MessageId: newMessageID(), Balance: balance}
}

func (m *UpdateResourcesResponseMessage) Kind() string { return TypeUpdateResourcesResponse }
func (m *UpdateResourcesResponseMessage) ID() string   { return m.MessageId }

type ErrorMessage struct {
	Type       string `json:"Type"`
	MessageId  string `json:"MessageId"`
	Message    string `json:"Message"`
	StatusCode int    `json:"StatusCode"`
}

func NewErrorMessage(message string, statusCode int) *ErrorMessage {
	return &ErrorMessage{Type: TypeError, MessageId: newMessageID(), Message: message, StatusCode: statusCode}
}

func (m *ErrorMessage) Kind() string { return TypeError }
func (m *ErrorMessage) ID() string   { return m.MessageId }

type validator interface {
	validate() error
}

// Decode parses one frame into its concrete variant. Unknown or missing
// Type, malformed JSON, and missing required fields are all hard failures.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type string `json:"Type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: missing Type", ErrInvalid)
	}

	var msg Message
	switch head.Type {
	case TypeLogin:
		msg = &LoginMessage{}
	case TypeLoginSuccess:
		msg = &LoginSuccessMessage{}
	case TypeSendGift:
		msg = &SendGiftMessage{}
	case TypeGiftAck:
		msg = &GiftAckMessage{}
	case TypeGiftNotification:
		msg = &GiftNotificationMessage{}
	case TypeUpdateResources:
		msg = &UpdateResourcesMessage{}
	case TypeUpdateResourcesResponse:
		msg = &UpdateResourcesResponseMessage{}
	case TypeError:
		msg = &ErrorMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if v, ok := msg.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func newMessageID() string {
	return uuid.NewString()
}
