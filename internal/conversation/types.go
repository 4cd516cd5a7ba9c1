package conversation

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrMessageNotFound is returned by ApplyStatus when no message matches
// the external id.
var ErrMessageNotFound = errors.New("message not found")

// Message statuses. "received" marks inbound messages; the rest are the
// outbound delivery lifecycle.
const (
	StatusReceived  = "received"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message types.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeDocument = "document"
	TypeAudio    = "audio"
	TypeOther    = "other"
)

// PlaceholderBody is used when a message carries no displayable text.
const PlaceholderBody = "[Media/Other]"

// Chat is one conversation thread: a (tenant, contact) pair.
type Chat struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id"`
	ContactID       string     `json:"contact_id"`
	Name            string     `json:"name,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	ActiveSessionID string     `json:"active_session_id,omitempty"`
	HandoverActive  bool       `json:"handover_active"`
	HandoverReason  string     `json:"handover_reason,omitempty"`
	HandoverSince   *time.Time `json:"handover_since,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Message is one inbound or outbound message in a chat.
type Message struct {
	ID          string          `json:"id"`
	ChatID      string          `json:"chat_id"`
	ExternalID  string          `json:"external_id"`
	Status      string          `json:"status"`
	Type        string          `json:"type"`
	Body        string          `json:"body,omitempty"`
	MediaPath   string          `json:"media_path,omitempty"`
	MediaURL    string          `json:"media_url,omitempty"`
	MediaID     string          `json:"media_id,omitempty"`
	MediaMime   string          `json:"media_mime,omitempty"`
	SenderName  string          `json:"sender_name,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	WaTimestamp *time.Time      `json:"wa_timestamp,omitempty"`
	SentAt      *time.Time      `json:"sent_at,omitempty"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// InboundMessage carries the fields persisted for a provider message.
type InboundMessage struct {
	ChatID      string
	ExternalID  string
	Type        string
	Body        string
	MediaPath   string
	MediaURL    string
	MediaID     string
	MediaMime   string
	SenderName  string
	Payload     json.RawMessage
	WaTimestamp *time.Time
}

// OutboundMessage carries the fields persisted for a sent (or failed)
/// reply. Payload records the bot decision: origin, handover, reason,
// model.
type OutboundMessage struct {
	ChatID     string
	ExternalID string
	Status     string
	Body       string
	SenderName string
	Payload    json.RawMessage
}

// BotPayload is the structured payload attached to bot-authored
// outbound messages.
type BotPayload struct {
	Origin   string `json:"origin"`
	Handover bool   `json:"handover"`
	Reason   string `json:"reason,omitempty"`
	Model    string `json:"model,omitempty"`
}
