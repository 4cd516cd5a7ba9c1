package events

import "time"

// MessageCreated is emitted for every newly persisted message, inbound
// or outbound.
type MessageCreated struct {
	OrganizationID string `json:"organization_id"`
	ChatID         string `json:"chat_id"`
	MessageID      string `json:"message_id"`
	ExternalID     string `json:"external_id"`
	Direction      string `json:"direction"`
	Type           string `json:"type"`
}

// MessageStatus is emitted when a provider delivery-status callback is
// applied to a message.
type MessageStatus struct {
	OrganizationID string    `json:"organization_id"`
	ExternalID     string    `json:"external_id"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

// Handover is emitted when a chat transitions to human attention.
type Handover struct {
	OrganizationID string `json:"organization_id"`
	ChatID         string `json:"chat_id"`
	Reason         string `json:"reason,omitempty"`
}
