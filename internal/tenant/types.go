package tenant

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no active organization matches a routing key.
var ErrNotFound = errors.New("organization not found")

// Organization is a tenant: one school with its own WhatsApp number.
type Organization struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	PhoneNumberID      string    `json:"phone_number_id"`
	DisplayPhoneNumber string    `json:"display_phone_number,omitempty"`
	NotifyEmail        string    `json:"notify_email,omitempty"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
}
