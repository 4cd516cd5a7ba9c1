package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRecipient(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"mexican prefix collapsed", "5215512345678", "525512345678"},
		{"already normalized untouched", "525512345678", "525512345678"},
		{"non mexican untouched", "14155551234", "14155551234"},
		{"whitespace trimmed", " 5215512345678 ", "525512345678"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRecipient(tt.input))
		})
	}
}

func TestNormalizeRecipientIdempotent(t *testing.T) {
	once := NormalizeRecipient("5215512345678")
	assert.Equal(t, once, NormalizeRecipient(once))
}
