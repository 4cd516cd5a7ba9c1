package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colmenacrm/colmena/internal/whatsapp"
)

type fakeProcessor struct {
	batches []whatsapp.Value
}

func (f *fakeProcessor) ProcessBatch(_ context.Context, value whatsapp.Value) {
	f.batches = append(f.batches, value)
}

func newWebhookEcho(processor BatchProcessor) *echo.Echo {
	e := echo.New()
	NewWebhookHandler(nil, processor, "secret-token").Register(e)
	return e
}

func TestWebhookVerify(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{
			name:     "valid handshake",
			query:    "hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345",
			wantCode: http.StatusOK,
			wantBody: "12345",
		},
		{
			name:     "wrong token",
			query:    "hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345",
			wantCode: http.StatusForbidden,
		},
		{
			name:     "missing challenge",
			query:    "hub.mode=subscribe&hub.verify_token=secret-token",
			wantCode: http.StatusForbidden,
		},
	}

	e := newWebhookEcho(&fakeProcessor{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

const eventPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "entry-1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "5511111111", "phone_number_id": "123456"},
        "contacts": [{"wa_id": "5215512345678", "profile": {"name": "Ana"}}],
        "messages": [{"id": "wamid.IN1", "from": "5215512345678", "timestamp": "1735689600", "type": "text", "text": {"body": "Hola"}}]
      }
    }]
  }]
}`

func TestWebhookReceiveDispatches(t *testing.T) {
	processor := &fakeProcessor{}
	e := newWebhookEcho(processor)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(eventPayload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"received"}`, rec.Body.String())
	require.Len(t, processor.batches, 1)
	batch := processor.batches[0]
	assert.Equal(t, "123456", batch.Metadata.PhoneNumberID)
	require.Len(t, batch.Messages, 1)
	assert.Equal(t, "Hola", batch.Messages[0].Text.Body)
}

func TestWebhookReceiveIgnoresOtherFields(t *testing.T) {
	processor := &fakeProcessor{}
	e := newWebhookEcho(processor)

	payload := `{"object":"whatsapp_business_account","entry":[{"id":"e","changes":[{"field":"account_update","value":{}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, processor.batches)
}

func TestWebhookReceiveRejectsMalformed(t *testing.T) {
	e := newWebhookEcho(&fakeProcessor{})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookReceiveRejectsWrongObject(t *testing.T) {
	e := newWebhookEcho(&fakeProcessor{})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"object":"page","entry":[]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
