package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to the WhatsApp Cloud (Graph) API. All provider
// interaction is isolated here; callers never see wire formats.
type Client struct {
	logger      *slog.Logger
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

// NewClient creates a Graph API client. baseURL defaults to the current
// Graph API version when empty.
func NewClient(log *slog.Logger, baseURL, accessToken string) *Client {
	if log == nil {
		log = slog.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v19.0"
	}
	return &Client{
		logger:      log.With(slog.String("adapter", "whatsapp")),
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     baseURL,
		accessToken: accessToken,
	}
}

// SendText sends a plain text message from the tenant's phone number and
// returns the provider-assigned message id. No retry is attempted here;
// failures carry the provider's error message verbatim.
func (c *Client) SendText(ctx context.Context, phoneNumberID, to, body string) (string, error) {
	return c.send(ctx, phoneNumberID, sendRequest{
		Type: "text",
		To:   NormalizeRecipient(to),
		Text: &Text{Body: body},
	})
}

// SendImage sends a previously uploaded image by media id.
func (c *Client) SendImage(ctx context.Context, phoneNumberID, to, mediaID, caption string) (string, error) {
	return c.send(ctx, phoneNumberID, sendRequest{
		Type:  "image",
		To:    NormalizeRecipient(to),
		Image: &mediaPayload{ID: mediaID, Caption: caption},
	})
}

// SendDocument sends a previously uploaded document by media id.
func (c *Client) SendDocument(ctx context.Context, phoneNumberID, to, mediaID, filename, caption string) (string, error) {
	return c.send(ctx, phoneNumberID, sendRequest{
		Type:     "document",
		To:       NormalizeRecipient(to),
		Document: &mediaPayload{ID: mediaID, Caption: caption, Filename: filename},
	})
}

// SendAudio sends a previously uploaded audio clip as a voice note.
func (c *Client) SendAudio(ctx context.Context, phoneNumberID, to, mediaID string) (string, error) {
	return c.send(ctx, phoneNumberID, sendRequest{
		Type:  "audio",
		To:    NormalizeRecipient(to),
		Audio: &audioPayload{ID: mediaID, Voice: true},
	})
}

func (c *Client) send(ctx context.Context, phoneNumberID string, req sendRequest) (string, error) {
	if strings.TrimSpace(c.accessToken) == "" {
		return "", fmt.Errorf("whatsapp access token not configured")
	}
	req.MessagingProduct = "whatsapp"
	req.RecipientType = "individual"

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode send response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("provider rejected send (code %d): %s", parsed.Error.Code, parsed.Error.Message)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("send message status: %d", resp.StatusCode)
	}
	if len(parsed.Messages) == 0 || strings.TrimSpace(parsed.Messages[0].ID) == "" {
		return "", fmt.Errorf("send response missing message id")
	}
	return parsed.Messages[0].ID, nil
}

// FetchMedia resolves a media id into bytes. Two steps, each of which
// can fail independently: resolve the short-lived download URL and
// declared mime type, then download the binary.
func (c *Client) FetchMedia(ctx context.Context, mediaID string) (MediaContent, error) {
	if strings.TrimSpace(c.accessToken) == "" {
		return MediaContent{}, fmt.Errorf("whatsapp access token not configured")
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return MediaContent{}, fmt.Errorf("build media lookup: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return MediaContent{}, fmt.Errorf("resolve media url: %w", err)
	}
	var meta mediaURLResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&meta)
	_ = resp.Body.Close()
	if decodeErr != nil {
		return MediaContent{}, fmt.Errorf("decode media lookup (status %d): %w", resp.StatusCode, decodeErr)
	}
	if meta.Error != nil {
		return MediaContent{}, fmt.Errorf("provider rejected media lookup (code %d): %s", meta.Error.Code, meta.Error.Message)
	}
	if strings.TrimSpace(meta.URL) == "" {
		return MediaContent{}, fmt.Errorf("media lookup response missing url")
	}

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return MediaContent{}, fmt.Errorf("build media download: %w", err)
	}
	dlReq.Header.Set("Authorization", "Bearer "+c.accessToken)

	dlResp, err := c.httpClient.Do(dlReq)
	if err != nil {
		return MediaContent{}, fmt.Errorf("download media: %w", err)
	}
	defer func() {
		_ = dlResp.Body.Close()
	}()
	if dlResp.StatusCode < http.StatusOK || dlResp.StatusCode >= http.StatusMultipleChoices {
		return MediaContent{}, fmt.Errorf("download media status: %d", dlResp.StatusCode)
	}
	data, err := io.ReadAll(dlResp.Body)
	if err != nil {
		return MediaContent{}, fmt.Errorf("read media body: %w", err)
	}
	return MediaContent{Data: data, MimeType: meta.MimeType}, nil
}

// SetHTTPClient overrides the transport, for tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}
