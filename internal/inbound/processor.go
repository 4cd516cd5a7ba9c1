// Package inbound turns normalized webhook events into persisted
// conversation state and bot replies. One Processor call handles one
// provider batch: zero or more messages plus zero or more status
// updates for a single phone-number routing key.
package inbound

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/colmenacrm/colmena/internal/bot"
	"github.com/colmenacrm/colmena/internal/conversation"
	"github.com/colmenacrm/colmena/internal/events"
	"github.com/colmenacrm/colmena/internal/media"
	"github.com/colmenacrm/colmena/internal/tenant"
	"github.com/colmenacrm/colmena/internal/whatsapp"
)

// TenantResolver maps a provider routing key to an organization.
type TenantResolver interface {
	ResolveByPhoneNumberID(ctx context.Context, phoneNumberID string) (tenant.Organization, error)
}

// ChatStore is the conversation persistence the processor needs.
type ChatStore interface {
	UpsertChat(ctx context.Context, orgID, contactID, name, phone string) (conversation.Chat, error)
	InsertInbound(ctx context.Context, msg conversation.InboundMessage) (string, bool, error)
	InsertOutbound(ctx context.Context, msg conversation.OutboundMessage) error
	ApplyStatus(ctx context.Context, orgID, externalID, status string, at time.Time, raw json.RawMessage) error
	RecentMessages(ctx context.Context, chatID string, limit int32) ([]conversation.Message, error)
	SetHandover(ctx context.Context, chatID, reason string) error
}

// MediaFetcher downloads provider-hosted attachments.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaID string) (whatsapp.MediaContent, error)
}

// MediaSaver persists downloaded attachments.
type MediaSaver interface {
	SaveInbound(ctx context.Context, chatID, mediaID, mimeType string, data []byte) (media.SavedMedia, error)
}

// ReplySender delivers bot replies through the provider.
type ReplySender interface {
	SendText(ctx context.Context, phoneNumberID, to, body string) (string, error)
}

// DecisionEngine produces a verdict for an inbound text message.
type DecisionEngine interface {
	Decide(ctx context.Context, input bot.DecideInput) (*bot.Decision, error)
}

// EventPublisher fans conversation events out to the rest of the CRM.
type EventPublisher interface {
	Publish(ctx context.Context, key string, data any) error
}

// HandoverNotifier alerts staff when a chat needs a human.
type HandoverNotifier interface {
	NotifyHandover(ctx context.Context, org tenant.Organization, chat conversation.Chat, reason string) error
}

// Processor drives the per-batch state machine. Every step failure is
// contained to the message it belongs to; the webhook surface above
// always acks recognized envelopes.
type Processor struct {
	tenants      TenantResolver
	chats        ChatStore
	fetcher      MediaFetcher
	saver        MediaSaver
	sender       ReplySender
	engine       DecisionEngine
	publisher    EventPublisher
	notifier     HandoverNotifier
	historyLimit int32
	logger       *slog.Logger
}

// NewProcessor wires the pipeline. Publisher and notifier may be nil;
// the corresponding side effects are skipped.
func NewProcessor(
	log *slog.Logger,
	tenants TenantResolver,
	chats ChatStore,
	fetcher MediaFetcher,
	saver MediaSaver,
	sender ReplySender,
	engine DecisionEngine,
	publisher EventPublisher,
	notifier HandoverNotifier,
	historyLimit int,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &Processor{
		tenants:      tenants,
		chats:        chats,
		fetcher:      fetcher,
		saver:        saver,
		sender:       sender,
		engine:       engine,
		publisher:    publisher,
		notifier:     notifier,
		historyLimit: int32(historyLimit),
		logger:       log.With(slog.String("service", "inbound")),
	}
}

// ProcessBatch handles one webhook value: resolve the tenant, walk the
// messages, then reconcile status updates. An unknown routing key drops
// the whole batch with a warning.
func (p *Processor) ProcessBatch(ctx context.Context, value whatsapp.Value) {
	phoneNumberID := strings.TrimSpace(value.Metadata.PhoneNumberID)
	org, err := p.tenants.ResolveByPhoneNumberID(ctx, phoneNumberID)
	if err != nil {
		p.logger.Warn("dropping batch for unknown routing key",
			slog.String("phone_number_id", phoneNumberID),
			slog.Any("error", err))
		return
	}

	for _, msg := range value.Messages {
		p.processMessage(ctx, org, value, msg)
	}
	for _, status := range value.Statuses {
		p.applyStatus(ctx, org, status)
	}
}

func (p *Processor) processMessage(ctx context.Context, org tenant.Organization, value whatsapp.Value, msg whatsapp.Message) {
	contactID, senderName := contactIdentity(value, msg)
	if contactID == "" {
		p.logger.Warn("dropping message without contact identity",
			slog.String("organization_id", org.ID),
			slog.String("external_id", msg.ID))
		return
	}

	chat, err := p.chats.UpsertChat(ctx, org.ID, contactID, senderName, contactID)
	if err != nil {
		p.logger.Error("upsert chat failed",
			slog.String("organization_id", org.ID),
			slog.String("contact_id", contactID),
			slog.Any("error", err))
		return
	}

	inboundMsg := conversation.InboundMessage{
		ChatID:      chat.ID,
		ExternalID:  msg.ID,
		Type:        messageType(msg.Type),
		Body:        displayBody(msg),
		SenderName:  senderName,
		WaTimestamp: parseWaTimestamp(msg.Timestamp),
	}
	if raw, err := json.Marshal(msg); err == nil {
		inboundMsg.Payload = raw
	}

	// Media resolution is best effort: a failed fetch never blocks
	// persistence of the message itself.
	if mediaID, mimeType := mediaReference(msg); mediaID != "" {
		content, err := p.fetcher.FetchMedia(ctx, mediaID)
		if err != nil {
			p.logger.Warn("media fetch failed, persisting message without attachment",
				slog.String("chat_id", chat.ID),
				slog.String("media_id", mediaID),
				slog.Any("error", err))
		} else {
			if content.MimeType != "" {
				mimeType = content.MimeType
			}
			saved, err := p.saver.SaveInbound(ctx, chat.ID, mediaID, mimeType, content.Data)
			if err != nil {
				p.logger.Warn("media store failed, persisting message without attachment",
					slog.String("chat_id", chat.ID),
					slog.String("media_id", mediaID),
					slog.Any("error", err))
			} else {
				inboundMsg.MediaID = mediaID
				inboundMsg.MediaMime = mimeType
				inboundMsg.MediaPath = saved.Path
				inboundMsg.MediaURL = saved.URL
			}
		}
	}

	messageID, inserted, err := p.chats.InsertInbound(ctx, inboundMsg)
	if err != nil {
		p.logger.Error("insert inbound message failed",
			slog.String("chat_id", chat.ID),
			slog.String("external_id", msg.ID),
			slog.Any("error", err))
		return
	}
	if !inserted {
		// Provider redelivery: already handled, do not answer twice.
		p.logger.Info("skipping redelivered message",
			slog.String("chat_id", chat.ID),
			slog.String("external_id", msg.ID))
		return
	}
	p.publish(ctx, events.KeyMessageCreated, events.MessageCreated{
		OrganizationID: org.ID,
		ChatID:         chat.ID,
		MessageID:      messageID,
		ExternalID:     msg.ID,
		Direction:      "inbound",
		Type:           inboundMsg.Type,
	})

	if msg.Type != "text" || msg.Text == nil || strings.TrimSpace(msg.Text.Body) == "" {
		return
	}
	p.respond(ctx, org, chat, senderName, strings.TrimSpace(msg.Text.Body))
}

// respond runs the bot leg: handover short-circuit, decision, provider
// send, outbound persistence. All failures are logged and contained.
func (p *Processor) respond(ctx context.Context, org tenant.Organization, chat conversation.Chat, senderName, text string) {
	if chat.HandoverActive {
		p.logger.Info("chat is handed over, skipping bot",
			slog.String("chat_id", chat.ID))
		return
	}

	history, err := p.chats.RecentMessages(ctx, chat.ID, p.historyLimit)
	if err != nil {
		p.logger.Warn("loading history failed, deciding without context",
			slog.String("chat_id", chat.ID),
			slog.Any("error", err))
	}

	decision, err := p.engine.Decide(ctx, bot.DecideInput{
		SchoolName:  org.Name,
		ContactName: senderName,
		History:     historyTurns(history, text),
		Text:        text,
	})
	if err != nil {
		p.logger.Warn("bot decision failed",
			slog.String("chat_id", chat.ID),
			slog.Any("error", err))
		return
	}
	if decision == nil {
		return
	}

	if decision.Handover {
		p.markHandover(ctx, org, chat, decision.Reason)
	}
	if decision.Reply == "" {
		return
	}

	payload, _ := json.Marshal(conversation.BotPayload{
		Origin:   "bot",
		Handover: decision.Handover,
		Reason:   decision.Reason,
		Model:    decision.Model,
	})
	outbound := conversation.OutboundMessage{
		ChatID:     chat.ID,
		Status:     conversation.StatusSent,
		Body:       decision.Reply,
		SenderName: "bot",
		Payload:    payload,
	}

	externalID, err := p.sender.SendText(ctx, org.PhoneNumberID, chat.ContactID, decision.Reply)
	if err != nil {
		p.logger.Error("provider send failed",
			slog.String("chat_id", chat.ID),
			slog.Any("error", err))
		// Keep a durable trace of the failed attempt.
		outbound.Status = conversation.StatusFailed
		outbound.ExternalID = "failed-" + uuid.NewString()
	} else {
		outbound.ExternalID = externalID
	}

	if err := p.chats.InsertOutbound(ctx, outbound); err != nil {
		p.logger.Error("insert outbound message failed",
			slog.String("chat_id", chat.ID),
			slog.String("external_id", outbound.ExternalID),
			slog.Any("error", err))
		return
	}
	p.publish(ctx, events.KeyMessageCreated, events.MessageCreated{
		OrganizationID: org.ID,
		ChatID:         chat.ID,
		ExternalID:     outbound.ExternalID,
		Direction:      "outbound",
		Type:           conversation.TypeText,
	})
}

func (p *Processor) markHandover(ctx context.Context, org tenant.Organization, chat conversation.Chat, reason string) {
	if err := p.chats.SetHandover(ctx, chat.ID, reason); err != nil {
		p.logger.Error("set handover failed",
			slog.String("chat_id", chat.ID),
			slog.Any("error", err))
		return
	}
	p.publish(ctx, events.KeyHandover, events.Handover{
		OrganizationID: org.ID,
		ChatID:         chat.ID,
		Reason:         reason,
	})
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyHandover(ctx, org, chat, reason); err != nil {
		p.logger.Warn("handover notification failed",
			slog.String("chat_id", chat.ID),
			slog.Any("error", err))
	}
}

func (p *Processor) applyStatus(ctx context.Context, org tenant.Organization, status whatsapp.Status) {
	raw, _ := json.Marshal(status)
	at := time.Now().UTC()
	if ts := parseWaTimestamp(status.Timestamp); ts != nil {
		at = *ts
	}
	err := p.chats.ApplyStatus(ctx, org.ID, status.ID, status.Status, at, raw)
	if err != nil {
		// Out-of-order or unknown message: log and move on, never
		// create a placeholder row.
		p.logger.Warn("status update skipped",
			slog.String("organization_id", org.ID),
			slog.String("external_id", status.ID),
			slog.String("status", status.Status),
			slog.Any("error", err))
		return
	}
	p.publish(ctx, events.KeyMessageStatus, events.MessageStatus{
		OrganizationID: org.ID,
		ExternalID:     status.ID,
		Status:         status.Status,
		Timestamp:      at,
	})
}

func (p *Processor) publish(ctx context.Context, key string, data any) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, key, data); err != nil {
		p.logger.Warn("event publish failed",
			slog.String("key", key),
			slog.Any("error", err))
	}
}

// contactIdentity prefers the provider-declared contact record and
// falls back to the message sender. Empty means the message cannot be
// routed.
func contactIdentity(value whatsapp.Value, msg whatsapp.Message) (contactID, name string) {
	for _, contact := range value.Contacts {
		if contact.WaID != "" {
			return contact.WaID, strings.TrimSpace(contact.Profile.Name)
		}
	}
	return strings.TrimSpace(msg.From), ""
}

func messageType(providerType string) string {
	switch providerType {
	case "text":
		return conversation.TypeText
	case "image":
		return conversation.TypeImage
	case "document":
		return conversation.TypeDocument
	case "audio":
		return conversation.TypeAudio
	default:
		return conversation.TypeOther
	}
}

// displayBody picks the human-readable body: text, else image caption,
// else document filename, else a placeholder.
func displayBody(msg whatsapp.Message) string {
	if msg.Text != nil && strings.TrimSpace(msg.Text.Body) != "" {
		return strings.TrimSpace(msg.Text.Body)
	}
	if msg.Image != nil && strings.TrimSpace(msg.Image.Caption) != "" {
		return strings.TrimSpace(msg.Image.Caption)
	}
	if msg.Document != nil {
		if name := strings.TrimSpace(msg.Document.Filename); name != "" {
			return name
		}
	}
	return conversation.PlaceholderBody
}

func mediaReference(msg whatsapp.Message) (mediaID, mimeType string) {
	switch {
	case msg.Image != nil:
		return msg.Image.ID, msg.Image.MimeType
	case msg.Document != nil:
		return msg.Document.ID, msg.Document.MimeType
	case msg.Audio != nil:
		return msg.Audio.ID, msg.Audio.MimeType
	}
	return "", ""
}

// historyTurns maps persisted messages to model roles, excluding the
// message currently being processed.
func historyTurns(history []conversation.Message, currentText string) []bot.Turn {
	turns := make([]bot.Turn, 0, len(history))
	for _, msg := range history {
		if msg.Body == "" || msg.Body == conversation.PlaceholderBody {
			continue
		}
		role := bot.RoleAssistant
		if msg.Status == conversation.StatusReceived {
			role = bot.RoleUser
		}
		turns = append(turns, bot.Turn{Role: role, Content: msg.Body})
	}
	// The current message is passed separately as the latest user turn;
	// drop it if the history window already contains it.
	if n := len(turns); n > 0 && turns[n-1].Role == bot.RoleUser && turns[n-1].Content == currentText {
		turns = turns[:n-1]
	}
	return turns
}

func parseWaTimestamp(ts string) *time.Time {
	seconds, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil || seconds <= 0 {
		return nil
	}
	t := time.Unix(seconds, 0).UTC()
	return &t
}
