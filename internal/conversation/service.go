package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/colmenacrm/colmena/internal/db"
)

// Service owns the chat and message entities. All mutation goes through
// upsert/update-by-unique-key so redelivered provider events stay
// idempotent.
type Service struct {
	db     dbpkg.Querier
	logger *slog.Logger
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, db dbpkg.Querier) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:     db,
		logger: log.With(slog.String("service", "conversation")),
	}
}

const upsertChatSQL = `
INSERT INTO chats (organization_id, contact_id, name, phone)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
ON CONFLICT (organization_id, contact_id) DO UPDATE SET
    name = COALESCE(NULLIF(EXCLUDED.name, ''), chats.name),
    phone = COALESCE(NULLIF(EXCLUDED.phone, ''), chats.phone),
    updated_at = now()
RETURNING id, organization_id, contact_id, name, phone, active_session_id,
    handover_active, handover_reason, handover_since, created_at, updated_at
`

// UpsertChat creates or refreshes the thread for a (tenant, contact)
// pair. On conflict only the display name, phone and activity timestamp
// move; handover state and session references stay untouched.
func (s *Service) UpsertChat(ctx context.Context, orgID, contactID, name, phone string) (Chat, error) {
	pgOrgID, err := dbpkg.ParseUUID(orgID)
	if err != nil {
		return Chat{}, fmt.Errorf("invalid organization id: %w", err)
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return Chat{}, fmt.Errorf("contact id is required")
	}
	row := s.db.QueryRow(ctx, upsertChatSQL, pgOrgID, contactID, strings.TrimSpace(name), strings.TrimSpace(phone))
	chat, err := scanChat(row)
	if err != nil {
		return Chat{}, fmt.Errorf("upsert chat: %w", err)
	}
	return chat, nil
}

const getChatSQL = `
SELECT id, organization_id, contact_id, name, phone, active_session_id,
    handover_active, handover_reason, handover_since, created_at, updated_at
FROM chats
WHERE id = $1
`

// GetChat loads one chat by id.
func (s *Service) GetChat(ctx context.Context, chatID string) (Chat, error) {
	pgChatID, err := dbpkg.ParseUUID(chatID)
	if err != nil {
		return Chat{}, fmt.Errorf("invalid chat id: %w", err)
	}
	chat, err := scanChat(s.db.QueryRow(ctx, getChatSQL, pgChatID))
	if err != nil {
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return chat, nil
}

const listChatsSQL = `
SELECT id, organization_id, contact_id, name, phone, active_session_id,
    handover_active, handover_reason, handover_since, created_at, updated_at
FROM chats
WHERE organization_id = $1
ORDER BY updated_at DESC
LIMIT $2
`

// ListChats returns the most recently active chats for an organization.
func (s *Service) ListChats(ctx context.Context, orgID string, limit int32) ([]Chat, error) {
	pgOrgID, err := dbpkg.ParseUUID(orgID)
	if err != nil {
		return nil, fmt.Errorf("invalid organization id: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, listChatsSQL, pgOrgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()
	var chats []Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

const insertInboundSQL = `
INSERT INTO messages (chat_id, external_id, status, type, body, media_path,
    media_url, media_id, media_mime, sender_name, payload, wa_timestamp)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
    NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12)
ON CONFLICT (chat_id, external_id) DO NOTHING
RETURNING id
`

// InsertInbound persists a received message. Redelivery of the same
// external id is a no-op; the second return value reports whether a row
// was actually written.
func (s *Service) InsertInbound(ctx context.Context, msg InboundMessage) (string, bool, error) {
	pgChatID, err := dbpkg.ParseUUID(msg.ChatID)
	if err != nil {
		return "", false, fmt.Errorf("invalid chat id: %w", err)
	}
	msgType := msg.Type
	if strings.TrimSpace(msgType) == "" {
		msgType = TypeOther
	}
	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	row := s.db.QueryRow(ctx, insertInboundSQL,
		pgChatID,
		strings.TrimSpace(msg.ExternalID),
		StatusReceived,
		msgType,
		msg.Body,
		msg.MediaPath,
		msg.MediaURL,
		msg.MediaID,
		msg.MediaMime,
		msg.SenderName,
		[]byte(payload),
		toTimestamptz(msg.WaTimestamp),
	)
	var id pgtype.UUID
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict no-op: the provider redelivered a known message.
			return "", false, nil
		}
		return "", false, fmt.Errorf("insert inbound message: %w", err)
	}
	return id.String(), true, nil
}

const insertOutboundSQL = `
INSERT INTO messages (chat_id, external_id, status, type, body, sender_name, payload, sent_at)
VALUES ($1, $2, $3, 'text', NULLIF($4, ''), NULLIF($5, ''), $6,
    CASE WHEN $3 = 'sent' THEN now() ELSE NULL END)
ON CONFLICT (chat_id, external_id) DO NOTHING
`

// InsertOutbound records a reply we attempted. Status is "sent"
// optimistically at insert time; true delivery confirmation arrives
// later via ApplyStatus. Failed sends are recorded with status
// "failed" so there is a durable trace of the attempt.
func (s *Service) InsertOutbound(ctx context.Context, msg OutboundMessage) error {
	pgChatID, err := dbpkg.ParseUUID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat id: %w", err)
	}
	status := msg.Status
	if strings.TrimSpace(status) == "" {
		status = StatusSent
	}
	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if _, err := s.db.Exec(ctx, insertOutboundSQL,
		pgChatID,
		strings.TrimSpace(msg.ExternalID),
		status,
		msg.Body,
		msg.SenderName,
		[]byte(payload),
	); err != nil {
		return fmt.Errorf("insert outbound message: %w", err)
	}
	return nil
}

const applyStatusSQL = `
UPDATE messages m
SET status = $3,
    raw_status = $4,
    sent_at = CASE WHEN $3 = 'sent' THEN $5 ELSE m.sent_at END,
    delivered_at = CASE WHEN $3 = 'delivered' THEN $5 ELSE m.delivered_at END,
    read_at = CASE WHEN $3 = 'read' THEN $5 ELSE m.read_at END
FROM chats c
WHERE m.chat_id = c.id AND c.organization_id = $1 AND m.external_id = $2
`

// ApplyStatus applies a delivery-status callback to a previously sent
// message. Applying the same status twice yields the same final state.
// Unrecognized status values update only the status field and raw
// snapshot. ErrMessageNotFound when no message matches.
func (s *Service) ApplyStatus(ctx context.Context, orgID, externalID, status string, at time.Time, raw json.RawMessage) error {
	pgOrgID, err := dbpkg.ParseUUID(orgID)
	if err != nil {
		return fmt.Errorf("invalid organization id: %w", err)
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ErrMessageNotFound
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	tag, err := s.db.Exec(ctx, applyStatusSQL, pgOrgID, externalID, status, []byte(raw),
		pgtype.Timestamptz{Time: at, Valid: true})
	if err != nil {
		return fmt.Errorf("apply status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

const recentMessagesSQL = `
SELECT id, chat_id, external_id, status, type, body, media_path, media_url,
    media_id, media_mime, sender_name, payload, wa_timestamp, sent_at,
    delivered_at, read_at, created_at
FROM messages
WHERE chat_id = $1
ORDER BY created_at DESC
LIMIT $2
`

// RecentMessages returns a bounded window of a chat's history, oldest
// first. Used to build bot context.
func (s *Service) RecentMessages(ctx context.Context, chatID string, limit int32) ([]Message, error) {
	pgChatID, err := dbpkg.ParseUUID(chatID)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id: %w", err)
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, recentMessagesSQL, pgChatID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()
	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query is newest-first; reverse for chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

const setHandoverSQL = `
UPDATE chats
SET handover_active = true,
    handover_reason = NULLIF($2, ''),
    handover_since = COALESCE(handover_since, now()),
    updated_at = now()
WHERE id = $1
`

// SetHandover flags a chat as handed off to a human. The transition is
// one-way from the pipeline's perspective; only ClearHandover reverses
// it.
func (s *Service) SetHandover(ctx context.Context, chatID, reason string) error {
	pgChatID, err := dbpkg.ParseUUID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat id: %w", err)
	}
	if _, err := s.db.Exec(ctx, setHandoverSQL, pgChatID, strings.TrimSpace(reason)); err != nil {
		return fmt.Errorf("set handover: %w", err)
	}
	return nil
}

const clearHandoverSQL = `
UPDATE chats
SET handover_active = false,
    handover_reason = NULL,
    handover_since = NULL,
    updated_at = now()
WHERE id = $1
`

// ClearHandover returns a chat to the bot. Called from the dashboard
// when a human agent closes out the thread.
func (s *Service) ClearHandover(ctx context.Context, chatID string) error {
	pgChatID, err := dbpkg.ParseUUID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat id: %w", err)
	}
	if _, err := s.db.Exec(ctx, clearHandoverSQL, pgChatID); err != nil {
		return fmt.Errorf("clear handover: %w", err)
	}
	return nil
}

const releaseStaleSessionsSQL = `
UPDATE chats
SET active_session_id = NULL
WHERE active_session_id IS NOT NULL AND updated_at < $1
`

// ReleaseStaleSessions detaches active-session references from chats
// that have been quiet since before the cutoff. Returns how many were
// released.
func (s *Service) ReleaseStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, releaseStaleSessionsSQL, pgtype.Timestamptz{Time: cutoff, Valid: true})
	if err != nil {
		return 0, fmt.Errorf("release stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanChat(row pgx.Row) (Chat, error) {
	var (
		id             pgtype.UUID
		orgID          pgtype.UUID
		contactID      string
		name           pgtype.Text
		phone          pgtype.Text
		sessionID      pgtype.UUID
		handoverActive bool
		handoverReason pgtype.Text
		handoverSince  pgtype.Timestamptz
		createdAt      pgtype.Timestamptz
		updatedAt      pgtype.Timestamptz
	)
	if err := row.Scan(&id, &orgID, &contactID, &name, &phone, &sessionID,
		&handoverActive, &handoverReason, &handoverSince, &createdAt, &updatedAt); err != nil {
		return Chat{}, err
	}
	chat := Chat{
		ID:             id.String(),
		OrganizationID: orgID.String(),
		ContactID:      contactID,
		Name:           dbpkg.TextToString(name),
		Phone:          dbpkg.TextToString(phone),
		HandoverActive: handoverActive,
		HandoverReason: dbpkg.TextToString(handoverReason),
		CreatedAt:      createdAt.Time,
		UpdatedAt:      updatedAt.Time,
	}
	if sessionID.Valid {
		chat.ActiveSessionID = sessionID.String()
	}
	if handoverSince.Valid {
		t := handoverSince.Time
		chat.HandoverSince = &t
	}
	return chat, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		id          pgtype.UUID
		chatID      pgtype.UUID
		externalID  string
		status      string
		msgType     string
		body        pgtype.Text
		mediaPath   pgtype.Text
		mediaURL    pgtype.Text
		mediaID     pgtype.Text
		mediaMime   pgtype.Text
		senderName  pgtype.Text
		payload     []byte
		waTimestamp pgtype.Timestamptz
		sentAt      pgtype.Timestamptz
		deliveredAt pgtype.Timestamptz
		readAt      pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
	)
	if err := row.Scan(&id, &chatID, &externalID, &status, &msgType, &body,
		&mediaPath, &mediaURL, &mediaID, &mediaMime, &senderName, &payload,
		&waTimestamp, &sentAt, &deliveredAt, &readAt, &createdAt); err != nil {
		return Message{}, err
	}
	msg := Message{
		ID:         id.String(),
		ChatID:     chatID.String(),
		ExternalID: externalID,
		Status:     status,
		Type:       msgType,
		Body:       dbpkg.TextToString(body),
		MediaPath:  dbpkg.TextToString(mediaPath),
		MediaURL:   dbpkg.TextToString(mediaURL),
		MediaID:    dbpkg.TextToString(mediaID),
		MediaMime:  dbpkg.TextToString(mediaMime),
		SenderName: dbpkg.TextToString(senderName),
		Payload:    json.RawMessage(payload),
		CreatedAt:  createdAt.Time,
	}
	msg.WaTimestamp = timestampPtr(waTimestamp)
	msg.SentAt = timestampPtr(sentAt)
	msg.DeliveredAt = timestampPtr(deliveredAt)
	msg.ReadAt = timestampPtr(readAt)
	return msg, nil
}

func timestampPtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func toTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
