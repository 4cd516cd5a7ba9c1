package conversation

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRow implements pgx.Row with a custom scan function.
type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	return r.scanFunc(dest...)
}

// fakeQuerier implements db.Querier for unit testing.
type fakeQuerier struct {
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if q.execFunc != nil {
		return q.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (q *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if q.queryRowFunc != nil {
		return q.queryRowFunc(ctx, sql, args...)
	}
	return &fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func mustParseUUID(s string) pgtype.UUID {
	var u pgtype.UUID
	_ = u.Scan(s)
	return u
}

func makeChatRow(chatID, orgID pgtype.UUID, contactID string, handover bool) *fakeRow {
	return &fakeRow{
		scanFunc: func(dest ...any) error {
			if len(dest) < 11 {
				return pgx.ErrNoRows
			}
			*dest[0].(*pgtype.UUID) = chatID
			*dest[1].(*pgtype.UUID) = orgID
			*dest[2].(*string) = contactID
			*dest[3].(*pgtype.Text) = pgtype.Text{String: "Ana Torres", Valid: true}
			*dest[4].(*pgtype.Text) = pgtype.Text{}
			*dest[5].(*pgtype.UUID) = pgtype.UUID{}
			*dest[6].(*bool) = handover
			*dest[7].(*pgtype.Text) = pgtype.Text{}
			*dest[8].(*pgtype.Timestamptz) = pgtype.Timestamptz{}
			*dest[9].(*pgtype.Timestamptz) = pgtype.Timestamptz{Time: time.Now(), Valid: true}
			*dest[10].(*pgtype.Timestamptz) = pgtype.Timestamptz{Time: time.Now(), Valid: true}
			return nil
		},
	}
}

const (
	testChatID = "00000000-0000-0000-0000-000000000001"
	testOrgID  = "00000000-0000-0000-0000-000000000002"
)

func TestUpsertChat(t *testing.T) {
	chatUUID := mustParseUUID(testChatID)
	orgUUID := mustParseUUID(testOrgID)

	var gotSQL string
	var gotArgs []any
	svc := NewService(nil, &fakeQuerier{
		queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			gotSQL = sql
			gotArgs = args
			return makeChatRow(chatUUID, orgUUID, "5215550001111", false)
		},
	})

	chat, err := svc.UpsertChat(context.Background(), testOrgID, "5215550001111", "  Ana Torres ", "")
	require.NoError(t, err)
	assert.Equal(t, testChatID, chat.ID)
	assert.Equal(t, testOrgID, chat.OrganizationID)
	assert.Equal(t, "5215550001111", chat.ContactID)
	assert.False(t, chat.HandoverActive)

	assert.Contains(t, gotSQL, "ON CONFLICT (organization_id, contact_id)")
	require.Len(t, gotArgs, 4)
	assert.Equal(t, "Ana Torres", gotArgs[2], "name should be trimmed")
}

func TestUpsertChatRequiresContact(t *testing.T) {
	svc := NewService(nil, &fakeQuerier{})
	_, err := svc.UpsertChat(context.Background(), testOrgID, "   ", "", "")
	require.Error(t, err)
}

func TestInsertInboundNewMessage(t *testing.T) {
	msgUUID := mustParseUUID("00000000-0000-0000-0000-00000000000a")
	svc := NewService(nil, &fakeQuerier{
		queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			if !strings.Contains(sql, "ON CONFLICT (chat_id, external_id) DO NOTHING") {
				t.Fatalf("unexpected sql: %s", sql)
			}
			return &fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*pgtype.UUID) = msgUUID
				return nil
			}}
		},
	})

	id, inserted, err := svc.InsertInbound(context.Background(), InboundMessage{
		ChatID:     testChatID,
		ExternalID: "wamid.HBgL1",
		Type:       TypeText,
		Body:       "Hola, quiero informes",
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, msgUUID.String(), id)
}

func TestInsertInboundDuplicateIsNoop(t *testing.T) {
	svc := NewService(nil, &fakeQuerier{
		queryRowFunc: func(context.Context, string, ...any) pgx.Row {
			// Conflict clause suppressed the insert, so RETURNING has no row.
			return &fakeRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
		},
	})

	id, inserted, err := svc.InsertInbound(context.Background(), InboundMessage{
		ChatID:     testChatID,
		ExternalID: "wamid.HBgL1",
		Type:       TypeText,
		Body:       "Hola",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Empty(t, id)
}

func TestInsertInboundDefaultsTypeAndPayload(t *testing.T) {
	var gotArgs []any
	svc := NewService(nil, &fakeQuerier{
		queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			gotArgs = args
			return &fakeRow{scanFunc: func(dest ...any) error {
				*dest[0].(*pgtype.UUID) = mustParseUUID("00000000-0000-0000-0000-00000000000b")
				return nil
			}}
		},
	})

	_, _, err := svc.InsertInbound(context.Background(), InboundMessage{
		ChatID:     testChatID,
		ExternalID: "wamid.X",
	})
	require.NoError(t, err)
	require.Len(t, gotArgs, 12)
	assert.Equal(t, TypeOther, gotArgs[3])
	assert.Equal(t, []byte("{}"), gotArgs[10])
}

func TestInsertOutboundFailedStatus(t *testing.T) {
	var gotArgs []any
	svc := NewService(nil, &fakeQuerier{
		execFunc: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			gotArgs = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	})

	payload, _ := json.Marshal(BotPayload{Origin: "bot", Model: "gpt-4o-mini"})
	err := svc.InsertOutbound(context.Background(), OutboundMessage{
		ChatID:     testChatID,
		ExternalID: "failed-abc",
		Status:     StatusFailed,
		Body:       "Con gusto le comparto informes",
		Payload:    payload,
	})
	require.NoError(t, err)
	require.Len(t, gotArgs, 6)
	assert.Equal(t, StatusFailed, gotArgs[2])
}

func TestApplyStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		affected string
		wantErr  error
	}{
		{name: "delivered", status: StatusDelivered, affected: "UPDATE 1"},
		{name: "read", status: StatusRead, affected: "UPDATE 1"},
		{name: "unknown message", status: StatusDelivered, affected: "UPDATE 0", wantErr: ErrMessageNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(nil, &fakeQuerier{
				execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					assert.Contains(t, sql, "c.organization_id = $1")
					assert.Equal(t, tt.status, args[2])
					return pgconn.NewCommandTag(tt.affected), nil
				},
			})
			err := svc.ApplyStatus(context.Background(), testOrgID, "wamid.OUT1", tt.status, time.Now(), nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestApplyStatusBlankExternalID(t *testing.T) {
	svc := NewService(nil, &fakeQuerier{})
	err := svc.ApplyStatus(context.Background(), testOrgID, "  ", StatusRead, time.Now(), nil)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestSetHandoverIsSticky(t *testing.T) {
	var gotSQL string
	svc := NewService(nil, &fakeQuerier{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	})
	require.NoError(t, svc.SetHandover(context.Background(), testChatID, "user asked for a human"))
	// Re-flagging an already handed-over chat must keep the original timestamp.
	assert.Contains(t, gotSQL, "COALESCE(handover_since, now())")
}

func TestClearHandover(t *testing.T) {
	var gotSQL string
	svc := NewService(nil, &fakeQuerier{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	})
	require.NoError(t, svc.ClearHandover(context.Background(), testChatID))
	assert.Contains(t, gotSQL, "handover_active = false")
}

func TestReleaseStaleSessions(t *testing.T) {
	cutoff := time.Now().Add(-24 * time.Hour)
	svc := NewService(nil, &fakeQuerier{
		execFunc: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			ts, ok := args[0].(pgtype.Timestamptz)
			require.True(t, ok)
			assert.True(t, ts.Time.Equal(cutoff))
			return pgconn.NewCommandTag("UPDATE 3"), nil
		},
	})
	released, err := svc.ReleaseStaleSessions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), released)
}

func TestInvalidIDs(t *testing.T) {
	svc := NewService(nil, &fakeQuerier{})
	ctx := context.Background()

	_, err := svc.GetChat(ctx, "not-a-uuid")
	assert.Error(t, err)
	_, _, err = svc.InsertInbound(ctx, InboundMessage{ChatID: "bogus"})
	assert.Error(t, err)
	err = svc.SetHandover(ctx, "bogus", "")
	assert.Error(t, err)
}
