package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/colmenacrm/colmena/internal/db"
)

// Service resolves organizations by their provider routing key.
type Service struct {
	db     dbpkg.Querier
	logger *slog.Logger
}

// NewService creates a tenant service.
func NewService(log *slog.Logger, db dbpkg.Querier) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:     db,
		logger: log.With(slog.String("service", "tenant")),
	}
}

const resolveByPhoneNumberIDSQL = `
SELECT id, name, phone_number_id, display_phone_number, notify_email, active, created_at
FROM organizations
WHERE phone_number_id = $1 AND active
`

// ResolveByPhoneNumberID returns the active organization owning the given
// phone-number routing key, or ErrNotFound.
func (s *Service) ResolveByPhoneNumberID(ctx context.Context, phoneNumberID string) (Organization, error) {
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return Organization{}, ErrNotFound
	}
	row := s.db.QueryRow(ctx, resolveByPhoneNumberIDSQL, phoneNumberID)

	var (
		id          pgtype.UUID
		name        string
		routingKey  string
		displayNum  pgtype.Text
		notifyEmail pgtype.Text
		active      bool
		createdAt   pgtype.Timestamptz
	)
	if err := row.Scan(&id, &name, &routingKey, &displayNum, &notifyEmail, &active, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Organization{}, ErrNotFound
		}
		return Organization{}, fmt.Errorf("resolve organization: %w", err)
	}
	return Organization{
		ID:                 id.String(),
		Name:               name,
		PhoneNumberID:      routingKey,
		DisplayPhoneNumber: dbpkg.TextToString(displayNum),
		NotifyEmail:        dbpkg.TextToString(notifyEmail),
		Active:             active,
		CreatedAt:          createdAt.Time,
	}, nil
}
