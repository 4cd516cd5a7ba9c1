// Package notify alerts school staff when a conversation needs human
// attention.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/colmenacrm/colmena/internal/config"
	"github.com/colmenacrm/colmena/internal/conversation"
	"github.com/colmenacrm/colmena/internal/tenant"
)

// Notifier sends a handover alert to the organization's staff inbox.
type Notifier struct {
	client *mg.Client
	domain string
	logger *slog.Logger
}

// NewNotifier builds a mailgun-backed notifier. Without an API key or
// domain it stays disabled and NotifyHandover becomes a no-op.
func NewNotifier(log *slog.Logger, cfg config.NotifyConfig) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	n := &Notifier{
		domain: strings.TrimSpace(cfg.MailgunDomain),
		logger: log.With(slog.String("service", "notify")),
	}
	apiKey := strings.TrimSpace(cfg.MailgunAPIKey)
	if apiKey == "" || n.domain == "" {
		n.logger.Warn("mailgun not configured, handover emails disabled")
		return n
	}
	client := mg.NewMailgun(apiKey)
	if strings.EqualFold(cfg.Region, "eu") {
		client.SetAPIBase(mg.APIBaseEU)
	}
	n.client = client
	return n
}

// NotifyHandover emails the organization about a chat that was handed
// off to a human. Missing configuration or a missing recipient address
// only logs; handover state is already persisted and must not depend
// on the email going out.
func (n *Notifier) NotifyHandover(ctx context.Context, org tenant.Organization, chat conversation.Chat, reason string) error {
	if n.client == nil {
		return nil
	}
	to := strings.TrimSpace(org.NotifyEmail)
	if to == "" {
		n.logger.Warn("organization has no notify email, skipping handover alert",
			slog.String("organization_id", org.ID))
		return nil
	}

	contact := chat.Name
	if contact == "" {
		contact = chat.ContactID
	}
	subject := fmt.Sprintf("Conversación pendiente de atención: %s", contact)
	body := fmt.Sprintf(
		"El asistente transfirió una conversación de WhatsApp a atención humana.\n\n"+
			"Contacto: %s (%s)\n"+
			"Motivo: %s\n\n"+
			"Responda desde el panel de %s.\n",
		contact, chat.ContactID, reasonOrDefault(reason), org.Name)

	from := fmt.Sprintf("Colmena CRM <noreply@%s>", n.domain)
	m := mg.NewMessage(n.domain, from, subject, body, to)
	if _, err := n.client.Send(ctx, m); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	n.logger.Info("handover alert sent",
		slog.String("organization_id", org.ID),
		slog.String("chat_id", chat.ID))
	return nil
}

func reasonOrDefault(reason string) string {
	if strings.TrimSpace(reason) == "" {
		return "no especificado"
	}
	return reason
}
