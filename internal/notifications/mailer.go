package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/agrilink/api/internal/services"
)

// SendFunc matches smtp.SendMail and is injectable for tests.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailerConfig configures the SMTP-backed mailer.
type SMTPMailerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Send     SendFunc
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// SMTPMailer implements services.Mailer over plain SMTP. Every send is
// best-effort from the caller's point of view; callers are expected to log
// and discard errors rather than fail the triggering operation.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
	send     SendFunc
	logger   func(ctx context.Context, event string, fields map[string]any)
}

var _ services.Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer constructs the mailer. Host and From are required; an empty
// username skips authentication (local relays, mailhog).
func NewSMTPMailer(cfg SMTPMailerConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mailer: smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("mailer: from address is required")
	}

	port := cfg.Port
	if port == 0 {
		port = 587
	}
	send := cfg.Send
	if send == nil {
		send = smtp.SendMail
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	fromName := strings.TrimSpace(cfg.FromName)
	if fromName == "" {
		fromName = "AgriLink"
	}

	return &SMTPMailer{
		host:     strings.TrimSpace(cfg.Host),
		port:     port,
		username: cfg.Username,
		password: cfg.Password,
		from:     strings.TrimSpace(cfg.From),
		fromName: fromName,
		send:     send,
		logger:   logger,
	}, nil
}

func (m *SMTPMailer) SendWelcome(ctx context.Context, user services.User) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nWelcome to AgriLink! Your account has been created as a %s.\n\nYou can now sign in and start trading.\n\nThe AgriLink Team\n",
		user.Name, user.Role)
	return m.deliver(ctx, user.Email, "Welcome to AgriLink", body)
}

func (m *SMTPMailer) SendOrderConfirmation(ctx context.Context, order services.Order, buyer services.User, farmer services.User) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nYour order %s has been placed and is awaiting confirmation from %s.\n\nTotal: %s\n\nYou will be notified as the order progresses.\n\nThe AgriLink Team\n",
		buyer.Name, order.OrderNumber, farmer.Name, formatAmount(order.Details.FinalAmount, order.Details.Currency))
	if err := m.deliver(ctx, buyer.Email, fmt.Sprintf("Order %s confirmed", order.OrderNumber), body); err != nil {
		return err
	}

	farmerBody := fmt.Sprintf(
		"Hi %s,\n\nYou have received a new order %s from %s.\n\nTotal: %s\n\nPlease confirm or decline it from your dashboard.\n\nThe AgriLink Team\n",
		farmer.Name, order.OrderNumber, buyer.Name, formatAmount(order.Details.FinalAmount, order.Details.Currency))
	return m.deliver(ctx, farmer.Email, fmt.Sprintf("New order %s", order.OrderNumber), farmerBody)
}

func (m *SMTPMailer) SendOrderStatusUpdate(ctx context.Context, order services.Order, recipient services.User, status services.OrderStatus) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nYour order %s is now %s.\n\nThe AgriLink Team\n",
		recipient.Name, order.OrderNumber, status)
	return m.deliver(ctx, recipient.Email, fmt.Sprintf("Order %s update: %s", order.OrderNumber, status), body)
}

func (m *SMTPMailer) SendPaymentConfirmation(ctx context.Context, order services.Order, recipient services.User) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nWe received your payment of %s for order %s.\n\nThe AgriLink Team\n",
		recipient.Name, formatAmount(order.Details.FinalAmount, order.Details.Currency), order.OrderNumber)
	return m.deliver(ctx, recipient.Email, fmt.Sprintf("Payment received for order %s", order.OrderNumber), body)
}

func (m *SMTPMailer) SendExporterApproval(ctx context.Context, user services.User) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nYour exporter account has been approved. You can now handle export orders on AgriLink.\n\nThe AgriLink Team\n",
		user.Name)
	return m.deliver(ctx, user.Email, "Exporter account approved", body)
}

func (m *SMTPMailer) deliver(ctx context.Context, to, subject, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("mailer: recipient address is empty")
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", m.fromName, m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	if err := m.send(addr, auth, m.from, []string{to}, msg.Bytes()); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", to, err)
	}

	m.logger(ctx, "mail.sent", map[string]any{"to": to, "subject": subject})
	return nil
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(minor)/100, strings.ToUpper(currency))
}
