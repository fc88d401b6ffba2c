package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/docskit/tenant-api/internal/config"
	"github.com/docskit/tenant-api/pkg/logger"
)

type smtpService struct {
	dialer *gomail.Dialer
	from   string
	logger *logger.Logger
}

func NewSMTPService(cfg config.SMTPConfig, logger *logger.Logger) Service {
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

func (s *smtpService) SendVerification(ctx context.Context, email string, token string) error {
	body := fmt.Sprintf(`
		<h2>Verify your email</h2>
		<p>Your verification code is:</p>
		<h1>%s</h1>
		<p>The code expires in 48 hours. If you did not sign up, ignore this email.</p>
	`, token)
	return s.send(ctx, email, "Verify your DocsKit account", body)
}

func (s *smtpService) SendWelcome(ctx context.Context, email string, name string) error {
	body := fmt.Sprintf(`
		<h2>Welcome to DocsKit, %s!</h2>
		<p>Your account is verified and your workspace is ready.</p>
	`, name)
	return s.send(ctx, email, "Welcome to DocsKit", body)
}

func (s *smtpService) SendPaymentFailed(ctx context.Context, email string, organization string) error {
	body := fmt.Sprintf(`
		<h2>Payment failed for %s</h2>
		<p>Your latest invoice could not be collected. Update your payment
		method to keep write access to your workspace.</p>
	`, organization)
	return s.send(ctx, email, "Action required: payment failed", body)
}

func (s *smtpService) send(ctx context.Context, to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	// gomail has no context support; honor cancellation before dialing.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Debug("email sent", "to", to, "subject", subject)
	return nil
}
