package notify

import (
	"fmt"
	"log"

	"github.com/OrtobomPatricio/crmpro/pkg/config"
	"gopkg.in/gomail.v2"
)

// Notifier sends operational emails. When no SMTP host is configured it
// degrades to a no-op so local setups run without a mail server.
type Notifier struct {
	dialer *gomail.Dialer
	from   string
}

func New(cfg *config.Config) *Notifier {
	if cfg.SMTPHost == "" {
		log.Printf("[Notify] SMTP not configured, email notifications disabled")
		return &Notifier{}
	}

	return &Notifier{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
		from:   cfg.SMTPFrom,
	}
}

// Enabled reports whether a mail transport is configured
func (n *Notifier) Enabled() bool {
	return n.dialer != nil
}

// Send delivers a plain text email to a single recipient
func (n *Notifier) Send(to, subject, body string) error {
	if n.dialer == nil || to == "" {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// CampaignCompleted notifies that a broadcast finished
func (n *Notifier) CampaignCompleted(to, campaignName string, sent, failed int) {
	if n.dialer == nil || to == "" {
		return
	}

	subject := fmt.Sprintf("Campaign finished: %s", campaignName)
	body := fmt.Sprintf("The campaign %q has finished.\n\nSent: %d\nFailed: %d\n", campaignName, sent, failed)

	if err := n.Send(to, subject, body); err != nil {
		log.Printf("[Notify] Failed to send completion email: %v", err)
	}
}
