package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/metahub/integrationhub/internal/logsink"
)

// SMTPConfig configures the email channel. Grounded on the teacher's
// NotificationService.sendEmail (plain smtp.SendMail, no templating).
type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

// Notifier fans a triggered alert out across a Rule's notify_channels.
// in_app always succeeds (it's just a Log Sink row); email and webhook
// are best-effort and only make it into NotifiedVia when accepted.
type Notifier struct {
	httpClient *http.Client
	smtp       SMTPConfig
	logs       logsink.Sink
}

func NewNotifier(smtpCfg SMTPConfig, logs logsink.Sink) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		smtp:       smtpCfg,
		logs:       logs,
	}
}

// Notify attempts delivery on every channel in rule.NotifyChannels and
// returns the subset that succeeded.
func (n *Notifier) Notify(ctx context.Context, rule *Rule, hist *History) []Channel {
	var notified []Channel
	for _, ch := range rule.NotifyChannels {
		switch ch {
		case ChannelInApp:
			n.notifyInApp(ctx, rule, hist)
			notified = append(notified, ChannelInApp)
		case ChannelEmail:
			if err := n.notifyEmail(rule, hist); err == nil {
				notified = append(notified, ChannelEmail)
			}
		case ChannelWebhook:
			if err := n.notifyWebhook(ctx, rule, hist); err == nil {
				notified = append(notified, ChannelWebhook)
			}
		}
	}
	return notified
}

func (n *Notifier) notifyInApp(ctx context.Context, rule *Rule, hist *History) {
	if n.logs == nil {
		return
	}
	_ = n.logs.Write(ctx, logsink.Entry{
		TenantID: rule.TenantID,
		Level:    logsink.LevelWarn,
		Category: logsink.CategoryAlert,
		Action:   "notify_in_app",
		Message:  fmt.Sprintf("alert %s triggered", rule.Name),
		Metadata: map[string]interface{}{"alert_history_id": hist.ID, "rule_id": rule.ID},
	})
}

func (n *Notifier) notifyEmail(rule *Rule, hist *History) error {
	to := rule.NotifyConfig.EmailTo
	if to == "" || n.smtp.Host == "" {
		return fmt.Errorf("email configuration incomplete")
	}
	subject := fmt.Sprintf("[ALERT] %s", rule.Name)
	body := fmt.Sprintf("Rule: %s\nCondition: %s\nFired at: %s\n", rule.Name, rule.ConditionType, hist.CreatedAt.Format(time.RFC3339))
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", n.smtp.From, to, subject, body)

	addr := n.smtp.Host + ":" + n.smtp.Port
	var auth smtp.Auth
	if n.smtp.Username != "" {
		auth = smtp.PlainAuth("", n.smtp.Username, n.smtp.Password, n.smtp.Host)
	}
	if err := smtp.SendMail(addr, auth, n.smtp.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

func (n *Notifier) notifyWebhook(ctx context.Context, rule *Rule, hist *History) error {
	url := rule.NotifyConfig.WebhookURL
	if url == "" {
		return fmt.Errorf("webhook url not configured")
	}
	body, err := json.Marshal(hist)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send alert webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
