package notify

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// Mailer sends one HTML email.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// SMTPConfig configures the SMTP mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Enabled reports whether SMTP delivery is configured.
func (c SMTPConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.Username) != ""
}

// SMTPMailer delivers mail through an SMTP relay.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

// NewSMTPMailer builds an SMTP client with opportunistic STARTTLS and PLAIN auth.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("notify: smtp not configured")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = `"Lightlink" <contact@lightlink.space>`
	}

	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(timeout),
	)
	if err != nil {
		return nil, err
	}
	return &SMTPMailer{client: client, from: from}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, html string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, html)
	msg.AddAlternativeString(mail.TypeTextPlain, stripTags(html))
	return m.client.DialAndSendWithContext(ctx, msg)
}

// LogMailer only logs. It is used when SMTP is not configured.
type LogMailer struct {
	Log *slog.Logger
}

func (m LogMailer) Send(_ context.Context, to, subject, _ string) error {
	log := m.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("mail.skip", "reason", "smtp_disabled", "to_domain", domainOf(to), "subject", subject)
	return nil
}

var tagRE = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return strings.Join(strings.Fields(tagRE.ReplaceAllString(s, " ")), " ")
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

var loginQuotes = []string{
	"Privacy first, always. - Lightlink",
	"Your data, yours. - Lightlink",
	"What's yours, stays yours. - Lightlink",
}

var loginEmailTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background-color:#18181b;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;color:#ffffff;">
  <div style="max-width:480px;margin:40px auto;background-color:#27272a;border-radius:16px;overflow:hidden;border:1px solid rgba(255,255,255,0.1);">
    <div style="background-color:#000000;padding:24px;text-align:center;">
      <h1 style="margin:0;font-size:24px;font-weight:800;color:#ffffff;">Lightlink</h1>
    </div>
    <div style="padding:32px 24px;text-align:center;">
      <h2 style="margin:0 0 16px;font-size:20px;font-weight:600;">Login Verification</h2>
      <p style="margin:0 0 24px;color:#a1a1aa;font-size:14px;">Enter this code to complete your login. (Expires in {{.Minutes}} minutes)</p>
      <div style="background:rgba(255,255,255,0.05);border-radius:12px;padding:16px;margin-bottom:24px;">
        <span style="font-family:monospace;font-size:32px;font-weight:700;letter-spacing:8px;color:#3b82f6;display:block;">{{.Code}}</span>
      </div>
      <p style="margin:0;color:#71717a;font-size:12px;">If you did not request this, you can safely ignore this email, or change your password if it persists.</p>
    </div>
    <div style="background-color:#000000;padding:16px;text-align:center;">
      <p style="margin:0;color:#52525b;font-size:12px;font-style:italic;">"{{.Quote}}"</p>
    </div>
  </div>
</body>
</html>
`))

// LoginEmail renders the two-factor code email.
func LoginEmail(code string, ttl time.Duration) (string, error) {
	var buf bytes.Buffer
	err := loginEmailTmpl.Execute(&buf, struct {
		Code    string
		Minutes int
		Quote   string
	}{
		Code:    code,
		Minutes: int(ttl / time.Minute),
		Quote:   loginQuotes[rand.IntN(len(loginQuotes))],
	})
	return buf.String(), err
}
