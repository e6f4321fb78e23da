package adapter

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"

	"github.com/pushi-dev/pushi/internal/alias"
	"github.com/pushi-dev/pushi/internal/app"
	"github.com/pushi-dev/pushi/internal/config"
	"github.com/pushi-dev/pushi/internal/logger"
)

// smtpConfig is the fully resolved set of connection parameters for one
// send, after applying the app-url / global-url / env-var fallback chain.
type smtpConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	StartTLS bool
	Sender   string
}

// Email delivers events as plain-text email via SMTP. Configuration is
// resolved per App (smtp_url), falling back to a global SMTP_URL and then
// to individual SMTP_* environment variables.
type Email struct {
	*index
	globalURL string
	fallback  config.Config
	getApp    func(ctx context.Context, appID string) (*app.App, error)
	dial      func(addr string) (*smtp.Client, error)
}

// NewEmail creates the email adapter. getApp resolves an App record by ID
// so the per-App smtp_url can be read.
func NewEmail(repo app.Repository, aliases *alias.Map, cfg config.Config, getApp func(ctx context.Context, appID string) (*app.App, error)) *Email {
	return &Email{
		index:     newIndex("email", repo, aliases),
		globalURL: cfg.SMTPURL,
		fallback:  cfg,
		getApp:    getApp,
		dial:      smtp.Dial,
	}
}

func (e *Email) Send(ctx context.Context, appID, channel string, env Envelope) []Result {
	targets := e.targetsFor(appID, channel)
	if len(targets) == 0 {
		return nil
	}

	a, err := e.getApp(ctx, appID)
	if err != nil {
		logger.Adapter().Error().Err(err).Str("app_id", appID).Msg("email: app lookup failed")
		return nil
	}

	cfg, err := e.resolveConfig(a)
	if err != nil {
		logger.Adapter().Warn().Err(err).Str("app_id", appID).Msg("email: skipping send, SMTP not configured")
		return nil
	}

	subject := env.Subject
	if subject == "" {
		subject = fmt.Sprintf("[%s] %s", channel, env.Event)
	}
	body := env.Body
	if body == "" {
		body = string(env.Data)
	}

	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		err := e.sendOne(cfg, t.Target, subject, body)
		results = append(results, Result{Target: t.Target, Err: err})
	}
	logFailures(e.Name(), results)
	return results
}

func (e *Email) sendOne(cfg smtpConfig, to, subject, body string) error {
	headers := map[string]string{
		"From":         cfg.Sender,
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/plain; charset=UTF-8",
	}

	var msg strings.Builder
	for k, v := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}

	if cfg.StartTLS {
		return e.sendSTARTTLS(addr, auth, cfg, to, []byte(msg.String()))
	}
	return smtp.SendMail(addr, auth, cfg.Sender, []string{to}, []byte(msg.String()))
}

func (e *Email) sendSTARTTLS(addr string, auth smtp.Auth, cfg smtpConfig, to string, msg []byte) error {
	client, err := e.dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
		return err
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(cfg.Sender); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// resolveConfig applies the app-url / global-url / env-var fallback chain
// named in spec section 4.4.
func (e *Email) resolveConfig(a *app.App) (smtpConfig, error) {
	if a.SMTPURL != "" {
		return parseSMTPURL(a.SMTPURL)
	}
	if e.globalURL != "" {
		return parseSMTPURL(e.globalURL)
	}

	if e.fallback.SMTPHost == "" {
		return smtpConfig{}, fmt.Errorf("no SMTP host configured")
	}
	port, _ := strconv.Atoi(e.fallback.SMTPPort)
	if port == 0 {
		port = 587
	}
	sender := e.fallback.SMTPSender
	if sender == "" {
		return smtpConfig{}, fmt.Errorf("no SMTP sender configured")
	}
	return smtpConfig{
		Host:     e.fallback.SMTPHost,
		Port:     port,
		User:     e.fallback.SMTPUser,
		Password: e.fallback.SMTPPassword,
		StartTLS: e.fallback.SMTPStartTLS,
		Sender:   sender,
	}, nil
}

// parseSMTPURL parses smtp://[user:password@]host[:port][?sender=email]
// (smtps:// selects STARTTLS).
func parseSMTPURL(raw string) (smtpConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return smtpConfig{}, fmt.Errorf("invalid smtp_url: %w", err)
	}

	cfg := smtpConfig{
		Host:     u.Hostname(),
		StartTLS: u.Scheme == "smtps",
	}
	if cfg.Host == "" {
		return smtpConfig{}, fmt.Errorf("smtp_url missing host")
	}

	port, _ := strconv.Atoi(u.Port())
	if port == 0 {
		port = 587
	}
	cfg.Port = port

	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}

	cfg.Sender = u.Query().Get("sender")
	if cfg.Sender == "" {
		return smtpConfig{}, fmt.Errorf("smtp_url missing ?sender=")
	}

	return cfg, nil
}

