package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"whm-backup/internal/backup"
)

//go:embed templates/*.html
var templateFS embed.FS

// EmailSink mails an HTML run report over SMTP.
type EmailSink struct {
	config    backup.EmailConfig
	templates *template.Template
	logger    zerolog.Logger
	// send is replaced in tests.
	send func(ctx context.Context, to []string, msg []byte) error
}

// NewEmailSink validates cfg and parses the report template.
func NewEmailSink(cfg backup.EmailConfig, logger zerolog.Logger) (*EmailSink, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"human":  backup.HumanMB,
		"failed": func(o backup.Outcome) bool { return o.Failed() },
		"join":   strings.Join,
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}

	s := &EmailSink{
		config:    cfg,
		templates: tmpl,
		logger:    logger.With().Str("component", "email").Logger(),
	}
	s.send = s.deliver
	return s, nil
}

func (s *EmailSink) Name() string { return "email" }

// Subject is the mail subject for report.
func Subject(report *backup.RunReport) string {
	status := "OK"
	if !report.Succeeded() {
		status = "FAILED"
	}
	host := report.Host
	if host == "" {
		host = "unknown host"
	}
	return fmt.Sprintf("[%s] WHM %s %s on %s", status, report.Kind, report.RunID, host)
}

func (s *EmailSink) Deliver(ctx context.Context, report *backup.RunReport) error {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, "report.html", report); err != nil {
		return fmt.Errorf("execute template report.html: %w", err)
	}

	msg := s.buildMessage(Subject(report), body.String())
	if err := s.send(ctx, s.config.To, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	s.logger.Info().Strs("to", s.config.To).Str("run_id", report.RunID).Msg("Report emailed")
	return nil
}

func (s *EmailSink) buildMessage(subject, htmlBody string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", s.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(s.config.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(htmlBody)
	return buf.Bytes()
}

func (s *EmailSink) deliver(ctx context.Context, to []string, msg []byte) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	if !s.config.TLS {
		var auth smtp.Auth
		if s.config.Username != "" {
			auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		}
		return smtp.SendMail(addr, auth, s.config.From, to, msg)
	}

	dialer := &tls.Dialer{Config: &tls.Config{ServerName: s.config.Host, MinVersion: tls.VersionTLS12}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tls dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Close()

	if s.config.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("smtp rcpt to %s: %w", recipient, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message writer: %w", err)
	}
	return client.Quit()
}
