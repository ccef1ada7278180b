package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/formauth/auth-server-go/internal/util"
)

// Notifier delivers password reset links to account owners.
type Notifier interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

const resetSubject = "Reset your password"

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier sends mail over implicit TLS (port 465 style submission).
type SMTPNotifier struct {
	cfg     SMTPConfig
	dialTLS func(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error)
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPNotifier{
		cfg: cfg,
		dialTLS: func(ctx context.Context, addr string, tlsCfg *tls.Config) (net.Conn, error) {
			d := &tls.Dialer{Config: tlsCfg}
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, to, link string) error {
	msg := buildResetMessage(n.cfg.From, to, link, time.Now())
	if err := n.send(ctx, to, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (n *SMTPNotifier) send(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	conn, err := n.dialTLS(ctx, addr, &tls.Config{ServerName: n.cfg.Host})
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(n.cfg.From); err != nil {
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

func buildResetMessage(from, to, link string, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", resetSubject)
	fmt.Fprintf(&b, "Date: %s\r\n", now.UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString("Someone asked to reset the password for this account.\r\n")
	b.WriteString("Open the link below within the next hour to choose a new one:\r\n\r\n")
	b.WriteString(link)
	b.WriteString("\r\n\r\nIf this wasn't you, ignore this message.\r\n")
	return []byte(b.String())
}

// LogNotifier writes reset links to the log instead of sending mail. The link
// carries a live secret, so it is only printed when revealLinks is set.
type LogNotifier struct {
	revealLinks bool
}

func NewLogNotifier(revealLinks bool) *LogNotifier {
	return &LogNotifier{revealLinks: revealLinks}
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, to, link string) error {
	event := log.Info().
		Str("to", util.MaskEmail(to)).
		Str("subject", resetSubject)
	if n.revealLinks {
		event = event.Str("link", link)
	}
	event.Msg("password reset email (not sent: SMTP not configured)")
	return nil
}
