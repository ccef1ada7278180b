package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type smtpSession struct {
	commands []string
	data     string
}

// serveFakeSMTP speaks just enough SMTP for net/smtp's client.
func serveFakeSMTP(conn net.Conn, done chan<- smtpSession) {
	defer conn.Close()
	var session smtpSession
	defer func() { done <- session }()

	tp := textproto.NewConn(conn)
	tp.PrintfLine("220 fake ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		session.commands = append(session.commands, line)

		switch {
		case strings.HasPrefix(line, "EHLO"):
			tp.PrintfLine("250-fake")
			tp.PrintfLine("250 HELP")
		case strings.HasPrefix(line, "MAIL FROM"), strings.HasPrefix(line, "RCPT TO"):
			tp.PrintfLine("250 OK")
		case line == "DATA":
			tp.PrintfLine("354 go ahead")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			session.data = string(data)
			tp.PrintfLine("250 queued")
		case line == "QUIT":
			tp.PrintfLine("221 bye")
			return
		default:
			tp.PrintfLine("500 unrecognized")
		}
	}
}

func TestSMTPNotifier(t *testing.T) {
	t.Run("delivers reset link", func(t *testing.T) {
		n := NewSMTPNotifier(SMTPConfig{Host: "mail.example.com", Port: 465, From: "noreply@example.com"})

		done := make(chan smtpSession, 1)
		var dialedAddr, serverName string
		n.dialTLS = func(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error) {
			dialedAddr, serverName = addr, cfg.ServerName
			client, server := net.Pipe()
			go serveFakeSMTP(server, done)
			return client, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		link := "https://app.example.com/reset-password?token=abc123"
		require.NoError(t, n.SendPasswordReset(ctx, "user@example.com", link))

		session := <-done
		assert.Equal(t, "mail.example.com:465", dialedAddr)
		assert.Equal(t, "mail.example.com", serverName)
		assert.Contains(t, session.commands, "MAIL FROM:<noreply@example.com>")
		assert.Contains(t, session.commands, "RCPT TO:<user@example.com>")
		assert.Contains(t, session.data, "Subject: Reset your password")
		assert.Contains(t, session.data, link)
	})

	t.Run("dial failure is wrapped", func(t *testing.T) {
		n := NewSMTPNotifier(SMTPConfig{Host: "mail.example.com", Port: 465, Username: "u@example.com"})
		n.dialTLS = func(ctx context.Context, addr string, cfg *tls.Config) (net.Conn, error) {
			return nil, errors.New("connection refused")
		}

		err := n.SendPasswordReset(context.Background(), "user@example.com", "link")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp send")
	})

	t.Run("from defaults to username", func(t *testing.T) {
		n := NewSMTPNotifier(SMTPConfig{Host: "h", Username: "sender@example.com"})
		assert.Equal(t, "sender@example.com", n.cfg.From)
	})
}

func TestBuildResetMessage(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := string(buildResetMessage("from@example.com", "to@example.com", "https://x/reset?token=t", now))

	headers, body, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	assert.Contains(t, headers, "From: from@example.com")
	assert.Contains(t, headers, "To: to@example.com")
	assert.Contains(t, headers, "Date: Fri, 02 Jan 2026 03:04:05 +0000")
	assert.Contains(t, headers, "Content-Type: text/plain")
	assert.Contains(t, body, "https://x/reset?token=t")
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = original }()

	link := "https://app.example.com/reset-password?token=secret-value"

	require.NoError(t, NewLogNotifier(false).SendPasswordReset(context.Background(), "alice@example.com", link))
	assert.NotContains(t, buf.String(), "secret-value")
	assert.NotContains(t, buf.String(), "alice@example.com")
	assert.Contains(t, buf.String(), "a****@example.com")

	buf.Reset()
	require.NoError(t, NewLogNotifier(true).SendPasswordReset(context.Background(), "alice@example.com", link))
	assert.Contains(t, buf.String(), "secret-value")
}
