// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/pkg/errutil"
)

var testMessage = auth.Message{
	Recipient: "ana@example.com",
	Name:      "Ana",
	Title:     "Your verification code",
	Body:      "Hello Ana,\nYour code is 123456.",
}

func TestLogNotifier_Send(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	require.NoError(t, NewLogNotifier(logger).Send(context.Background(), testMessage))

	out := buf.String()
	assert.Contains(t, out, "recipient=ana@example.com")
	assert.NotContains(t, out, "123456", "body must stay out of info logs")
}

func TestNewSMTPNotifier_Validation(t *testing.T) {
	_, err := NewSMTPNotifier(SMTPConfig{From: "stepup@example.com"})
	errutil.AssertErrorCode(t, err, "SMTP_INVALID_CONFIG")

	_, err = NewSMTPNotifier(SMTPConfig{Host: "mx.example.com", From: "not an address"})
	errutil.AssertErrorCode(t, err, "SMTP_INVALID_CONFIG")

	n, err := NewSMTPNotifier(SMTPConfig{Host: "mx.example.com", From: "Stepup <stepup@example.com>"})
	require.NoError(t, err)
	assert.Equal(t, 587, n.cfg.Port)
	assert.Nil(t, n.auth)
}

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func fakeNotifier(t *testing.T, sendErr error) (*SMTPNotifier, *captured) {
	t.Helper()
	n, err := NewSMTPNotifier(SMTPConfig{
		Host:     "mx.example.com",
		Port:     2525,
		Username: "relay",
		Password: "secret",
		From:     "Stepup <stepup@example.com>",
	})
	require.NoError(t, err)

	got := &captured{}
	n.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }
	n.send = func(_ context.Context, addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		got.addr, got.from, got.to, got.msg = addr, from, to, string(msg)
		return sendErr
	}
	return n, got
}

func TestSMTPNotifier_ComposesMessage(t *testing.T) {
	n, got := fakeNotifier(t, nil)

	require.NoError(t, n.Send(context.Background(), testMessage))

	assert.Equal(t, "mx.example.com:2525", got.addr)
	assert.Equal(t, "stepup@example.com", got.from)
	assert.Equal(t, []string{"ana@example.com"}, got.to)
	assert.Contains(t, got.msg, "From: \"Stepup\" <stepup@example.com>\r\n")
	assert.Contains(t, got.msg, "To: \"Ana\" <ana@example.com>\r\n")
	assert.Contains(t, got.msg, "Subject: Your verification code\r\n")
	assert.Contains(t, got.msg, "Date: Thu, 01 Jan 2026 12:00:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(got.msg, "\r\n\r\nHello Ana,\r\nYour code is 123456."))
}

func TestSMTPNotifier_StripsHeaderInjection(t *testing.T) {
	n, got := fakeNotifier(t, nil)
	msg := testMessage
	msg.Title = "code\r\nBcc: attacker@example.com"

	require.NoError(t, n.Send(context.Background(), msg))

	assert.NotContains(t, got.msg, "\r\nBcc:")
	assert.Contains(t, got.msg, "Subject: code Bcc: attacker@example.com\r\n")
}

func TestSMTPNotifier_Errors(t *testing.T) {
	n, _ := fakeNotifier(t, errors.New("451 try again later"))

	err := n.Send(context.Background(), testMessage)
	errutil.AssertErrorCode(t, err, "SMTP_SEND_FAILED")
	errutil.AssertErrorContext(t, err, "recipient", "ana@example.com")

	bad := testMessage
	bad.Recipient = "nobody"
	err = n.Send(context.Background(), bad)
	errutil.AssertErrorCode(t, err, "SMTP_INVALID_RECIPIENT")
}

// fakeSMTPServer accepts one session and records the DATA payload.
func fakeSMTPServer(t *testing.T) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	data := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

		reply("220 fake ESMTP")
		var body strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					data <- body.String()
					reply("250 queued")
					continue
				}
				body.WriteString(line)
				continue
			}
			switch cmd := strings.ToUpper(strings.Fields(line)[0]); cmd {
			case "EHLO":
				reply("250-fake")
				reply("250 8BITMIME")
			case "MAIL", "RCPT":
				reply("250 ok")
			case "DATA":
				inData = true
				reply("354 go ahead")
			case "QUIT":
				reply("221 bye")
				return
			default:
				reply("502 unknown")
			}
		}
	}()
	return ln.Addr().String(), data
}

func TestSendMail_AgainstFakeServer(t *testing.T) {
	addr, data := fakeSMTPServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sendMail(ctx, addr, nil, "stepup@example.com", []string{"ana@example.com"}, []byte("Subject: hi\r\n\r\nbody"))
	require.NoError(t, err)

	select {
	case got := <-data:
		assert.Contains(t, got, "Subject: hi")
		assert.Contains(t, got, "body")
	case <-time.After(time.Second):
		t.Fatal("server did not receive data")
	}
}

func TestSendMail_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = sendMail(context.Background(), addr, nil, "a@example.com", []string{"b@example.com"}, []byte("x"))
	assert.Error(t, err)
}
