package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibast-solutions/ms-go-credentials/config"
	"gopkg.in/gomail.v2"
)

func TestOutboxNotifierWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	n := NewOutboxNotifier(&buf)

	err := n.Send(context.Background(), "alice@x.com", "Your 2FA Code", "Your verification code is: 123456")
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "alice@x.com", entry["to"])
	assert.Equal(t, "Your 2FA Code", entry["subject"])
	assert.Equal(t, "Your verification code is: 123456", entry["body"])
	assert.Equal(t, "outgoing mail", entry["msg"])
}

func TestOutboxNotifierRejectsEmptyRecipient(t *testing.T) {
	n := NewOutboxNotifier(io.Discard)
	assert.ErrorIs(t, n.Send(context.Background(), "", "s", "b"), ErrEmptyRecipient)
}

func TestOutboxNotifierHonoursCancelledContext(t *testing.T) {
	var buf bytes.Buffer
	n := NewOutboxNotifier(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, n.Send(ctx, "alice@x.com", "s", "b"), context.Canceled)
	assert.Zero(t, buf.Len())
}

func newTestLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func smtpConfig() config.MailConfig {
	return config.MailConfig{
		From:     "no-reply@example.com",
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		SMTPUser: "user",
		SMTPPass: "pass",
		Timeout:  time.Second,
	}
}

func TestSMTPNotifierSendsPlainTextMessage(t *testing.T) {
	var (
		gotFrom string
		gotTo   []string
		gotBody bytes.Buffer
	)
	sender := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		gotFrom = from
		gotTo = to
		_, err := msg.WriteTo(&gotBody)
		return err
	})

	n := NewSMTPNotifier(smtpConfig(), newTestLogger()).WithSender(sender)

	err := n.Send(context.Background(), "alice@x.com", "Password reset", "Use the following token")
	require.NoError(t, err)

	assert.Equal(t, "no-reply@example.com", gotFrom)
	assert.Equal(t, []string{"alice@x.com"}, gotTo)
	raw := gotBody.String()
	assert.Contains(t, raw, "Subject: Password reset")
	assert.Contains(t, raw, "text/plain")
	assert.Contains(t, raw, "Use the following token")
}

func TestSMTPNotifierWrapsTransportError(t *testing.T) {
	boom := errors.New("connection refused")
	sender := gomail.SendFunc(func(string, []string, io.WriterTo) error {
		return boom
	})

	n := NewSMTPNotifier(smtpConfig(), newTestLogger()).WithSender(sender)

	err := n.Send(context.Background(), "alice@x.com", "s", "b")
	assert.ErrorIs(t, err, boom)
}

func TestSMTPNotifierTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	sender := gomail.SendFunc(func(string, []string, io.WriterTo) error {
		<-release
		return nil
	})

	cfg := smtpConfig()
	cfg.Timeout = 20 * time.Millisecond
	n := NewSMTPNotifier(cfg, newTestLogger()).WithSender(sender)

	err := n.Send(context.Background(), "alice@x.com", "s", "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSMTPNotifierRejectsEmptyRecipient(t *testing.T) {
	n := NewSMTPNotifier(smtpConfig(), newTestLogger())
	assert.ErrorIs(t, n.Send(context.Background(), "  ", "s", "b"), ErrEmptyRecipient)
}

func TestNewSelectsTransport(t *testing.T) {
	n, closer, err := New(smtpConfig(), newTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &SMTPNotifier{}, n)
	assert.NoError(t, closer.Close())

	n, closer, err = New(config.MailConfig{}, newTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &OutboxNotifier{}, n)
	assert.NoError(t, closer.Close())
}

func TestNewWritesOutboxFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")

	n, closer, err := New(config.MailConfig{OutboxFile: path}, newTestLogger())
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), "alice@x.com", "Welcome!", "Hello Alice, your account has been created."))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"subject":"Welcome!"`))
}

func TestNewFailsOnUnwritableOutbox(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "outbox.jsonl")

	_, _, err := New(config.MailConfig{OutboxFile: path}, newTestLogger())
	assert.Error(t, err)
}
