package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/hostel-allocation-api/pkg/config"
)

func TestMessageValidate(t *testing.T) {
	require.Error(t, Message{Subject: "x"}.Validate())
	require.Error(t, Message{To: "a@example.edu"}.Validate())
	require.NoError(t, Message{To: "a@example.edu", Subject: "x"}.Validate())
}

func TestLogSenderLogsMessage(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sender := NewLogSender(zap.New(core))

	require.NoError(t, sender.Send(context.Background(), Message{To: "a@example.edu", Subject: "Bed allocated"}))
	require.Equal(t, 1, logs.FilterMessage("notification").Len())
}

func TestSMTPSenderRejectsCancelledContext(t *testing.T) {
	sender := NewSMTPSender(config.NotificationConfig{SMTPHost: "localhost", SMTPPort: 2525, From: "office@example.edu"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, sender.Send(ctx, Message{To: "a@example.edu", Subject: "x"}), context.Canceled)
}
