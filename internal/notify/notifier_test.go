package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/riskbot/internal/config"
)

type fakeSender struct {
	name  string
	err   error
	calls []string
}

func (s *fakeSender) Send(_ context.Context, title, _ string) error {
	s.calls = append(s.calls, title)
	return s.err
}

func (s *fakeSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersDisallowedEvents(t *testing.T) {
	sender := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{sender}, []string{"position.opened"}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "position.closed", "t", "m"))
	assert.Empty(t, sender.calls)

	require.NoError(t, n.Notify(context.Background(), "position.opened", "opened", "m"))
	assert.Equal(t, []string{"opened"}, sender.calls)
}

func TestNotifyEmptyEventSetAllowsAll(t *testing.T) {
	sender := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "anything.at.all", "t", "m"))
	assert.Len(t, sender.calls, 1)
}

func TestNotifyAllIgnoresEventFilter(t *testing.T) {
	sender := &fakeSender{name: "tg"}
	n := NewNotifier([]Sender{sender}, []string{"position.opened"}, discardLogger())

	require.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
	assert.Len(t, sender.calls, 1)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	failing := &fakeSender{name: "tg", err: errors.New("timeout")}
	working := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{failing, working}, nil, discardLogger())

	err := n.Notify(context.Background(), "position.opened", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Contains(t, err.Error(), "tg: timeout")
	assert.Len(t, working.calls, 1)
}

func TestNotifierWithNoSendersIsNoOp(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	require.NoError(t, n.Notify(context.Background(), "position.opened", "t", "m"))
}

func TestFromConfigBuildsEnabledSenders(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.NotifyConfig
		want int
	}{
		{"none", config.NotifyConfig{}, 0},
		{"telegram needs both token and chat id", config.NotifyConfig{TelegramToken: "tok"}, 0},
		{"telegram", config.NotifyConfig{TelegramToken: "tok", TelegramChatID: "123"}, 1},
		{"discord", config.NotifyConfig{DiscordWebhookURL: "https://discord.test/hook"}, 1},
		{"both", config.NotifyConfig{
			TelegramToken:     "tok",
			TelegramChatID:    "123",
			DiscordWebhookURL: "https://discord.test/hook",
		}, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := FromConfig(tc.cfg, discardLogger())
			assert.Len(t, n.senders, tc.want)
		})
	}
}
