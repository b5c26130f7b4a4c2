package channels_test

import (
	"testing"

	"github.com/kavyleancoder/meepo/internal/channels"
)

// Compile-time interface checks.
var _ channels.Channel = (*channels.TelegramChannel)(nil)
var _ channels.Channel = (*channels.DiscordChannel)(nil)

func TestTelegramChannel_Name(t *testing.T) {
	ch := channels.NewTelegramChannel("fake-token", nil, nil, nil)
	if got := ch.Name(); got != "telegram" {
		t.Fatalf("TelegramChannel.Name() = %q, want %q", got, "telegram")
	}
}

func TestTelegramChannel_AllowlistEmpty(t *testing.T) {
	ch := channels.NewTelegramChannel("fake-token", []int64{}, nil, nil)
	if ch == nil {
		t.Fatal("expected non-nil TelegramChannel with empty allowlist")
	}
}

func TestTelegramChannel_AllowlistPopulated(t *testing.T) {
	ids := []int64{123, 456, 789}
	ch := channels.NewTelegramChannel("fake-token", ids, nil, nil)
	if ch == nil {
		t.Fatal("expected non-nil TelegramChannel with populated allowlist")
	}
	if got := ch.Name(); got != "telegram" {
		t.Fatalf("TelegramChannel.Name() = %q, want %q", got, "telegram")
	}
}

func TestTelegramChannel_SendRejectsMissingBot(t *testing.T) {
	ch := channels.NewTelegramChannel("fake-token", nil, nil, nil)
	if err := ch.Send(nil, "123", "hi"); err == nil {
		t.Fatal("expected Send to fail before Start has run")
	}
}

func TestTelegramChannel_SendRejectsInvalidChatID(t *testing.T) {
	ch := channels.NewTelegramChannel("fake-token", nil, nil, nil)
	if err := ch.Send(nil, "not-a-number", "hi"); err == nil {
		t.Fatal("expected Send to reject a non-numeric chat id")
	}
}

func TestDiscordChannel_Name(t *testing.T) {
	ch, err := channels.NewDiscordChannel("fake-token", nil, nil, nil)
	if err != nil {
		t.Fatalf("NewDiscordChannel: %v", err)
	}
	if got := ch.Name(); got != "discord" {
		t.Fatalf("DiscordChannel.Name() = %q, want %q", got, "discord")
	}
}
