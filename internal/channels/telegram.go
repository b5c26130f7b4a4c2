package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kavyleancoder/meepo/internal/autonomy"
)

// TelegramChannel implements Channel for Telegram, feeding allowed chats'
// messages into the autonomy loop's incoming queue and delivering its
// replies back out via the bot API.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	incoming   chan<- autonomy.IncomingMessage
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI
}

// NewTelegramChannel creates a new Telegram channel. incoming is the shared
// queue the autonomy loop drains on each tick.
func NewTelegramChannel(token string, allowedIDs []int64, incoming chan<- autonomy.IncomingMessage, logger *slog.Logger) *TelegramChannel {
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		incoming:   incoming,
		logger:     logger,
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		// Always clean up the old polling goroutine before reconnecting.
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// pollUpdates returned nil means ctx was cancelled.
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2.5x the long-poll timeout (stall
// detection). Returns nil on context cancellation, or an error to trigger
// reconnection.
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// tgbotapi uses a 60s long-poll timeout. If we see nothing for 2.5
	// minutes, the connection is likely dead (the library blocks rather
	// than closing the channel).
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message == nil {
				continue
			}
			if _, allowed := t.allowedIDs[update.Message.From.ID]; !allowed {
				t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
				continue
			}
			t.handleMessage(update.Message)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}

	in := autonomy.IncomingMessage{
		Sender:    strconv.FormatInt(msg.From.ID, 10),
		Channel:   fmt.Sprintf("telegram:%d", msg.Chat.ID),
		Content:   content,
		Timestamp: msg.Time(),
	}

	select {
	case t.incoming <- in:
	default:
		t.logger.Warn("telegram incoming queue full, dropping message", "chat_id", msg.Chat.ID)
	}
}

// Send delivers content to target, a Telegram chat ID.
func (t *TelegramChannel) Send(_ context.Context, target, content string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not started")
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", target, err)
	}
	_, err = t.bot.Send(tgbotapi.NewMessage(chatID, content))
	return err
}
