package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "trackspeed/pkg/logx"
)

// TelegramConfig selects the bot and chat used for alert messages.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (tests, self-hosted API servers).
	APIURL string
}

// Telegram posts notifications to one chat. The bot is created offline:
// no getMe round-trip happens until the first message is sent.
type Telegram struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
	simulate bool
	out      io.Writer
}

func NewTelegram(cfg TelegramConfig, simulate bool, out io.Writer) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if out == nil {
		out = logx.Stdout()
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:      b,
		chat:     &tele.Chat{ID: cfg.ChatID},
		threadID: cfg.ThreadID,
		simulate: simulate,
		out:      out,
	}, nil
}

// Notify sends Subject and Body as one text message; msg.To is not used, the
// chat comes from the config. The Bot API client has its own timeout and
// does not take a context.
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	text := msg.Subject + "\n\n" + msg.Body
	if t.simulate {
		_, err := fmt.Fprintf(t.out, "Would be sending Telegram message to chat %d:\n%s\n", t.chat.ID, text)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{
		ThreadID:              t.threadID,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("%w: telegram: %w", ErrSend, err)
	}
	return nil
}
