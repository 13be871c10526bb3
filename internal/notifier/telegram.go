package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token string
	// Chats maps a user id to a chat id.
	Chats map[string]int64
	// ThreadID posts into a forum topic when non-zero.
	ThreadID int
}

// telegramSender is the part of *tele.Bot the sink uses.
type telegramSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSink sends notifications to users' Telegram chats.
type TelegramSink struct {
	bot      telegramSender
	chats    map[string]int64
	threadID int
}

// NewTelegramSink creates an offline bot: it only sends and never polls.
func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return newTelegramSink(b, cfg), nil
}

func newTelegramSink(bot telegramSender, cfg TelegramConfig) *TelegramSink {
	chats := make(map[string]int64, len(cfg.Chats))
	for user, chat := range cfg.Chats {
		chats[user] = chat
	}
	return &TelegramSink{bot: bot, chats: chats, threadID: cfg.ThreadID}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, n Notification) error {
	chatID, ok := s.chats[n.UserID]
	if !ok {
		return ErrNoRoute
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(&tele.Chat{ID: chatID}, n.Text(), &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              s.threadID,
	})
	return err
}
