package notification

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const defaultRetryInterval = 2 * time.Second

// Sender is the part of *tgbotapi.BotAPI used for alerts.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends alerts to a fixed list of chat ids.
type Telegram struct {
	api           Sender
	recipients    []int64
	attempts      int
	retryInterval time.Duration
	logger        *zap.Logger
}

func NewTelegram(api Sender, recipients []int64, attempts int, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.L()
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Telegram{
		api:           api,
		recipients:    recipients,
		attempts:      attempts,
		retryInterval: defaultRetryInterval,
		logger:        logger.Named("telegram"),
	}
}

// Broadcast sends alert to every recipient concurrently.
func (t *Telegram) Broadcast(ctx context.Context, alert Alert) []Delivery {
	if len(t.recipients) == 0 {
		t.logger.Warn("No recipients configured, alert not sent", zap.String("kind", alert.Kind.String()))
		return nil
	}

	ops := lo.Map(t.recipients, func(id int64, _ int) func(context.Context) error {
		return func(ctx context.Context) error { return t.sendOne(ctx, id, alert) }
	})
	errs := Fanout(ctx, ops)

	deliveries := make([]Delivery, len(t.recipients))
	for i, id := range t.recipients {
		deliveries[i] = Delivery{Recipient: strconv.FormatInt(id, 10), Err: errs[i]}
		if errs[i] != nil {
			t.logger.Warn("Alert delivery failed",
				zap.Int64("chat_id", id),
				zap.String("kind", alert.Kind.String()),
				zap.Error(errs[i]))
		}
	}
	return deliveries
}

func (t *Telegram) sendOne(ctx context.Context, chatID int64, alert Alert) error {
	msg, err := buildMessage(chatID, alert)
	if err != nil {
		return err
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = t.retryInterval
	ebo.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(ebo, uint64(t.attempts-1)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		_, err := t.api.Send(msg)
		if err == nil {
			return nil
		}
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
			return backoff.Permanent(err)
		}
		t.logger.Debug("Send attempt failed",
			zap.Int64("chat_id", chatID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}

func buildMessage(chatID int64, alert Alert) (tgbotapi.Chattable, error) {
	if alert.Kind == KindNone {
		return tgbotapi.NewMessage(chatID, alert.Text), nil
	}
	if _, err := os.Stat(alert.MediaPath); err != nil {
		return nil, fmt.Errorf("attach %s: %w", alert.Kind, err)
	}

	switch alert.Kind {
	case KindPhoto:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(alert.MediaPath))
		photo.Caption = alert.Text
		return photo, nil
	case KindVideo:
		video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(alert.MediaPath))
		video.Caption = alert.Text
		video.SupportsStreaming = true
		return video, nil
	default:
		return nil, fmt.Errorf("unknown alert kind %d", alert.Kind)
	}
}
