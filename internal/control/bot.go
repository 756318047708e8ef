// Package control is the operator's command surface: a Telegram bot that
// reports status and flips the monitoring flags.
package control

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mikeyg42/camwatch/internal/motion"
	"github.com/mikeyg42/camwatch/internal/state"
)

const (
	accessDenied = "Access denied."

	cbMonitoringOn  = "toggle_monitoring_on"
	cbMonitoringOff = "toggle_monitoring_off"
	cbModePhoto     = "set_mode_photo"
	cbModeVideo     = "set_mode_video"

	pollTimeoutSeconds = 30
)

// BotAPI is the part of *tgbotapi.BotAPI the bot needs.
type BotAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// LoopStatus is what /status reports about the detection loop.
type LoopStatus struct {
	State     string
	Recording bool
	Stats     motion.Stats
}

type Bot struct {
	api     BotAPI
	state   *state.State
	allowed map[int64]bool
	status  func() LoopStatus
	logger  *zap.Logger
}

// NewBot wires the bot to the shared state. status may be nil, in which
// case /status reports the flags only.
func NewBot(api BotAPI, st *state.State, allowedIDs []int64, status func() LoopStatus, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.L()
	}
	return &Bot{
		api:     api,
		state:   st,
		allowed: lo.Associate(allowedIDs, func(id int64) (int64, bool) { return id, true }),
		status:  status,
		logger:  logger.Named("control"),
	}
}

// Run long-polls for updates until ctx is cancelled. Updates queued while
// the agent was down are dropped.
func (b *Bot) Run(ctx context.Context) error {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		b.logger.Warn("Failed to drop pending updates", zap.Error(err))
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Bot polling started", zap.Int("allowed_users", len(b.allowed)))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Bot polling stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			b.HandleUpdate(upd)
		}
	}
}

// HandleUpdate dispatches a single update.
func (b *Bot) HandleUpdate(upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(upd.CallbackQuery)
	case upd.Message != nil:
		b.handleMessage(upd.Message)
	}
}

func (b *Bot) authorized(u *tgbotapi.User) bool {
	return u != nil && b.allowed[u.ID]
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if !b.authorized(msg.From) {
		b.logger.Warn("Access denied", zap.Int64("user_id", msg.From.ID), zap.String("user", fullName(msg.From)))
		b.send(tgbotapi.NewMessage(msg.Chat.ID, accessDenied))
		return
	}
	if !msg.IsCommand() {
		return
	}

	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		greeting := tgbotapi.NewMessage(chatID, fmt.Sprintf("Hello, <b>%s</b>!", html.EscapeString(fullName(msg.From))))
		greeting.ParseMode = tgbotapi.ModeHTML
		b.send(greeting)
		b.sendSettings(chatID)
	case "settings":
		b.sendSettings(chatID)
	case "status":
		b.send(tgbotapi.NewMessage(chatID, b.statusReport()))
	default:
		b.send(tgbotapi.NewMessage(chatID, "Unknown command. Try /settings or /status."))
	}
}

func (b *Bot) handleCallback(cq *tgbotapi.CallbackQuery) {
	if !b.authorized(cq.From) {
		if cq.From != nil {
			b.logger.Warn("Access denied", zap.Int64("user_id", cq.From.ID), zap.String("user", fullName(cq.From)))
		}
		b.answer(tgbotapi.NewCallbackWithAlert(cq.ID, accessDenied))
		return
	}

	var reply string
	switch cq.Data {
	case cbMonitoringOn, cbMonitoringOff:
		on := cq.Data == cbMonitoringOn
		b.state.SetMonitoring(on)
		reply = "Monitoring " + lo.Ternary(on, "enabled", "disabled")
		b.logger.Info("Monitoring changed", zap.Bool("active", on), zap.Int64("user_id", cq.From.ID))
	case cbModePhoto, cbModeVideo:
		mode, _ := state.ParseMode(strings.TrimPrefix(cq.Data, "set_mode_"))
		b.state.SetMode(mode)
		reply = "Mode set to " + mode.String()
		b.logger.Info("Mode changed", zap.Stringer("mode", mode), zap.Int64("user_id", cq.From.ID))
	default:
		b.answer(tgbotapi.NewCallback(cq.ID, "Unknown action"))
		return
	}

	if cq.Message != nil && cq.Message.Chat != nil {
		edit := tgbotapi.NewEditMessageTextAndMarkup(cq.Message.Chat.ID, cq.Message.MessageID, b.settingsText(), b.keyboard())
		edit.ParseMode = tgbotapi.ModeHTML
		b.send(edit)
	}
	b.answer(tgbotapi.NewCallback(cq.ID, reply))
}

func (b *Bot) sendSettings(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, b.settingsText())
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = b.keyboard()
	b.send(msg)
}

func (b *Bot) settingsText() string {
	snap := b.state.Snapshot()
	return fmt.Sprintf("Monitoring: <b>%s</b>\nMode: <b>%s</b>",
		onOff(snap.MonitoringActive), strings.ToUpper(snap.Mode.String()))
}

func (b *Bot) keyboard() tgbotapi.InlineKeyboardMarkup {
	snap := b.state.Snapshot()
	toggle := tgbotapi.NewInlineKeyboardButtonData("Enable monitoring", cbMonitoringOn)
	if snap.MonitoringActive {
		toggle = tgbotapi.NewInlineKeyboardButtonData("Disable monitoring", cbMonitoringOff)
	}
	photo := "📸 Photo mode" + lo.Ternary(snap.Mode == state.ModePhoto, " ✅", "")
	video := "📹 Video mode" + lo.Ternary(snap.Mode == state.ModeVideo, " ✅", "")

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(toggle),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(photo, cbModePhoto),
			tgbotapi.NewInlineKeyboardButtonData(video, cbModeVideo),
		),
	)
}

func (b *Bot) statusReport() string {
	snap := b.state.Snapshot()
	lines := []string{
		"Monitoring: " + onOff(snap.MonitoringActive),
		"Mode: " + strings.ToUpper(snap.Mode.String()),
	}
	if b.status != nil {
		ls := b.status()
		lines = append(lines,
			"Loop: "+ls.State,
			"Recording: "+lo.Ternary(ls.Recording, "yes", "no"),
			fmt.Sprintf("Frames processed: %d (motion: %d)", ls.Stats.FramesProcessed, ls.Stats.MotionFrames),
		)
		if !ls.Stats.LastMotionTime.IsZero() {
			lines = append(lines, "Last motion: "+ls.Stats.LastMotionTime.Format(time.DateTime))
		}
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.logger.Warn("Failed to send bot reply", zap.Error(err))
	}
}

func (b *Bot) answer(cb tgbotapi.CallbackConfig) {
	if _, err := b.api.Request(cb); err != nil {
		b.logger.Debug("Failed to answer callback", zap.Error(err))
	}
}

func onOff(v bool) string {
	return lo.Ternary(v, "ON", "OFF")
}

func fullName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}
