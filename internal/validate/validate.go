package validate

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mikeyg42/camwatch/internal/config"
)

// placeholderUserID is the example recipient id shipped in sample configs.
const placeholderUserID int64 = 123456789

// -----------------------------------------------------------------------------
// Top-level full-config validation
// -----------------------------------------------------------------------------

type Validator struct {
	errors   []string
	warnings []string
}

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) AddWarning(format string, args ...interface{}) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool    { return len(v.errors) > 0 }
func (v *Validator) Errors() []string   { return v.errors }
func (v *Validator) Warnings() []string { return v.warnings }

// ValidateConfig delegates to per-section validators. Warnings describe
// settings that work but are probably unintended; the caller logs them.
func ValidateConfig(cfg *config.Config) (warnings []string, err error) {
	v := &Validator{}

	validateCameraConfig(v, &cfg.Camera)
	validateMotionConfig(v, &cfg.Motion)
	validateCaptureConfig(v, cfg)
	validateLoopConfig(v, &cfg.Loop)
	validateStorageConfig(v, &cfg.Storage)
	validateTelegramConfig(v, &cfg.Telegram)
	validateMQTTConfig(v, &cfg.MQTT)
	validateArchiveConfig(v, &cfg.Archive)
	validateLogConfig(v, &cfg.Log)

	if v.HasErrors() {
		return v.Warnings(), fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return v.Warnings(), nil
}

// -----------------------------------------------------------------------------
// Sections
// -----------------------------------------------------------------------------

func validateCameraConfig(v *Validator, cfg *config.CameraConfig) {
	if cfg.Index < 0 {
		v.AddError("camera index must be >= 0, got %d", cfg.Index)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		v.AddError("invalid frame dimensions: width=%d height=%d", cfg.Width, cfg.Height)
		return
	}
	if cfg.Width > 4096 || cfg.Height > 4096 {
		v.AddError("frame dimensions too large: %dx%d (max 4096x4096)", cfg.Width, cfg.Height)
	}
}

func validateMotionConfig(v *Validator, cfg *config.MotionConfig) {
	if cfg.MinContourArea <= 0 {
		v.AddError("minimum contour area must be positive")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 255 {
		v.AddError("threshold must be 0..255")
	}
	if cfg.BlurSize%2 == 0 || cfg.BlurSize < 3 {
		v.AddError("blur size must be odd and >=3")
	}
	if cfg.DilateIterations < 0 {
		v.AddError("dilate iterations must be >= 0")
	}
}

func validateCaptureConfig(v *Validator, cfg *config.Config) {
	if cfg.Photo.CooldownSeconds < 0 {
		v.AddError("photo cooldown must be >= 0 seconds")
	}
	if cfg.Video.FPS <= 0 || cfg.Video.FPS > 120 {
		v.AddError("invalid video fps: %d (1-120)", cfg.Video.FPS)
	}
	if cfg.Video.NoMotionStopDelaySecond < 0 {
		v.AddError("no-motion stop delay must be >= 0 seconds")
	}
	if len(cfg.Video.Codec) != 4 {
		v.AddError("video codec must be a four character code, got %q", cfg.Video.Codec)
	}
	if strings.TrimSpace(cfg.Video.Extension) == "" || strings.ContainsAny(cfg.Video.Extension, "./\\") {
		v.AddError("invalid video extension: %q", cfg.Video.Extension)
	}
}

func validateLoopConfig(v *Validator, cfg *config.LoopConfig) {
	if cfg.TickInterval <= 0 {
		v.AddError("loop tick interval must be positive")
	} else if cfg.TickInterval > time.Second {
		v.AddWarning("loop tick interval %s will drop frames while recording", cfg.TickInterval)
	}
	if cfg.IdleInterval <= 0 {
		v.AddError("loop idle interval must be positive")
	}
	if cfg.BroadcastTimeout <= 0 {
		v.AddError("broadcast timeout must be positive")
	}
}

func validateStorageConfig(v *Validator, cfg *config.StorageConfig) {
	if !isValidDirectoryPath(cfg.ScreenshotDir) {
		v.AddError("invalid screenshot dir: %q", cfg.ScreenshotDir)
	}
	if !isValidDirectoryPath(cfg.VideoDir) {
		v.AddError("invalid video dir: %q", cfg.VideoDir)
	}
	if cfg.ScreenshotDir != "" && filepath.Clean(cfg.ScreenshotDir) == filepath.Clean(cfg.VideoDir) {
		v.AddError("screenshot and video dirs must differ, both are %q", cfg.VideoDir)
	}
	if cfg.MaxStorageMB <= 0 {
		v.AddError("max storage must be positive, got %d MB", cfg.MaxStorageMB)
	}
	if cfg.CleanupInterval < 0 {
		v.AddError("cleanup interval must be >= 0")
	} else if cfg.CleanupInterval > 0 && cfg.CleanupInterval < 10*time.Second {
		v.AddWarning("cleanup interval %s is very short", cfg.CleanupInterval)
	}
}

func validateTelegramConfig(v *Validator, cfg *config.TelegramConfig) {
	if cfg.Token == "" || cfg.Token == "YOUR_TELEGRAM_BOT_TOKEN" {
		v.AddError("telegram bot token is not set (TELEGRAM_BOT_TOKEN)")
	}
	if len(cfg.AllowedUserIDs) == 0 {
		v.AddWarning("allowed user list is empty: nobody can control the camera or receive alerts")
	}
	for _, id := range cfg.AllowedUserIDs {
		if id == placeholderUserID {
			v.AddWarning("allowed user list contains the example id %d", placeholderUserID)
			break
		}
	}
	if cfg.SendAttempts < 1 {
		v.AddError("telegram send attempts must be >= 1")
	}
}

func validateMQTTConfig(v *Validator, cfg *config.MQTTConfig) {
	if !cfg.Enabled {
		return
	}
	validateHostPort(v, "mqtt broker", cfg.Broker)
	if strings.TrimSpace(cfg.Topic) == "" {
		v.AddError("mqtt topic cannot be empty")
	}
	if strings.ContainsAny(cfg.Topic, "+#") {
		v.AddError("mqtt topic must not contain wildcards: %q", cfg.Topic)
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		v.AddError("mqtt qos must be 0, 1 or 2")
	}
}

func validateArchiveConfig(v *Validator, cfg *config.ArchiveConfig) {
	if !cfg.Enabled {
		return
	}
	validateHostPort(v, "archive endpoint", cfg.Endpoint)
	if cfg.Bucket == "" {
		v.AddError("archive bucket is required when the archive is enabled")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		v.AddError("archive access key and secret key are required")
	}
	if cfg.QueueSize < 1 {
		v.AddError("archive queue size must be >= 1")
	}
}

func validateLogConfig(v *Validator, cfg *config.LogConfig) {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.AddError("invalid log level: %s (must be debug, info, warn or error)", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "console":
	default:
		v.AddError("invalid log format: %s (must be json or console)", cfg.Format)
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func validateHostPort(v *Validator, name, addr string) {
	if addr == "" {
		v.AddError("%s cannot be empty", name)
		return
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		v.AddError("%s must be host:port: %v", name, err)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		v.AddError("invalid port in %s: %s", name, portStr)
	}
}

func isValidDirectoryPath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00")
}
