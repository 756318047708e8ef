package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Motion   MotionConfig   `yaml:"motion"`
	Photo    PhotoConfig    `yaml:"photo"`
	Video    VideoConfig    `yaml:"video"`
	Loop     LoopConfig     `yaml:"loop"`
	Storage  StorageConfig  `yaml:"storage"`
	Presence PresenceConfig `yaml:"presence"`
	Telegram TelegramConfig `yaml:"telegram"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Log      LogConfig      `yaml:"log"`
}

type CameraConfig struct {
	Index  int `yaml:"index" env:"CAMERA_INDEX"`
	Width  int `yaml:"width" env:"FRAME_WIDTH"`
	Height int `yaml:"height" env:"FRAME_HEIGHT"`
}

// MotionConfig tunes the frame-differencing detector.
type MotionConfig struct {
	MinContourArea   int `yaml:"min_contour_area" env:"MIN_CONTOUR_AREA"`
	BlurSize         int `yaml:"blur_size" env:"MOTION_BLUR_SIZE"`
	Threshold        int `yaml:"threshold" env:"MOTION_THRESHOLD"`
	DilateIterations int `yaml:"dilate_iterations" env:"MOTION_DILATE_ITERATIONS"`
}

type PhotoConfig struct {
	CooldownSeconds int `yaml:"cooldown_seconds" env:"PHOTO_COOLDOWN_PERIOD"`
}

func (p PhotoConfig) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

type VideoConfig struct {
	FPS                     int    `yaml:"fps" env:"VIDEO_FPS"`
	NoMotionStopDelaySecond int    `yaml:"no_motion_stop_delay_seconds" env:"VIDEO_NO_MOTION_STOP_DELAY"`
	Codec                   string `yaml:"codec" env:"VIDEO_CODEC"`
	Extension               string `yaml:"extension" env:"VIDEO_EXTENSION"`
}

func (v VideoConfig) StopDelay() time.Duration {
	return time.Duration(v.NoMotionStopDelaySecond) * time.Second
}

// LoopConfig paces the detection loop.
type LoopConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval" env:"LOOP_TICK_INTERVAL"`
	IdleInterval     time.Duration `yaml:"idle_interval" env:"LOOP_IDLE_INTERVAL"`
	BroadcastTimeout time.Duration `yaml:"broadcast_timeout" env:"LOOP_BROADCAST_TIMEOUT"`
}

type StorageConfig struct {
	ScreenshotDir   string        `yaml:"screenshot_dir" env:"SCREENSHOT_DIR"`
	VideoDir        string        `yaml:"video_dir" env:"VIDEO_RECORD_PATH"`
	MaxStorageMB    int           `yaml:"max_storage_mb" env:"MAX_STORAGE_MB"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"STORAGE_CLEANUP_INTERVAL"`
}

// PerDirQuotaMB is the share of the global quota each artifact dir gets.
func (s StorageConfig) PerDirQuotaMB() float64 {
	return float64(s.MaxStorageMB) / 2
}

type PresenceConfig struct {
	Enabled     bool   `yaml:"enabled" env:"PRESENCE_ENABLED"`
	FaceCascade string `yaml:"face_cascade" env:"PRESENCE_FACE_CASCADE"`
}

type TelegramConfig struct {
	Token          string `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	AllowedUserIDs IDList `yaml:"allowed_user_ids" env:"ALLOWED_USER_IDS"`
	SendAttempts   int    `yaml:"send_attempts" env:"TELEGRAM_SEND_ATTEMPTS"`
	Debug          bool   `yaml:"debug" env:"TELEGRAM_DEBUG"`
}

// IDList is a list of chat ids. As text it is comma separated; blanks
// around items and empty items are ignored, so "111, 222," is [111 222].
type IDList []int64

func (l *IDList) UnmarshalText(text []byte) error {
	ids := IDList{}
	for _, item := range strings.Split(string(text), ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", item, err)
		}
		ids = append(ids, id)
	}
	*l = ids
	return nil
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" env:"MQTT_ENABLED"`
	Broker   string `yaml:"broker" env:"MQTT_BROKER"`
	Topic    string `yaml:"topic" env:"MQTT_TOPIC"`
	ClientID string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	Username string `yaml:"username" env:"MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_PASSWORD"`
	QoS      int    `yaml:"qos" env:"MQTT_QOS"`
}

// ArchiveConfig configures the optional offsite copy of alert artifacts.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ARCHIVE_ENABLED"`
	Endpoint  string `yaml:"endpoint" env:"ARCHIVE_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ARCHIVE_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"ARCHIVE_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"ARCHIVE_BUCKET"`
	Region    string `yaml:"region" env:"ARCHIVE_REGION"`
	UseSSL    bool   `yaml:"use_ssl" env:"ARCHIVE_USE_SSL"`
	QueueSize int    `yaml:"queue_size" env:"ARCHIVE_QUEUE_SIZE"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			Index:  0,
			Width:  640,
			Height: 480,
		},
		Motion: MotionConfig{
			MinContourArea:   1000,
			BlurSize:         21,
			Threshold:        25,
			DilateIterations: 2,
		},
		Photo: PhotoConfig{
			CooldownSeconds: 30,
		},
		Video: VideoConfig{
			FPS:                     15,
			NoMotionStopDelaySecond: 5,
			Codec:                   "mp4v",
			Extension:               "mp4",
		},
		Loop: LoopConfig{
			TickInterval:     50 * time.Millisecond,
			IdleInterval:     time.Second,
			BroadcastTimeout: 2 * time.Minute,
		},
		Storage: StorageConfig{
			ScreenshotDir: "motion_screenshots",
			VideoDir:      "motion_videos",
			MaxStorageMB:  500,
		},
		Presence: PresenceConfig{
			Enabled: true,
		},
		Telegram: TelegramConfig{
			SendAttempts: 3,
		},
		MQTT: MQTTConfig{
			Broker:   "localhost:1883",
			Topic:    "camwatch/alerts",
			ClientID: "camwatch",
			QoS:      1,
		},
		Archive: ArchiveConfig{
			Bucket:    "camwatch",
			QueueSize: 32,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, then the optional YAML file
// at path, then environment variables. Variables in the dotenv file are
// used when the process environment does not set them. Empty paths are
// skipped, and a missing dotenv file is not an error.
func Load(path, dotenv string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	environ, err := environment(dotenv)
	if err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}

// environment merges the dotenv file under the process environment.
func environment(dotenv string) (map[string]string, error) {
	merged := map[string]string{}
	if dotenv != "" {
		vars, err := godotenv.Read(dotenv)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", dotenv, err)
		}
		for k, v := range vars {
			merged[k] = v
		}
	}
	for k, v := range env.ToMap(os.Environ()) {
		merged[k] = v
	}
	return merged, nil
}
