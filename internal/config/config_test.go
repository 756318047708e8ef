package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Motion.MinContourArea != 1000 {
		t.Errorf("expected default min area 1000, got %d", cfg.Motion.MinContourArea)
	}
	if cfg.Photo.Cooldown() != 30*time.Second {
		t.Errorf("expected 30s cooldown, got %s", cfg.Photo.Cooldown())
	}
	if cfg.Storage.PerDirQuotaMB() != 250 {
		t.Errorf("expected 250MB per dir, got %v", cfg.Storage.PerDirQuotaMB())
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camwatch.yaml")
	data := []byte(`
camera:
  index: 2
photo:
  cooldown_seconds: 10
video:
  fps: 20
telegram:
  token: from-file
  allowed_user_ids: [1, 2]
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("ALLOWED_USER_IDS", "7,8,9")
	t.Setenv("VIDEO_NO_MOTION_STOP_DELAY", "12")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Camera.Index != 2 {
		t.Errorf("expected camera index from file, got %d", cfg.Camera.Index)
	}
	if cfg.Video.FPS != 20 {
		t.Errorf("expected fps from file, got %d", cfg.Video.FPS)
	}
	if cfg.Photo.CooldownSeconds != 10 {
		t.Errorf("expected cooldown from file, got %d", cfg.Photo.CooldownSeconds)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Errorf("env should override file token, got %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AllowedUserIDs) != 3 || cfg.Telegram.AllowedUserIDs[2] != 9 {
		t.Errorf("expected ids from env, got %v", cfg.Telegram.AllowedUserIDs)
	}
	if cfg.Video.StopDelay() != 12*time.Second {
		t.Errorf("expected 12s stop delay, got %s", cfg.Video.StopDelay())
	}
	// untouched defaults survive both layers
	if cfg.Storage.MaxStorageMB != 500 {
		t.Errorf("expected default quota, got %d", cfg.Storage.MaxStorageMB)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), ""); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("MIN_CONTOUR_AREA", "lots")
	if _, err := Load("", ""); err == nil {
		t.Fatal("expected error for non-numeric env value")
	}
}

func TestLoadAllowedUserIDs(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  []int64
	}{
		{"plain", "111,222", []int64{111, 222}},
		{"spaces after commas", "111, 222", []int64{111, 222}},
		{"trailing comma", "111,222,", []int64{111, 222}},
		{"blank items", " 111 ,, 222 , ", []int64{111, 222}},
		{"only separators", ",", []int64{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ALLOWED_USER_IDS", tc.value)
			cfg, err := Load("", "")
			if err != nil {
				t.Fatalf("Failed to load config: %v", err)
			}
			if !reflect.DeepEqual([]int64(cfg.Telegram.AllowedUserIDs), tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, cfg.Telegram.AllowedUserIDs)
			}
		})
	}
}

func TestLoadAllowedUserIDsRejectsGarbage(t *testing.T) {
	t.Setenv("ALLOWED_USER_IDS", "111,bob")
	if _, err := Load("", ""); err == nil {
		t.Fatal("expected error for non-numeric user id")
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	data := []byte("TELEGRAM_BOT_TOKEN=from-dotenv\nALLOWED_USER_IDS=\"5, 6\"\nVIDEO_FPS=24\n")
	if err := os.WriteFile(dotenv, data, 0o600); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}
	t.Setenv("VIDEO_FPS", "30")

	cfg, err := Load("", dotenv)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Telegram.Token != "from-dotenv" {
		t.Errorf("expected token from env file, got %q", cfg.Telegram.Token)
	}
	if !reflect.DeepEqual([]int64(cfg.Telegram.AllowedUserIDs), []int64{5, 6}) {
		t.Errorf("expected ids from env file, got %v", cfg.Telegram.AllowedUserIDs)
	}
	if cfg.Video.FPS != 30 {
		t.Errorf("process environment should win over env file, got fps %d", cfg.Video.FPS)
	}
}

func TestLoadMissingDotenvIsIgnored(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Video.FPS != 15 {
		t.Fatalf("expected default fps, got %d", cfg.Video.FPS)
	}
}
