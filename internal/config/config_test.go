package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `{
	"max": {"phone": "+79990000000", "chatId": 12345},
	"telegram": {"token": "123:abc"}
}`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Max.Phone != "+79990000000" {
		t.Errorf("unexpected phone: %q", cfg.Max.Phone)
	}
	if cfg.Max.ChatID != 12345 {
		t.Errorf("unexpected chat id: %d", cfg.Max.ChatID)
	}
	// Defaults fill the rest.
	if cfg.Fetch.MaxAttempts != 3 {
		t.Errorf("expected default maxAttempts 3, got %d", cfg.Fetch.MaxAttempts)
	}
	if cfg.Telegram.ParseMode != "Markdown" {
		t.Errorf("expected default parse mode, got %q", cfg.Telegram.ParseMode)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	if _, err := Load(writeConfig(t, "{not json")); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestLoad_MissingRequiredKeys(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantIn  string
	}{
		{
			name:    "no phone",
			content: `{"max": {"chatId": 1}, "telegram": {"token": "t"}}`,
			wantIn:  "max.phone",
		},
		{
			name:    "no chat id",
			content: `{"max": {"phone": "+7"}, "telegram": {"token": "t"}}`,
			wantIn:  "max.chatId",
		},
		{
			name:    "no token",
			content: `{"max": {"phone": "+7", "chatId": 1}}`,
			wantIn:  "telegram.token",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantIn) {
				t.Errorf("error %q should mention %q", err, tc.wantIn)
			}
		})
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("MAXBRIDGE_TEST_TOKEN", "456:def")
	cfg, err := Load(writeConfig(t, `{
		"max": {"phone": "+7", "chatId": 1},
		"telegram": {"token": "${MAXBRIDGE_TEST_TOKEN}"}
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telegram.Token != "456:def" {
		t.Errorf("env var not expanded: %q", cfg.Telegram.Token)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	got := ExpandEnvVars("${MAXBRIDGE_UNSET_VAR:-fallback}")
	if got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestValidate_FetchBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Max.Phone = "+7"
	cfg.Max.ChatID = 1
	cfg.Telegram.Token = "t"
	cfg.Fetch.MaxAttempts = 0

	if err := Validate(cfg); err == nil {
		t.Error("expected error for maxAttempts = 0")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg := Defaults()
	cfg.Max.Phone = "+79990000000"
	cfg.Max.ChatID = 42
	cfg.Telegram.Token = "123:abc"
	cfg.General.StateFile = filepath.Join(t.TempDir(), "state.json")
	cfg.Max.WorkDir = t.TempDir()

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Max.ChatID != 42 || loaded.Telegram.Token != "123:abc" {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}
