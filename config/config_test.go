package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testYAML = `
chains:
  game:
    http_url: https://rpc.game.example
  randomness:
    http_url: https://rpc.vrf.example
    ws_url: wss://rpc.vrf.example
contracts:
  coin_flip: "0x8A768deEC38363C60477A7046FD4e3236b98a3b0"
  rock_paper_scissors: "0x1111111111111111111111111111111111111111"
  number_guess: "0x6Ad4548EE077821908cD9591168A2636F54498D2"
  vrf_flip_rps: "0x7EEFC42b510dF33097a8AC5EFE9533494ABcA78B"
  vrf_number_guess: "0xE33bEEd4c1C1f5c07d6F3e3c68Ed2a60e7D15EA7"
relayer:
  private_key: "0xabc123"
watcher:
  reconnect_delay: 2s
ledger:
  driver: memory
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Relayer.PrivateKey != "abc123" {
		t.Errorf("expected 0x prefix to be trimmed, got %q", cfg.Relayer.PrivateKey)
	}
	if cfg.Watcher.ReconnectDelay != 2*time.Second {
		t.Errorf("expected reconnect delay 2s, got %v", cfg.Watcher.ReconnectDelay)
	}
	if cfg.Watcher.ReconnectMaxDelay != time.Minute {
		t.Errorf("expected default max delay 1m, got %v", cfg.Watcher.ReconnectMaxDelay)
	}
	if cfg.Chains.Game.PollInterval != 5*time.Second {
		t.Errorf("expected default poll interval 5s, got %v", cfg.Chains.Game.PollInterval)
	}
	if cfg.Chains.Game.Streaming() {
		t.Error("game chain has no ws url and should be polled")
	}
	if !cfg.Chains.Randomness.Streaming() {
		t.Error("randomness chain has a ws url and should stream")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate should pass, got %v", err)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("RELAYER_PRIVATE_KEY", "0xfeed")
	t.Setenv("CHAINS_GAME_HTTP_URL", "https://override.example")

	cfg, err := LoadConfig(writeConfig(t, testYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Relayer.PrivateKey != "feed" {
		t.Errorf("expected env private key, got %q", cfg.Relayer.PrivateKey)
	}
	if cfg.Chains.Game.HTTPURL != "https://override.example" {
		t.Errorf("expected env http url, got %q", cfg.Chains.Game.HTTPURL)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("a missing config file should not be an error: %v", err)
	}

	err = cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	for _, key := range []string{"relayer.private_key", "contracts.vrf_flip_rps", "chains.game.http_url"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected %s to be reported missing: %v", key, err)
		}
	}
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	cfg.Ledger.Driver = "mongo"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for unknown driver, got %v", err)
	}
}

func TestValidate_MalformedAddress(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"too short", "0x8A768deEC38363C60477A7046FD4e3236b98a3"},
		{"not hex", "0x8A768deEC38363C60477A7046FD4e3236b98zzzz"},
		{"typo", "coinflip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, testYAML))
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			cfg.Contracts.NumberGuess = tt.value
			err = cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) || !strings.Contains(err.Error(), "contracts.number_guess") {
				t.Errorf("expected contracts.number_guess to be rejected, got %v", err)
			}
		})
	}
}
