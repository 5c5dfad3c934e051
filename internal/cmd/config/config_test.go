package config

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/walletgate/internal/config"
)

// setupConfigEnv points the config directory at a temp dir and resets viper.
func setupConfigEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	viper.Reset()
	appconfig.SetDefaults()
	t.Cleanup(viper.Reset)
	return filepath.Join(dir, "walletgate")
}

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}

func TestParseSetting(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    any
		wantErr bool
	}{
		{"gate.block_unverified", "true", true, false},
		{"gate.block_unverified", "maybe", nil, true},
		{"broker.backend", "redis", "redis", false},
		{"broker.backend", "kafka", nil, true},
		{"broker.workers", "4", 4, false},
		{"broker.workers", "-1", nil, true},
		{"broker.workers", "four", nil, true},
		{"logging.level", "DEBUG", "debug", false},
		{"logging.level", "trace", nil, true},
		{"mediator.default_token", "usdc", "USDC", false},
		{"mediator.default_token", " ", nil, true},
		{"devwallet.balances.PLUS", "12.50", "12.50", false},
		{"devwallet.balances.PLUS", "lots", nil, true},
		{"devwallet.balances.", "1", nil, true},
		{"paths.data_dir", "~/wg", "~/wg", false},
		{"unknown.key", "x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := parseSetting(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSetting() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseSetting() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestRunConfigInit(t *testing.T) {
	configDir := setupConfigEnv(t)
	cmd, buf := newTestCmd()

	if err := runConfigInit(cmd, nil); err != nil {
		t.Fatalf("runConfigInit() error = %v", err)
	}
	configFile := filepath.Join(configDir, "config.yaml")
	if !strings.Contains(buf.String(), configFile) {
		t.Errorf("output = %q, want path %s", buf.String(), configFile)
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	var cfg appconfig.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("config file is not valid YAML: %v", err)
	}
	if cfg.Broker.Backend != "file" || cfg.Mediator.DefaultToken != "PLUS" {
		t.Errorf("written config = %+v", cfg)
	}

	if err := runConfigInit(cmd, nil); err == nil {
		t.Error("second init should refuse to overwrite")
	}
}

func TestRunConfigShow(t *testing.T) {
	setupConfigEnv(t)
	viper.Set("gate.block_unverified", true)
	cmd, buf := newTestCmd()

	if err := runConfigShow(cmd, nil); err != nil {
		t.Fatalf("runConfigShow() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"none - using defaults", "block_unverified: true", "backend: file"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestRunConfigShow_Invalid(t *testing.T) {
	setupConfigEnv(t)
	viper.Set("broker.backend", "carrier-pigeon")
	cmd, _ := newTestCmd()
	if err := runConfigShow(cmd, nil); err == nil {
		t.Error("invalid configuration should be reported")
	}
}

func TestRunConfigSet(t *testing.T) {
	configDir := setupConfigEnv(t)
	cmd, buf := newTestCmd()

	if err := runConfigSet(cmd, []string{"broker.workers", "3"}); err != nil {
		t.Fatalf("runConfigSet() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Set broker.workers = 3") {
		t.Errorf("output = %q", buf.String())
	}

	data, err := os.ReadFile(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "workers: 3") {
		t.Errorf("config file missing setting:\n%s", data)
	}

	if err := runConfigSet(cmd, []string{"broker.workers", "0"}); err == nil {
		t.Error("a setting that fails validation should not be saved")
	}
}

func TestRunConfigPath(t *testing.T) {
	configDir := setupConfigEnv(t)
	cmd, buf := newTestCmd()

	if err := runConfigPath(cmd, nil); err != nil {
		t.Fatalf("runConfigPath() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, filepath.Join(configDir, "config.yaml")) {
		t.Errorf("output missing default path:\n%s", out)
	}
	if !strings.Contains(out, "WALLETGATE_") {
		t.Errorf("output missing env prefix:\n%s", out)
	}
}

func TestFindEditor(t *testing.T) {
	t.Setenv("EDITOR", "")
	t.Setenv("VISUAL", "")

	origLookPath := execLookPath
	t.Cleanup(func() { execLookPath = origLookPath })

	execLookPath = func(file string) (string, error) {
		if file == "nano" {
			return "/usr/bin/nano", nil
		}
		return "", exec.ErrNotFound
	}
	if got, err := findEditor(); err != nil || got != "nano" {
		t.Errorf("findEditor() = %q, %v; want nano", got, err)
	}

	t.Setenv("VISUAL", "code -w")
	if got, _ := findEditor(); got != "code -w" {
		t.Errorf("findEditor() = %q, want $VISUAL", got)
	}

	t.Setenv("VISUAL", "")
	execLookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	if _, err := findEditor(); err == nil {
		t.Error("findEditor() should fail with no editor available")
	}
}
