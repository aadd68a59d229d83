package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canlinkd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFileApplies(t *testing.T) {
	path := writeTempConfig(t, `
backend: slcan
slcan-device: /dev/ttyUSB7
slcan-bitrate: 250000
listen: ":21000"
handshake-timeout: 5s
mdns-enable: true
rt-priority: 70
`)
	cfg := validConfig()
	cfg.configFile = path
	if err := loadConfigFile(cfg, map[string]struct{}{}); err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if cfg.backend != "slcan" || cfg.slcanDev != "/dev/ttyUSB7" || cfg.slcanBitrate != 250000 {
		t.Fatalf("slcan fields not applied: %+v", cfg)
	}
	if cfg.listenAddr != ":21000" {
		t.Fatalf("listen = %q, want :21000", cfg.listenAddr)
	}
	if cfg.handshakeTO != 5*time.Second {
		t.Fatalf("handshakeTO = %v, want 5s", cfg.handshakeTO)
	}
	if !cfg.mdnsEnable {
		t.Fatal("mdnsEnable not applied")
	}
	if cfg.rtPriority != 70 {
		t.Fatalf("rtPriority = %d, want 70", cfg.rtPriority)
	}
}

func TestLoadConfigFileFlagWins(t *testing.T) {
	path := writeTempConfig(t, "backend: slcan\nslcan-baud: 57600\n")
	cfg := validConfig()
	cfg.configFile = path
	cfg.backend = "socketcan"
	set := map[string]struct{}{"backend": {}}
	if err := loadConfigFile(cfg, set); err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if cfg.backend != "socketcan" {
		t.Fatalf("explicit flag overridden by file: backend = %q", cfg.backend)
	}
	if cfg.slcanBaud != 57600 {
		t.Fatalf("unflagged field should come from file: baud = %d", cfg.slcanBaud)
	}
}

// Precedence end to end: env sits between flags and the file.
func TestEnvBeatsConfigFile(t *testing.T) {
	path := writeTempConfig(t, "slcan-baud: 57600\n")
	cfg := validConfig()
	cfg.configFile = path
	set := map[string]struct{}{}
	if err := loadConfigFile(cfg, set); err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if cfg.slcanBaud != 57600 {
		t.Fatalf("file layer not applied: baud = %d", cfg.slcanBaud)
	}
	t.Setenv("CANLINK_SLCAN_BAUD", "230400")
	if err := applyEnvOverrides(cfg, set); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if cfg.slcanBaud != 230400 {
		t.Fatalf("env should override file: baud = %d", cfg.slcanBaud)
	}
}

func TestLoadConfigFileBadDuration(t *testing.T) {
	path := writeTempConfig(t, "handshake-timeout: soon\n")
	cfg := validConfig()
	cfg.configFile = path
	if err := loadConfigFile(cfg, map[string]struct{}{}); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestLoadConfigFileMissingPath(t *testing.T) {
	cfg := validConfig()
	cfg.configFile = filepath.Join(t.TempDir(), "absent.yaml")
	if err := loadConfigFile(cfg, map[string]struct{}{}); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadConfigFileNoPathIsNoop(t *testing.T) {
	t.Setenv("CANLINK_CONFIG", "")
	cfg := validConfig()
	before := *cfg
	if err := loadConfigFile(cfg, map[string]struct{}{}); err != nil {
		t.Fatalf("loadConfigFile: %v", err)
	}
	if *cfg != before {
		t.Fatalf("config changed without a file: %+v", cfg)
	}
}
