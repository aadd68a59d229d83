package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server != "127.0.0.1:20000" || cfg.Timeout != 3*time.Second {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server: 10.0.0.5:20000\ntimeout: 750ms\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server != "10.0.0.5:20000" {
		t.Errorf("server = %q", cfg.Server)
	}
	if cfg.Timeout != 750*time.Millisecond {
		t.Errorf("timeout = %v", cfg.Timeout)
	}
}

func TestLoadConfigBadTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("timeout: shortly\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for bad timeout")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	in := &Config{Server: "gw.local:21000", Timeout: 2 * time.Second}
	if err := SaveConfig(path, in); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %04o, want 0600", perm)
	}
	out, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if out.Server != in.Server || out.Timeout != in.Timeout {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestSplitServer(t *testing.T) {
	host, port, err := splitServer("10.1.2.3:20000")
	if err != nil || host != "10.1.2.3" || port != 20000 {
		t.Fatalf("splitServer = %q %d %v", host, port, err)
	}
	host, port, err = splitServer(":20000")
	if err != nil || host != "127.0.0.1" || port != 20000 {
		t.Fatalf("bare port = %q %d %v", host, port, err)
	}
	for _, bad := range []string{"nohost", "h:notaport", "h:0", "h:70000"} {
		if _, _, err := splitServer(bad); err == nil {
			t.Errorf("splitServer(%q): expected error", bad)
		}
	}
}
