package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(DataDirEnv, tempDir)

	firstCfg, firstPath, dataDir, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if dataDir != tempDir {
		t.Fatalf("expected data dir %q, got %q", tempDir, dataDir)
	}
	if firstCfg.NodeID == "" {
		t.Fatalf("expected non-empty node ID")
	}
	if firstCfg.PortMode != PortModeFixed || firstCfg.ListeningPort != DefaultListeningPort {
		t.Fatalf("expected fixed port %d, got %q %d", DefaultListeningPort, firstCfg.PortMode, firstCfg.ListeningPort)
	}
	if firstCfg.ListenAddress != DefaultListenAddress {
		t.Fatalf("expected listen address %q, got %q", DefaultListenAddress, firstCfg.ListenAddress)
	}
	if firstCfg.LogLevel != DefaultLogLevel {
		t.Fatalf("expected log level %q, got %q", DefaultLogLevel, firstCfg.LogLevel)
	}
	if firstCfg.Encryption || firstCfg.Discovery || firstCfg.AuditLog {
		t.Fatalf("expected optional features to default off: %+v", firstCfg)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}
	info, err := os.Stat(firstPath)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected config mode 0600, got %o", info.Mode().Perm())
	}

	secondCfg, secondPath, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.NodeID != firstCfg.NodeID {
		t.Fatalf("expected stable node ID, got %q then %q", firstCfg.NodeID, secondCfg.NodeID)
	}
	if secondCfg.PrivateKeyPath != firstCfg.PrivateKeyPath {
		t.Fatalf("expected stable key path, got %q then %q", firstCfg.PrivateKeyPath, secondCfg.PrivateKeyPath)
	}
}

func TestLoadOrCreateNormalizesPartialConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(DataDirEnv, tempDir)

	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}
	cfgPath := ConfigPath(tempDir)
	if err := Save(cfgPath, &NodeConfig{NodeName: "edge", ListeningPort: 7000, Encryption: true}); err != nil {
		t.Fatalf("Save partial config failed: %v", err)
	}

	cfg, _, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.NodeID == "" {
		t.Fatalf("expected node ID to be filled in")
	}
	if cfg.NodeName != "edge" || !cfg.Encryption {
		t.Fatalf("expected user values to be retained, got %+v", cfg)
	}
	if cfg.PortMode != PortModeFixed || cfg.ListenPort() != 7000 {
		t.Fatalf("expected legacy port to normalize to fixed 7000, got %q %d", cfg.PortMode, cfg.ListenPort())
	}
	if cfg.PrivateKeyPath != filepath.Join(tempDir, "keys", "x25519_private.pem") {
		t.Fatalf("unexpected private key path %q", cfg.PrivateKeyPath)
	}

	reloaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.NodeID != cfg.NodeID {
		t.Fatalf("expected normalized config to be saved")
	}
}

func TestAutomaticPortModeListensOnEphemeralPort(t *testing.T) {
	cfg := &NodeConfig{PortMode: PortModeAutomatic, ListeningPort: 9000}
	if cfg.ListenPort() != 0 {
		t.Fatalf("expected automatic mode to listen on port 0, got %d", cfg.ListenPort())
	}

	changed := normalizeDefaults(&NodeConfig{PortMode: "bogus"}, t.TempDir())
	if !changed {
		t.Fatalf("expected invalid port mode to be normalized")
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
