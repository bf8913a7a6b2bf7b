// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadClientConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "master.internal:7474"
`)

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.Server.Address != "master.internal:7474" {
		t.Errorf("server.address = %q, want %q", cfg.Server.Address, "master.internal:7474")
	}
	if cfg.Pool.MaxActive != 8 {
		t.Errorf("pool.max_active default = %d, want 8", cfg.Pool.MaxActive)
	}
	if cfg.Timeouts.Connect != 5*time.Second {
		t.Errorf("timeouts.connect default = %v, want 5s", cfg.Timeouts.Connect)
	}
	if cfg.Timeouts.Request != 30*time.Second {
		t.Errorf("timeouts.request default = %v, want 30s", cfg.Timeouts.Request)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v, want info/json", cfg.Logging)
	}
}

func TestLoadClientConfig_MissingAddress(t *testing.T) {
	path := writeConfig(t, `
pool:
  max_active: 4
`)

	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("expected an error when server.address is missing")
	}
}

func TestLoadClientConfig_RateLimitRequiresBytesPerSecond(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "master.internal:7474"
rate_limit:
  enabled: true
`)

	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("expected an error when rate_limit.enabled but bytes_per_second is unset")
	}
}

func TestLoadClientConfig_AutoscaleDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "master.internal:7474"
autoscale:
  enabled: true
  cron_schedule: "*/5 * * * *"
  max_active: 16
`)

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.Autoscale.MinActive != 1 {
		t.Errorf("autoscale.min_active default = %d, want 1", cfg.Autoscale.MinActive)
	}
	if cfg.Autoscale.MaxActive != 16 {
		t.Errorf("autoscale.max_active = %d, want 16", cfg.Autoscale.MaxActive)
	}
}
