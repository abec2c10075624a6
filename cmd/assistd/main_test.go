package main

import (
	"testing"
)

func TestParseOverrides(t *testing.T) {
	pairs, err := parseOverrides([]string{"wake.sensitivity=0.8", "mqtt.enabled=true"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("pairs=%v", pairs)
	}
	if pairs[0] != [2]string{"wake.sensitivity", "0.8"} {
		t.Fatalf("pairs[0]=%v", pairs[0])
	}
	// values may themselves contain '='
	pairs, err = parseOverrides([]string{"a=b=c"})
	if err != nil || pairs[0][1] != "b=c" {
		t.Fatalf("pairs=%v err=%v", pairs, err)
	}
}

func TestParseOverrides_Invalid(t *testing.T) {
	for _, bad := range []string{"no-separator", "=value"} {
		if _, err := parseOverrides([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	cmd := rootCmd()
	if err := cmd.Flags().Set("profile", "en"); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	if err := cmd.Flags().Set("engine-command", "assist-engine"); err != nil {
		t.Fatalf("set engine-command: %v", err)
	}
	if err := cmd.Flags().Set("addr", ":9999"); err != nil {
		t.Fatalf("set addr: %v", err)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Profile != "en" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.EngineCommand) != 1 || cfg.EngineCommand[0] != "assist-engine" {
		t.Fatalf("engine command=%v", cfg.EngineCommand)
	}
}

func TestLoadConfig_RequiresProfileAndEngine(t *testing.T) {
	cmd := rootCmd()
	if _, err := loadConfig(cmd); err == nil {
		t.Fatalf("expected error without profile")
	}
	if err := cmd.Flags().Set("profile", "en"); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	if _, err := loadConfig(cmd); err == nil {
		t.Fatalf("expected error without engine command")
	}
}
