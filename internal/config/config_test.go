package config

import "testing"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HERITAGE_JWT_SECRET", "test-secret")
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q", cfg.Port)
	}
	if len(cfg.Families) != 4 {
		t.Errorf("families = %v", cfg.Families)
	}
}

func TestLoadMissingSecret(t *testing.T) {
	t.Setenv("HERITAGE_JWT_SECRET", "")
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")

	if _, err := Load(); err == nil {
		t.Error("expected error without jwt secret")
	}
}

func TestLoadMissingOAuth(t *testing.T) {
	t.Setenv("HERITAGE_JWT_SECRET", "test-secret")
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Error("expected error without oauth credentials")
	}
}

func TestLoadNormalizesFamilies(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HERITAGE_FAMILY_NAMES", " Bull , NORTH ,klingenberg")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"bull", "north", "klingenberg"}
	if len(cfg.Families) != len(want) {
		t.Fatalf("families = %v, want %v", cfg.Families, want)
	}
	for i, f := range want {
		if cfg.Families[i] != f {
			t.Errorf("families[%d] = %q, want %q", i, cfg.Families[i], f)
		}
	}
}

func TestValidFamily(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.ValidFamily("bull") {
		t.Error("bull should be valid")
	}
	if !cfg.ValidFamily("Bull") {
		t.Error("validation should be case-insensitive")
	}
	if cfg.ValidFamily("smith") {
		t.Error("smith should not be valid")
	}
}
