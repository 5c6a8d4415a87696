package config

import "testing"

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("DUODECK_DB_DSN", "duodeck-test.db")
	t.Setenv("DUODECK_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("DUODECK_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
}

func TestLoadAcceptsLegacyRLMPrefix(t *testing.T) {
	t.Setenv("RLM_DB_DSN", "legacy.db")
	t.Setenv("RLM_JWT_SIGNING_KEY", "legacysecret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN != "legacy.db" {
		t.Fatalf("expected legacy RLM_DB_DSN to be honored, got %q", cfg.DBDSN)
	}
	if cfg.JWTSigningKey != "legacysecret" {
		t.Fatalf("expected legacy RLM_JWT_SIGNING_KEY to be honored, got %q", cfg.JWTSigningKey)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("DUODECK_DB_DSN", "duodeck-test.db")
	t.Setenv("DUODECK_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadRejectsUnsupportedDatabaseBackend(t *testing.T) {
	t.Setenv("DUODECK_DB_DSN", "duodeck-test.db")
	t.Setenv("DUODECK_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("DUODECK_DB_BACKEND", "oracle")

	if _, err := Load(); err == nil {
		t.Fatal("expected unsupported database backend to fail")
	}
}

func TestLoadProductionRequiresJWTSigningKey(t *testing.T) {
	t.Setenv("DUODECK_DB_DSN", "duodeck-test.db")
	t.Setenv("DUODECK_JWT_SIGNING_KEY", "")
	t.Setenv("DUODECK_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a JWT signing key")
	}

	t.Setenv("DUODECK_JWT_SIGNING_KEY", "supersecret")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with signing key to succeed: %v", err)
	}
}

func TestCrossfadeDuration(t *testing.T) {
	t.Setenv("DUODECK_DB_DSN", "duodeck-test.db")
	t.Setenv("DUODECK_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("DUODECK_CROSSFADE_MS", "4000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.CrossfadeDuration().Milliseconds(); got != 4000 {
		t.Fatalf("expected crossfade duration 4000ms, got %dms", got)
	}
}
