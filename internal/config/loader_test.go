package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"TELECONSULT_HTTP_PORT",
	"TELECONSULT_REALTIME_PORT",
	"TELECONSULT_STORE",
	"TELECONSULT_SQLITE_DSN",
	"TELECONSULT_POSTGRES_DSN",
	"TELECONSULT_JWT_SECRET",
	"TELECONSULT_NATS_URL",
	"TELECONSULT_REDIS_ADDR",
	"TELECONSULT_CONSULTATION_SWEEP",
	"TELECONSULT_REMINDER_SWEEP",
	"TELECONSULT_NOTIFICATION_SWEEP",
	"TELECONSULT_JOB_ATTEMPTS",
	"TELECONSULT_JOB_BACKOFF",
	"TELECONSULT_WORKERS",
	"TELECONSULT_STRICT_SENDER_TYPE",
	"TELECONSULT_TIMEZONE",
}

// clearEnv registers every key with t.Setenv so the original values come back
// after the test, then unsets them.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {

	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)
		const secret = "super-secret"
		t.Setenv("TELECONSULT_JWT_SECRET", secret)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 8080 || cfg.RealtimePort != 8081 {
			t.Fatalf("unexpected default ports: %d, %d", cfg.HTTPPort, cfg.RealtimePort)
		}
		if cfg.Store != StoreSQLite || cfg.SQLiteDSN != "teleconsult.db" {
			t.Fatalf("unexpected default store: %q %q", cfg.Store, cfg.SQLiteDSN)
		}
		if cfg.JWTSecret != secret {
			t.Fatalf("expected jwt secret to be %q, got %q", secret, cfg.JWTSecret)
		}
		if cfg.ConsultationSweep != time.Minute || cfg.ReminderSweep != time.Minute || cfg.NotificationSweep != time.Minute {
			t.Fatalf("unexpected sweep intervals: %+v", cfg)
		}
		if cfg.JobAttempts != 3 || cfg.JobBackoff != 5*time.Second || cfg.Workers != 4 {
			t.Fatalf("unexpected job defaults: %+v", cfg)
		}
		if cfg.StrictSenderType || cfg.Location != time.UTC || cfg.NATSURL != "" || cfg.RedisAddr != "" {
			t.Fatalf("unexpected optional defaults: %+v", cfg)
		}
	})

	t.Run("errors when required values are missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TELECONSULT_STORE", "postgres")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error when required values are missing")
		}
		expected := "必須の環境変数が設定されていません: TELECONSULT_POSTGRES_DSN, TELECONSULT_JWT_SECRET"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TELECONSULT_JWT_SECRET", "secret")
		t.Setenv("TELECONSULT_HTTP_PORT", "-1")
		t.Setenv("TELECONSULT_STORE", "mongo")
		t.Setenv("TELECONSULT_JOB_BACKOFF", "soon")
		t.Setenv("TELECONSULT_STRICT_SENDER_TYPE", "maybe")
		t.Setenv("TELECONSULT_TIMEZONE", "Mars/Olympus")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		expected := "環境変数の値が不正です: TELECONSULT_HTTP_PORT, TELECONSULT_STORE, TELECONSULT_JOB_BACKOFF, TELECONSULT_STRICT_SENDER_TYPE, TELECONSULT_TIMEZONE"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("parses duration and numeric fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TELECONSULT_JWT_SECRET", "secret-value")
		t.Setenv("TELECONSULT_HTTP_PORT", "9090")
		t.Setenv("TELECONSULT_STORE", "Postgres")
		t.Setenv("TELECONSULT_POSTGRES_DSN", "postgres://localhost/teleconsult")
		t.Setenv("TELECONSULT_NATS_URL", "nats://localhost:4222")
		t.Setenv("TELECONSULT_CONSULTATION_SWEEP", "30s")
		t.Setenv("TELECONSULT_JOB_ATTEMPTS", "5")
		t.Setenv("TELECONSULT_STRICT_SENDER_TYPE", "true")
		t.Setenv("TELECONSULT_TIMEZONE", "Asia/Tokyo")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 9090 {
			t.Fatalf("expected HTTP port 9090, got %d", cfg.HTTPPort)
		}
		if cfg.Store != StorePostgres || cfg.PostgresDSN != "postgres://localhost/teleconsult" {
			t.Fatalf("unexpected store config: %q %q", cfg.Store, cfg.PostgresDSN)
		}
		if cfg.ConsultationSweep != 30*time.Second {
			t.Fatalf("expected consultation sweep 30s, got %s", cfg.ConsultationSweep)
		}
		if cfg.JobAttempts != 5 || !cfg.StrictSenderType {
			t.Fatalf("unexpected job or chat config: %+v", cfg)
		}
		if cfg.Location.String() != "Asia/Tokyo" {
			t.Fatalf("expected Asia/Tokyo, got %s", cfg.Location)
		}
		if cfg.NATSURL != "nats://localhost:4222" {
			t.Fatalf("unexpected NATS URL: %q", cfg.NATSURL)
		}
	})
}

func TestLoadFilesReadsDotEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), ".env")
	content := "TELECONSULT_JWT_SECRET=from-file\nTELECONSULT_WORKERS=8\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("TELECONSULT_WORKERS", "2")

	cfg, err := LoadFiles(filepath.Join(t.TempDir(), "missing.env"), path)
	if err != nil {
		t.Fatalf("LoadFiles returned error: %v", err)
	}
	if cfg.JWTSecret != "from-file" {
		t.Fatalf("expected secret from file, got %q", cfg.JWTSecret)
	}
	if cfg.Workers != 2 {
		t.Fatalf("expected process environment to win, got %d", cfg.Workers)
	}

	// godotenv sets variables without t.Setenv bookkeeping.
	_ = os.Unsetenv("TELECONSULT_JWT_SECRET")
}
