package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TELECONSULT_TIMEZONE must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
)

// Store backends selectable through TELECONSULT_STORE.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config captures environment driven configuration values for the teleconsult service.
type Config struct {
	HTTPPort     int
	RealtimePort int

	Store       string
	SQLiteDSN   string
	PostgresDSN string

	JWTSecret string

	// NATSURL enables the JetStream job queue, NATS chat fan-out and the
	// NATS push relay. Empty means in-process implementations.
	NATSURL string
	// RedisAddr enables the distributed sweep lease.
	RedisAddr string

	ConsultationSweep time.Duration
	ReminderSweep     time.Duration
	NotificationSweep time.Duration

	JobAttempts int
	JobBackoff  time.Duration
	Workers     int

	StrictSenderType bool
	Location         *time.Location
}

type envReader struct {
	missing []string
	invalid []string
}

func (r *envReader) value(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (r *envReader) positiveInt(key string, target *int) {
	raw := r.value(key)
	if raw == "" {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		r.invalid = append(r.invalid, key)
		return
	}
	*target = n
}

func (r *envReader) duration(key string, target *time.Duration) {
	raw := r.value(key)
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		r.invalid = append(r.invalid, key)
		return
	}
	*target = d
}

func (r *envReader) boolean(key string, target *bool) {
	raw := r.value(key)
	if raw == "" {
		return
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return
	}
	*target = b
}

// Load parses configuration values from the current process environment.
//
// The loader applies defaults for optional fields while validating required
// values and reporting every missing or invalid variable at once.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:          8080,
		RealtimePort:      8081,
		Store:             StoreSQLite,
		SQLiteDSN:         "teleconsult.db",
		ConsultationSweep: time.Minute,
		ReminderSweep:     60 * time.Second,
		NotificationSweep: 60 * time.Second,
		JobAttempts:       3,
		JobBackoff:        5 * time.Second,
		Workers:           4,
		Location:          time.UTC,
	}

	r := &envReader{
		missing: make([]string, 0, 2),
		invalid: make([]string, 0, 2),
	}

	r.positiveInt("TELECONSULT_HTTP_PORT", &cfg.HTTPPort)
	r.positiveInt("TELECONSULT_REALTIME_PORT", &cfg.RealtimePort)

	if store := strings.ToLower(r.value("TELECONSULT_STORE")); store != "" {
		switch store {
		case StoreSQLite, StorePostgres, StoreMemory:
			cfg.Store = store
		default:
			r.invalid = append(r.invalid, "TELECONSULT_STORE")
		}
	}
	if dsn := r.value("TELECONSULT_SQLITE_DSN"); dsn != "" {
		cfg.SQLiteDSN = dsn
	}
	cfg.PostgresDSN = r.value("TELECONSULT_POSTGRES_DSN")
	if cfg.Store == StorePostgres && cfg.PostgresDSN == "" {
		r.missing = append(r.missing, "TELECONSULT_POSTGRES_DSN")
	}

	if secret := r.value("TELECONSULT_JWT_SECRET"); secret == "" {
		r.missing = append(r.missing, "TELECONSULT_JWT_SECRET")
	} else {
		cfg.JWTSecret = secret
	}

	cfg.NATSURL = r.value("TELECONSULT_NATS_URL")
	cfg.RedisAddr = r.value("TELECONSULT_REDIS_ADDR")

	r.duration("TELECONSULT_CONSULTATION_SWEEP", &cfg.ConsultationSweep)
	r.duration("TELECONSULT_REMINDER_SWEEP", &cfg.ReminderSweep)
	r.duration("TELECONSULT_NOTIFICATION_SWEEP", &cfg.NotificationSweep)
	r.positiveInt("TELECONSULT_JOB_ATTEMPTS", &cfg.JobAttempts)
	r.duration("TELECONSULT_JOB_BACKOFF", &cfg.JobBackoff)
	r.positiveInt("TELECONSULT_WORKERS", &cfg.Workers)
	r.boolean("TELECONSULT_STRICT_SENDER_TYPE", &cfg.StrictSenderType)

	if tz := r.value("TELECONSULT_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			r.invalid = append(r.invalid, "TELECONSULT_TIMEZONE")
		} else {
			cfg.Location = loc
		}
	}

	if len(r.missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(r.missing, ", "))
	}
	if len(r.invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(r.invalid, ", "))
	}

	return cfg, nil
}

// LoadFiles reads the given dotenv files into the environment and then calls
// Load. Missing files are skipped and variables already set in the process
// take precedence.
func LoadFiles(paths ...string) (Config, error) {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return Load()
}
