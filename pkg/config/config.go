package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "MOLINO"

	AppEnvDev  = "dev"
	AppEnvProd = "production"

	EnvDBDSN  = "MOLINO_DB_DSN"
	EnvDBHost = "MOLINO_DB_HOST"
	EnvDBUser = "MOLINO_DB_USER"
	EnvDBName = "MOLINO_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Redsys       RedsysConfig
	Recurring    RecurringConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MOLINO_APP_ENV" required:"true"`
	Port         string `envconfig:"MOLINO_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MOLINO_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MOLINO_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MOLINO_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MOLINO_DB_DSN"`
	Driver string `envconfig:"MOLINO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MOLINO_DB_HOST"`
	LegacyPort     int    `envconfig:"MOLINO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MOLINO_DB_USER"`
	LegacyPassword string `envconfig:"MOLINO_DB_PASSWORD"`
	LegacyName     string `envconfig:"MOLINO_DB_NAME"`
	LegacySSLMode  string `envconfig:"MOLINO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MOLINO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MOLINO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MOLINO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MOLINO_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MOLINO_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MOLINO_REDIS_ADDR"`
	Password     string        `envconfig:"MOLINO_REDIS_PASSWORD"`
	DB           int           `envconfig:"MOLINO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MOLINO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MOLINO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MOLINO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MOLINO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MOLINO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// RedsysConfig carries the merchant credentials for the card gateway.
// The secret keys are the base64 values issued in the RedSys admin panel.
type RedsysConfig struct {
	Env           string        `envconfig:"MOLINO_REDSYS_ENV" default:"test"`
	MerchantCode  string        `envconfig:"MOLINO_REDSYS_MERCHANT_CODE"`
	Terminal      string        `envconfig:"MOLINO_REDSYS_TERMINAL" default:"1"`
	CurrencyCode  string        `envconfig:"MOLINO_REDSYS_CURRENCY" default:"978"`
	SecretKeyTest string        `envconfig:"MOLINO_REDSYS_SECRET_KEY_TEST"`
	SecretKeyProd string        `envconfig:"MOLINO_REDSYS_SECRET_KEY_PROD"`
	BaseURLTest   string        `envconfig:"MOLINO_REDSYS_BASE_URL_TEST" default:"https://sis-t.redsys.es:25443"`
	BaseURLProd   string        `envconfig:"MOLINO_REDSYS_BASE_URL_PROD" default:"https://sis.redsys.es"`
	HTTPTimeout   time.Duration `envconfig:"MOLINO_REDSYS_HTTP_TIMEOUT" default:"30s"`
}

// Environment returns the normalized gateway environment (test/production).
func (r RedsysConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(r.Env))
	if env == "" {
		return "test"
	}
	return env
}

// IsProduction reports whether charges hit the live gateway.
func (r RedsysConfig) IsProduction() bool {
	return r.Environment() == "production"
}

// SecretKey returns the environment-selected merchant key, decoded from base64.
func (r RedsysConfig) SecretKey() ([]byte, error) {
	raw := r.SecretKeyTest
	if r.IsProduction() {
		raw = r.SecretKeyProd
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("redsys secret key for %s environment is not set", r.Environment())
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("redsys secret key is not valid base64: %w", err)
	}
	return key, nil
}

// BaseURL returns the environment-selected gateway base URL.
func (r RedsysConfig) BaseURL() string {
	if r.IsProduction() {
		return r.BaseURLProd
	}
	return r.BaseURLTest
}

// RecurringConfig governs the merchant-initiated renewal runs.
type RecurringConfig struct {
	Secret           string        `envconfig:"MOLINO_RECURRING_SECRET"`
	DefaultLimit     int           `envconfig:"MOLINO_RECURRING_DEFAULT_LIMIT" default:"50"`
	ChargeTimeout    time.Duration `envconfig:"MOLINO_RECURRING_CHARGE_TIMEOUT" default:"30s"`
	DunningThreshold int           `envconfig:"MOLINO_RECURRING_DUNNING_THRESHOLD" default:"0"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MOLINO_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
