package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Sync    SyncConfig
	Assets  AssetsConfig
	Metrics MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if cfg.Sync.MinSuccessRate < 0 || cfg.Sync.MinSuccessRate > 1 {
		return nil, fmt.Errorf("%s must be within [0,1], got %v", EnvMinSuccessRate, cfg.Sync.MinSuccessRate)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CATALOGSYNC_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"CATALOGSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CATALOGSYNC_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"CATALOGSYNC_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN         string `envconfig:"CATALOGSYNC_DB_DSN"`
	Driver      string `envconfig:"CATALOGSYNC_DB_DRIVER" default:"postgres"`
	AutoMigrate bool   `envconfig:"CATALOGSYNC_DB_AUTO_MIGRATE" default:"false"`

	Host     string `envconfig:"CATALOGSYNC_DB_HOST"`
	Port     int    `envconfig:"CATALOGSYNC_DB_PORT" default:"5432"`
	User     string `envconfig:"CATALOGSYNC_DB_USER"`
	Password string `envconfig:"CATALOGSYNC_DB_PASSWORD"`
	Name     string `envconfig:"CATALOGSYNC_DB_NAME"`
	SSLMode  string `envconfig:"CATALOGSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CATALOGSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CATALOGSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CATALOGSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CATALOGSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite driver was selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CATALOGSYNC_REDIS_URL"`
	Address      string        `envconfig:"CATALOGSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"CATALOGSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"CATALOGSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CATALOGSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CATALOGSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CATALOGSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CATALOGSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CATALOGSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type SyncConfig struct {
	SupplierID string `envconfig:"CATALOGSYNC_SUPPLIER_ID"`
	SKUPrefix  string `envconfig:"CATALOGSYNC_SKU_PREFIX"`
	InputPath  string `envconfig:"CATALOGSYNC_INPUT_PATH"`

	ImageLimit        int           `envconfig:"CATALOGSYNC_IMAGE_LIMIT" default:"4"`
	ImageConcurrency  int           `envconfig:"CATALOGSYNC_IMAGE_CONCURRENCY" default:"4"`
	MinSuccessRate    float64       `envconfig:"CATALOGSYNC_MIN_SUCCESS_RATE" default:"0.90"`
	UpsertParallelism int           `envconfig:"CATALOGSYNC_UPSERT_PARALLELISM" default:"4"`
	ReconcileLockTTL  time.Duration `envconfig:"CATALOGSYNC_RECONCILE_LOCK_TTL" default:"30m"`
	// Interval repeats the run on a ticker; zero runs once and exits.
	Interval time.Duration `envconfig:"CATALOGSYNC_SYNC_INTERVAL" default:"0"`
}

type AssetsConfig struct {
	Dir            string        `envconfig:"CATALOGSYNC_ASSETS_DIR" default:"./data/assets"`
	MaxDimension   int           `envconfig:"CATALOGSYNC_ASSETS_MAX_DIMENSION" default:"2048"`
	JPEGQuality    int           `envconfig:"CATALOGSYNC_ASSETS_JPEG_QUALITY" default:"85"`
	MinBytes       int64         `envconfig:"CATALOGSYNC_ASSETS_MIN_BYTES" default:"1024"`
	MaxAttempts    int           `envconfig:"CATALOGSYNC_ASSETS_MAX_ATTEMPTS" default:"3"`
	InitialBackoff time.Duration `envconfig:"CATALOGSYNC_ASSETS_INITIAL_BACKOFF" default:"500ms"`
	MaxBackoff     time.Duration `envconfig:"CATALOGSYNC_ASSETS_MAX_BACKOFF" default:"8s"`
	RequestTimeout time.Duration `envconfig:"CATALOGSYNC_ASSETS_REQUEST_TIMEOUT" default:"30s"`
	UserAgent      string        `envconfig:"CATALOGSYNC_ASSETS_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"`
	Referers       RefererMap    `envconfig:"CATALOGSYNC_ASSETS_REFERERS"`
	CurlPath       string        `envconfig:"CATALOGSYNC_ASSETS_CURL_PATH" default:"curl"`
	CurlEnabled    bool          `envconfig:"CATALOGSYNC_ASSETS_CURL_ENABLED" default:"true"`
}

type MetricsConfig struct {
	Addr string `envconfig:"CATALOGSYNC_METRICS_ADDR"`
}

// RefererMap maps an image host to the Referer header it expects.
// Encoded as "host=referer,host2=referer2" so referers may contain colons.
type RefererMap map[string]string

// Decode implements envconfig.Decoder.
func (m *RefererMap) Decode(value string) error {
	out := RefererMap{}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		host, referer, ok := strings.Cut(pair, "=")
		host = strings.ToLower(strings.TrimSpace(host))
		if !ok || host == "" || strings.TrimSpace(referer) == "" {
			return fmt.Errorf("invalid referer entry %q", pair)
		}
		out[host] = strings.TrimSpace(referer)
	}
	*m = out
	return nil
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	parts := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbPartEnvVars {
		if parts[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
