package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               int      `envconfig:"PORT" default:"8080"`
	Env                string   `envconfig:"ENV" default:"development"`
	LogLevel           string   `envconfig:"LOG_LEVEL" default:"debug"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSAllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	CORSAllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Origin,Content-Type,Accept,Authorization,X-Request-ID,X-Owner-ID,X-Owner-Name"`

	GatewayURL     string        `envconfig:"GATEWAY_URL" required:"true"`
	GatewayAPIKey  string        `envconfig:"GATEWAY_API_KEY" required:"true"`
	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`

	DatabaseURL      string `envconfig:"DATABASE_URL" default:""`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	RedisURL         string `envconfig:"REDIS_URL" default:""`

	CacheTTL            time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	ReconcileInterval   time.Duration `envconfig:"RECONCILE_INTERVAL" default:"2m"`
	LogoutSettleDelay   time.Duration `envconfig:"LOGOUT_SETTLE_DELAY" default:"2s"`
	RestartSettleDelay  time.Duration `envconfig:"RESTART_SETTLE_DELAY" default:"5s"`
	ConnectPollAttempts int           `envconfig:"CONNECT_POLL_ATTEMPTS" default:"3"`
	ConnectPollDelay    time.Duration `envconfig:"CONNECT_POLL_DELAY" default:"2s"`

	PairingRateLimitEnabled  bool `envconfig:"PAIRING_RATE_LIMIT_ENABLED" default:"true"`
	PairingAttemptsPerMinute int  `envconfig:"PAIRING_ATTEMPTS_PER_MINUTE" default:"10"`

	JWTPublicKey      string   `envconfig:"JWT_PUBLIC_KEY"`
	JWTAllowedIssuers []string `envconfig:"JWT_ALLOWED_ISSUERS" default:"auth-service"`

	TraceExporter     string `envconfig:"TRACE_EXPORTER" default:"noop"`
	TraceOTLPEndpoint string `envconfig:"TRACE_OTLP_ENDPOINT" default:""`
	TraceServiceName  string `envconfig:"TRACE_SERVICE_NAME" default:"pairgate"`

	Version, Commit, BuildDate string
}

func Load(version, commit, buildDate string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.Version, cfg.Commit, cfg.BuildDate = version, commit, buildDate
	return &cfg, nil
}
