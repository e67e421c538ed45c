package app

import (
	"errors"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the BFF and the CLI.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// RedisAddr selects the Redis storage backend. Empty keeps sessions in memory.
	RedisAddr  string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"720h"`

	APIBaseURL      string        `envconfig:"API_BASE_URL" default:"http://localhost:5555/api"`
	APILoginPath    string        `envconfig:"API_LOGIN_PATH" default:"/login"`
	APIRegisterPath string        `envconfig:"API_REGISTER_PATH" default:"/register"`
	APIGooglePath   string        `envconfig:"API_GOOGLE_LOGIN_PATH" default:"/google-login"`
	APIMePath       string        `envconfig:"API_ME_PATH" default:"/me"`
	APILogoutPath   string        `envconfig:"API_LOGOUT_PATH" default:"/logout"`
	APIHTTPTimeout  time.Duration `envconfig:"API_HTTP_TIMEOUT" default:"10s"`

	ValidateTimeout time.Duration `envconfig:"VALIDATE_TIMEOUT" default:"5s"`
	LogoutTimeout   time.Duration `envconfig:"LOGOUT_TIMEOUT" default:"5s"`
	GuardWait       time.Duration `envconfig:"GUARD_WAIT" default:"2s"`
	StoreIdleTTL    time.Duration `envconfig:"STORE_IDLE_TTL" default:"30m"`

	ClientCookie string `envconfig:"CLIENT_COOKIE" default:"kinsi_client"`
	RoutesFile   string `envconfig:"ROUTES_FILE"`

	AuthRateLimit int `envconfig:"AUTH_RATE_LIMIT" default:"20"`

	// SessionFile is the CLI session cache.
	SessionFile string `envconfig:"SESSION_FILE"`
}

// LoadConfig reads configuration from KINSI_* environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("kinsi", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("api base url must be an absolute url")
	}
	if c.ClientCookie == "" {
		return errors.New("client cookie name must be provided")
	}
	if c.GuardWait < 0 || c.ValidateTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
