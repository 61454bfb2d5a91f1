package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "REDIRECT_"

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// LogFile additionally writes logs to a rotated file when set.
	LogFile string `koanf:"log_file"`

	// Server is the redirect service base URL. Rewritten URLs are prefixed
	// with "{server}/?" and the allow list is fetched from it.
	Server string `koanf:"server" validate:"required,server_url"`

	// Bind is the IP address the local API listens on.
	Bind string `koanf:"bind" validate:"required,ip"`

	// Port is the network port the local API binds to.
	Port int `koanf:"port" validate:"required,gte=1,lte=65535"`

	// RefreshInterval is how often the allow list is re-fetched.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gte=1s"`

	// FetchTimeout bounds one allow-list request.
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"gte=100ms"`

	// LoopWindow is the loop-guard bulk purge interval.
	LoopWindow time.Duration `koanf:"loop_window" validate:"gte=100ms"`

	// LoopCacheSize bounds the loop-guard set between purges.
	LoopCacheSize int `koanf:"loop_cache_size" validate:"gte=1"`

	// SnapshotDB is a bbolt file holding the last good allow list. Empty
	// disables persistence and the list starts empty on every start.
	SnapshotDB string `koanf:"snapshot_db"`

	// ClickChecks applies the allow-list and loop-guard checks to clicks too.
	ClickChecks bool `koanf:"click_checks"`
}

// Addr returns the listen address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// DEFAULT_APP_CONFIG defines the default application configuration.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:             "prod",
	LogLevel:        "info",
	Server:          "https://privacydir.com",
	Bind:            "127.0.0.1",
	Port:            7878,
	RefreshInterval: 30 * time.Minute,
	FetchTimeout:    10 * time.Second,
	LoopWindow:      2 * time.Second,
	LoopCacheSize:   10000,
}

// validServerURL accepts an absolute http(s) URL with a host and no query or
// fragment, since the value is used as a literal prefix.
func validServerURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != "" && u.RawQuery == "" && u.Fragment == "" && !u.ForceQuery
}

// envLoader loads environment variables with the prefix "REDIRECT_".
// It transforms the keys to lowercase and removes the prefix,
// and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the "server_url" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("server_url", validServerURL)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	cfg.Server = strings.TrimRight(cfg.Server, "/")

	validate := validator.New(validator.WithRequiredStructEnabled())
	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
