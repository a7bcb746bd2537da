package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	Calls  CallsConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Video  VideoConfig
	OpenAI OpenAIConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// Call store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type CallsConfig struct {
	Store             string
	RingTimeout       time.Duration
	CredentialTimeout time.Duration

	// RingingLimit caps concurrent ringing calls per caller; 0 disables it.
	RingingLimit int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Video credential backends.
const (
	VideoJitsi   = "jitsi"
	VideoLiveKit = "livekit"
)

type VideoConfig struct {
	Provider string
	BaseURL  string

	AppID     string
	AppSecret string

	LiveKitAPIKey    string
	LiveKitAPISecret string

	TokenTTL time.Duration
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.Calls.Store = strings.TrimSpace(os.Getenv("CALL_STORE"))
	c.Calls.RingTimeout = mustDuration("CALL_RING_TIMEOUT")
	c.Calls.CredentialTimeout = mustDuration("CALL_CREDENTIAL_TIMEOUT")
	{
		n, err := optionalInt("CALL_RINGING_LIMIT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Calls.RingingLimit = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Video.Provider = strings.TrimSpace(os.Getenv("VIDEO_PROVIDER"))
	c.Video.BaseURL = strings.TrimSpace(os.Getenv("VIDEO_BASE_URL"))
	c.Video.AppID = strings.TrimSpace(os.Getenv("VIDEO_APP_ID"))
	c.Video.AppSecret = os.Getenv("VIDEO_APP_SECRET")
	c.Video.LiveKitAPIKey = strings.TrimSpace(os.Getenv("LIVEKIT_API_KEY"))
	c.Video.LiveKitAPISecret = os.Getenv("LIVEKIT_API_SECRET")
	c.Video.TokenTTL = mustDuration("VIDEO_TOKEN_TTL")

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.Model = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks c and fills in defaults, so it needs a pointer receiver.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	errs = append(errs, c.validateCalls()...)
	if c.Calls.Store == StorePostgres {
		errs = append(errs, c.validateDB()...)
	}
	if c.NeedsRedis() {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	errs = append(errs, c.validateVideo()...)

	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}

	return joinErrors(errs)
}

func (c *Config) validateCalls() []error {
	var errs []error
	if c.Calls.Store == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("CALL_STORE is required in production"))
		} else {
			c.Calls.Store = StoreMemory
		}
	}
	switch c.Calls.Store {
	case "", StorePostgres, StoreRedis:
	case StoreMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("CALL_STORE=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("CALL_STORE must be one of memory, postgres, redis, got %q", c.Calls.Store))
	}

	if c.Calls.RingTimeout <= 0 {
		c.Calls.RingTimeout = 30 * time.Second
	}
	if c.Calls.CredentialTimeout <= 0 {
		c.Calls.CredentialTimeout = 10 * time.Second
	}
	if c.Calls.RingingLimit < 0 {
		errs = append(errs, fmt.Errorf("CALL_RINGING_LIMIT must be >= 0, got %d", c.Calls.RingingLimit))
	}
	return errs
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c *Config) validateVideo() []error {
	var errs []error
	if c.Video.Provider == "" {
		c.Video.Provider = VideoJitsi
	}
	if c.Video.TokenTTL <= 0 {
		c.Video.TokenTTL = 24 * time.Hour
	}
	if c.Video.BaseURL == "" {
		errs = append(errs, errors.New("VIDEO_BASE_URL is required"))
	}
	switch c.Video.Provider {
	case VideoJitsi:
		if c.Video.AppSecret == "" {
			errs = append(errs, errors.New("VIDEO_APP_SECRET is required for jitsi"))
		}
	case VideoLiveKit:
		if c.Video.LiveKitAPIKey == "" || c.Video.LiveKitAPISecret == "" {
			errs = append(errs, errors.New("LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required for livekit"))
		}
	default:
		errs = append(errs, fmt.Errorf("VIDEO_PROVIDER must be one of jitsi, livekit, got %q", c.Video.Provider))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// NeedsRedis reports whether any component is backed by Redis.
func (c Config) NeedsRedis() bool {
	return c.Calls.Store == StoreRedis || c.Calls.RingingLimit > 0
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	return parseInt(key, v)
}

func optionalInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	return parseInt(key, v)
}

func parseInt(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
