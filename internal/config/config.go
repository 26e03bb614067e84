package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Telephony   TelephonyConfig   `yaml:"telephony"`
	Translation TranslationConfig `yaml:"translation"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Session     SessionConfig     `yaml:"session"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// HTTPConfig contains HTTP and WebSocket server configuration
type HTTPConfig struct {
	Address         string `yaml:"address" validate:"required"`
	Port            int    `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" validate:"min=0"`     // seconds
	WriteTimeout    int    `yaml:"write_timeout" validate:"min=0"`    // seconds
	ShutdownTimeout int    `yaml:"shutdown_timeout" validate:"min=1"` // seconds
}

// TelephonyConfig contains telephony provider configuration
type TelephonyConfig struct {
	DialEnabled        bool   `yaml:"dial_enabled"`
	AccountSID         string `yaml:"account_sid"`
	AuthToken          string `yaml:"auth_token"`
	FromNumber         string `yaml:"from_number"`
	OperatorNumber     string `yaml:"operator_number"` // operator dialed for inbound client calls
	PublicHost         string `yaml:"public_host"`
	Insecure           bool   `yaml:"insecure"`
	APIBaseURL         string `yaml:"api_base_url" validate:"omitempty,url"`
	RingTimeout        int    `yaml:"ring_timeout" validate:"min=0"` // seconds
	MaxRetries         int    `yaml:"max_retries" validate:"min=0"`
	FrameBuffer        int    `yaml:"frame_buffer" validate:"min=1"`
	StartTimeout       int    `yaml:"start_timeout" validate:"min=1"` // seconds
	WriteTimeoutMs     int    `yaml:"write_timeout_ms" validate:"min=1"`
}

// TranslationConfig contains translation service configuration
type TranslationConfig struct {
	BaseURL                string   `yaml:"base_url" validate:"required,url"`
	ClientID               string   `yaml:"client_id" validate:"required"`
	ClientSecret           string   `yaml:"client_secret" validate:"required"`
	Timeout                int      `yaml:"timeout" validate:"min=1"` // seconds
	MaxRetries             int      `yaml:"max_retries" validate:"min=0"`
	RetryInitialIntervalMs int      `yaml:"retry_initial_interval_ms" validate:"min=1"`
	RetryMaxIntervalMs     int      `yaml:"retry_max_interval_ms" validate:"min=1"`
	PingInterval           int      `yaml:"ping_interval" validate:"min=1"` // seconds
	PongTimeout            int      `yaml:"pong_timeout" validate:"min=1"`  // seconds
	WriteTimeoutMs         int      `yaml:"write_timeout_ms" validate:"min=1"`
	EventBuffer            int      `yaml:"event_buffer" validate:"min=1"`
	ASRModel               string   `yaml:"asr_model" validate:"required"`
	SilenceThreshold       float64  `yaml:"silence_threshold" validate:"gt=0"`
	TranslatePartial       bool     `yaml:"translate_partial"`
	DetectableLanguages    []string `yaml:"detectable_languages"`
}

// BridgeConfig contains audio bridge configuration
type BridgeConfig struct {
	MixingEnabled     bool    `yaml:"mixing_enabled"`
	OriginalGain      float64 `yaml:"original_gain" validate:"min=0,max=1"`
	TranslatedGain    float64 `yaml:"translated_gain" validate:"min=0,max=1"`
	UplinkQueue       int     `yaml:"uplink_queue" validate:"min=1"`
	DownlinkQueue     int     `yaml:"downlink_queue" validate:"min=1"`
	SendTimeoutMs     int     `yaml:"send_timeout_ms" validate:"min=1"`
	DropThreshold     int     `yaml:"drop_threshold" validate:"min=1"`
	DrainTimeoutMs    int     `yaml:"drain_timeout_ms" validate:"min=0"`
	OriginalBacklog   int     `yaml:"original_backlog" validate:"min=1"`
	ActivityThreshold float64 `yaml:"activity_threshold" validate:"min=0,max=1"`
}

// SessionConfig contains call session configuration
type SessionConfig struct {
	SourceLanguage  string `yaml:"source_language" validate:"required"` // spoken by the client
	TargetLanguage  string `yaml:"target_language" validate:"required"` // spoken by the operator
	DialTimeout     int    `yaml:"dial_timeout" validate:"min=1"`       // seconds
	MaxSessions     int    `yaml:"max_sessions" validate:"min=0"`
	MaxCallDuration int    `yaml:"max_call_duration" validate:"min=0"` // seconds, 0 disables
	ReapInterval    int    `yaml:"reap_interval" validate:"min=1"`     // seconds
}

// TranscriptsConfig contains transcript broadcaster configuration
type TranscriptsConfig struct {
	ReplaySize       int `yaml:"replay_size" validate:"min=1"`
	SubscriberBuffer int `yaml:"subscriber_buffer" validate:"min=1"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=json text"`
	Output     string `yaml:"output"` // stdout, stderr or a file path
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

// Environment variables that override secrets and deployment settings
const (
	EnvTwilioAccountSID    = "TWILIO_ACCOUNT_SID"
	EnvTwilioAuthToken     = "TWILIO_AUTH_TOKEN"
	EnvTwilioNumber        = "TWILIO_NUMBER"
	EnvOperatorNumber      = "OPERATOR_NUMBER"
	EnvPalabraClientID     = "PALABRA_CLIENT_ID"
	EnvPalabraClientSecret = "PALABRA_CLIENT_SECRET"
	EnvHost                = "HOST"
)

const redacted = "***"

// Default returns the configuration used for anything the file leaves out
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Address:         "0.0.0.0",
			Port:            7839,
			ReadTimeout:     15,
			WriteTimeout:    15,
			ShutdownTimeout: 10,
		},
		Telephony: TelephonyConfig{
			RingTimeout:    30,
			MaxRetries:     2,
			FrameBuffer:    50,
			StartTimeout:   10,
			WriteTimeoutMs: 1000,
		},
		Translation: TranslationConfig{
			BaseURL:                "https://api.palabra.ai",
			Timeout:                10,
			MaxRetries:             3,
			RetryInitialIntervalMs: 500,
			RetryMaxIntervalMs:     10000,
			PingInterval:           3,
			PongTimeout:            60,
			WriteTimeoutMs:         5000,
			EventBuffer:            256,
			ASRModel:               "auto",
			SilenceThreshold:       0.7,
		},
		Bridge: BridgeConfig{
			MixingEnabled:     true,
			OriginalGain:      0.3,
			TranslatedGain:    0.7,
			UplinkQueue:       50,
			DownlinkQueue:     100,
			SendTimeoutMs:     20,
			DropThreshold:     50,
			DrainTimeoutMs:    2000,
			OriginalBacklog:   50,
			ActivityThreshold: 0.02,
		},
		Session: SessionConfig{
			SourceLanguage:  "en",
			TargetLanguage:  "pl",
			DialTimeout:     30,
			MaxCallDuration: 7200,
			ReapInterval:    30,
		},
		Transcripts: TranscriptsConfig{
			ReplaySize:       100,
			SubscriberBuffer: 64,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// LoadEnv loads variables from a .env file without overriding the environment.
// An empty path tries ./.env and ignores it if missing.
func LoadEnv(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the configuration file.
// ${VAR} references are expanded from the environment, then the
// environment overrides are applied and the result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return config, nil
}

// Parse builds a validated configuration from YAML text
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Telephony.AccountSID, EnvTwilioAccountSID)
	set(&c.Telephony.AuthToken, EnvTwilioAuthToken)
	set(&c.Telephony.FromNumber, EnvTwilioNumber)
	set(&c.Telephony.OperatorNumber, EnvOperatorNumber)
	set(&c.Telephony.PublicHost, EnvHost)
	set(&c.Translation.ClientID, EnvPalabraClientID)
	set(&c.Translation.ClientSecret, EnvPalabraClientSecret)
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return formatValidationError(err)
	}

	if err := c.Telephony.Validate(); err != nil {
		return fmt.Errorf("telephony config: %w", err)
	}

	if err := c.Translation.Validate(); err != nil {
		return fmt.Errorf("translation config: %w", err)
	}

	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	return nil
}

// Validate validates telephony configuration
func (t *TelephonyConfig) Validate() error {
	if t.DialEnabled {
		if t.AccountSID == "" || t.AuthToken == "" {
			return fmt.Errorf("account_sid and auth_token are required when dialing is enabled")
		}
		if t.FromNumber == "" {
			return fmt.Errorf("from_number is required when dialing is enabled")
		}
		if t.PublicHost == "" {
			return fmt.Errorf("public_host is required when dialing is enabled")
		}
	}

	if strings.Contains(t.PublicHost, "://") {
		return fmt.Errorf("public_host must be a host name without scheme, got '%s'", t.PublicHost)
	}

	return nil
}

// Validate validates translation configuration
func (t *TranslationConfig) Validate() error {
	if t.RetryMaxIntervalMs < t.RetryInitialIntervalMs {
		return fmt.Errorf("retry_max_interval_ms (%d) must not be less than retry_initial_interval_ms (%d)",
			t.RetryMaxIntervalMs, t.RetryInitialIntervalMs)
	}

	if t.PongTimeout <= t.PingInterval {
		return fmt.Errorf("pong_timeout (%d) must be greater than ping_interval (%d)", t.PongTimeout, t.PingInterval)
	}

	return nil
}

// Validate validates bridge configuration
func (b *BridgeConfig) Validate() error {
	if b.MixingEnabled && b.OriginalGain+b.TranslatedGain == 0 {
		return fmt.Errorf("mixing needs a non-zero gain")
	}
	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.SourceLanguage == s.TargetLanguage {
		return fmt.Errorf("source_language and target_language must differ, both are '%s'", s.SourceLanguage)
	}

	if s.MaxCallDuration > 0 && s.MaxCallDuration <= s.DialTimeout {
		return fmt.Errorf("max_call_duration (%d) must be greater than dial_timeout (%d)", s.MaxCallDuration, s.DialTimeout)
	}

	return nil
}

// Redacted returns a copy with secrets masked, safe to expose over HTTP
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	c.Telephony.AuthToken = mask(c.Telephony.AuthToken)
	c.Translation.ClientSecret = mask(c.Translation.ClientSecret)
	c.Translation.DetectableLanguages = append([]string(nil), c.Translation.DetectableLanguages...)
	return c
}

// View returns the redacted configuration as a map keyed like the YAML file
func (c Config) View() (map[string]interface{}, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var view map[string]interface{}
	if err := yaml.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return view, nil
}

// ListenAddress returns the host:port the HTTP server listens on
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetShutdownTimeoutDuration returns the shutdown timeout as a time.Duration
func (h *HTTPConfig) GetShutdownTimeoutDuration() time.Duration {
	return time.Duration(h.ShutdownTimeout) * time.Second
}

// GetRingTimeoutDuration returns the ring timeout as a time.Duration
func (t *TelephonyConfig) GetRingTimeoutDuration() time.Duration {
	return time.Duration(t.RingTimeout) * time.Second
}

// GetStartTimeoutDuration returns the media start timeout as a time.Duration
func (t *TelephonyConfig) GetStartTimeoutDuration() time.Duration {
	return time.Duration(t.StartTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the media write timeout as a time.Duration
func (t *TelephonyConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(t.WriteTimeoutMs) * time.Millisecond
}

// GetTimeoutDuration returns the API timeout as a time.Duration
func (t *TranslationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetRetryInitialInterval returns the first retry delay as a time.Duration
func (t *TranslationConfig) GetRetryInitialInterval() time.Duration {
	return time.Duration(t.RetryInitialIntervalMs) * time.Millisecond
}

// GetRetryMaxInterval returns the largest retry delay as a time.Duration
func (t *TranslationConfig) GetRetryMaxInterval() time.Duration {
	return time.Duration(t.RetryMaxIntervalMs) * time.Millisecond
}

// GetPingIntervalDuration returns the keepalive interval as a time.Duration
func (t *TranslationConfig) GetPingIntervalDuration() time.Duration {
	return time.Duration(t.PingInterval) * time.Second
}

// GetPongTimeoutDuration returns the keepalive timeout as a time.Duration
func (t *TranslationConfig) GetPongTimeoutDuration() time.Duration {
	return time.Duration(t.PongTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the WebSocket write timeout as a time.Duration
func (t *TranslationConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(t.WriteTimeoutMs) * time.Millisecond
}

// GetSendTimeoutDuration returns the downlink send timeout as a time.Duration
func (b *BridgeConfig) GetSendTimeoutDuration() time.Duration {
	return time.Duration(b.SendTimeoutMs) * time.Millisecond
}

// GetDrainTimeoutDuration returns the drain timeout as a time.Duration
func (b *BridgeConfig) GetDrainTimeoutDuration() time.Duration {
	return time.Duration(b.DrainTimeoutMs) * time.Millisecond
}

// GetDialTimeoutDuration returns the dial timeout as a time.Duration
func (s *SessionConfig) GetDialTimeoutDuration() time.Duration {
	return time.Duration(s.DialTimeout) * time.Second
}

// GetMaxCallDuration returns the call length limit as a time.Duration
func (s *SessionConfig) GetMaxCallDuration() time.Duration {
	return time.Duration(s.MaxCallDuration) * time.Second
}

// GetReapIntervalDuration returns the reaper interval as a time.Duration
func (s *SessionConfig) GetReapIntervalDuration() time.Duration {
	return time.Duration(s.ReapInterval) * time.Second
}

// newValidator returns a validator that reports fields by their YAML names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func formatValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		field := strings.TrimPrefix(e.Namespace(), "Config.")
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s], got '%v'", field, e.Param(), e.Value()))
		case "min", "max", "gt":
			messages = append(messages, fmt.Sprintf("%s must be %s %s, got %v", field, boundWord(e.Tag()), e.Param(), e.Value()))
		case "url":
			messages = append(messages, fmt.Sprintf("%s must be a valid URL, got '%v'", field, e.Value()))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid", field))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}

func boundWord(tag string) string {
	switch tag {
	case "min":
		return "at least"
	case "max":
		return "at most"
	default:
		return "greater than"
	}
}
