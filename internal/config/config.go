// Package config resolves runtime settings from the environment and, for the
// CLI, from command-line flags bound into the same viper instance.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
)

// Generation providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Keys double as environment variable names once upper-cased.
const (
	KeyStoreBackend     = "store_backend"
	KeyStateTable       = "state_table"
	KeyBoltPath         = "bolt_path"
	KeySQLitePath       = "sqlite_path"
	KeyHistoryKey       = "history_key"
	KeyProvider         = "provider"
	KeyModel            = "model"
	KeyBaseURL          = "base_url"
	KeyAPIKey           = "api_key"
	KeyParamPrefix      = "param_prefix"
	KeyMaxContextItems  = "max_context_items"
	KeyMaxMessageLength = "max_message_length"
	KeyLogLevel         = "log_level"
)

type Config struct {
	StoreBackend string
	StateTable   string
	BoltPath     string
	SQLitePath   string
	HistoryKey   string

	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	ParamPrefix string

	MaxContextItems  int
	MaxMessageLength int

	LogLevel zerolog.Level
}

// New returns a viper instance with defaults applied and environment lookup
// enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyStoreBackend, BackendMemory)
	v.SetDefault(KeyBoltPath, "grimoire.bolt")
	v.SetDefault(KeySQLitePath, "grimoire.db")
	v.SetDefault(KeyProvider, ProviderGemini)
	v.SetDefault(KeyMaxContextItems, 0)
	v.SetDefault(KeyMaxMessageLength, 4000)
	v.SetDefault(KeyLogLevel, "info")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs whose name, with dashes turned into
// underscores, is a config key. Flags set on the command line win over the
// environment.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !isKey(key) || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("config: bind flag %q: %w", f.Name, bindErr)
		}
	})
	return err
}

func isKey(k string) bool {
	switch k {
	case KeyStoreBackend, KeyStateTable, KeyBoltPath, KeySQLitePath, KeyHistoryKey,
		KeyProvider, KeyModel, KeyBaseURL, KeyAPIKey, KeyParamPrefix,
		KeyMaxContextItems, KeyMaxMessageLength, KeyLogLevel:
		return true
	}
	return false
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("config: viper instance must not be nil")
	}
	cfg := Config{
		StoreBackend:     strings.ToLower(strings.TrimSpace(v.GetString(KeyStoreBackend))),
		StateTable:       strings.TrimSpace(v.GetString(KeyStateTable)),
		BoltPath:         strings.TrimSpace(v.GetString(KeyBoltPath)),
		SQLitePath:       strings.TrimSpace(v.GetString(KeySQLitePath)),
		HistoryKey:       strings.TrimSpace(v.GetString(KeyHistoryKey)),
		Provider:         strings.ToLower(strings.TrimSpace(v.GetString(KeyProvider))),
		Model:            strings.TrimSpace(v.GetString(KeyModel)),
		BaseURL:          strings.TrimSpace(v.GetString(KeyBaseURL)),
		APIKey:           strings.TrimSpace(v.GetString(KeyAPIKey)),
		ParamPrefix:      strings.TrimRight(strings.TrimSpace(v.GetString(KeyParamPrefix)), "/"),
		MaxContextItems:  v.GetInt(KeyMaxContextItems),
		MaxMessageLength: v.GetInt(KeyMaxMessageLength),
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))))
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid %s: %w", strings.ToUpper(KeyLogLevel), err)
	}
	cfg.LogLevel = level

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendDynamoDB:
		if c.StateTable == "" {
			return errors.New("config: STATE_TABLE is required for the dynamodb backend")
		}
	case BackendBolt:
		if c.BoltPath == "" {
			return errors.New("config: BOLT_PATH is required for the bolt backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: SQLITE_PATH is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("config: unknown PROVIDER %q", c.Provider)
	}
	if c.APIKey == "" && c.ParamPrefix == "" {
		return errors.New("config: one of API_KEY or PARAM_PREFIX must be set")
	}

	if c.MaxContextItems < 0 {
		return errors.New("config: MAX_CONTEXT_ITEMS must not be negative")
	}
	if c.MaxMessageLength < 0 {
		return errors.New("config: MAX_MESSAGE_LENGTH must not be negative")
	}
	return nil
}

// NeedsAWS reports whether the configuration talks to AWS services.
func (c Config) NeedsAWS() bool {
	return c.StoreBackend == BackendDynamoDB || (c.APIKey == "" && c.ParamPrefix != "")
}
