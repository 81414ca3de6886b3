package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/family-hub/globals"
)

const (
	defaultAdminUser = "admin@family-hub.local"
	envPrefix        = "FAMILYHUB"
)

// Config is the global configuration object which is filled via the configuration file, the environment
// (FAMILYHUB_* variables) and the command line flags returned by GetFlagSet.
type Config struct {
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	StorageConfig     StorageConfig     `mapstructure:"storage"`
	ChatConfig        ChatConfig        `mapstructure:"chat"`
	ForumConfig       ForumConfig       `mapstructure:"forum"`
	SyncConfig        SyncConfig        `mapstructure:"sync"`
	StatsConfig       StatsConfig       `mapstructure:"stats"`
	LogLevel          string            `mapstructure:"log_level"`
	AdminUser         string            `mapstructure:"admin_user"`
	Addr              string            `mapstructure:"addr"`
}

// PersistenceConfig configures the gorm backed gateway. Type is either "sqlite" or "postgres". With postgres,
// Listen enables cross-process change notifications through LISTEN/NOTIFY on Channel.
type PersistenceConfig struct {
	Type    string `mapstructure:"type"`
	DSN     string `mapstructure:"dsn"`
	Listen  bool   `mapstructure:"listen"`
	Channel string `mapstructure:"channel"`
}

// An OIDCConfig object configures an OpenID Connect provider that can be used to sign in with an ID token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com"
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	TokenStorePath string        `mapstructure:"token_store_path"` // ":memory:" keeps tokens in memory only
	ResetTTL       time.Duration `mapstructure:"reset_ttl"`
	OIDCConfigs    []OIDCConfig  `mapstructure:"oidc"`
}

type StorageConfig struct {
	Root    string `mapstructure:"root"`
	BaseURL string `mapstructure:"base_url"`
}

// ChatConfig holds the client-side guards for sending chat messages. The rate limit is advisory only.
type ChatConfig struct {
	MaxMessageLength int           `mapstructure:"max_message_length"`
	RateLimit        int           `mapstructure:"rate_limit"`
	RateWindow       time.Duration `mapstructure:"rate_window"`
	MemberRetries    int           `mapstructure:"member_retries"`
}

type ForumConfig struct {
	MinCommentLength int `mapstructure:"min_comment_length"`
}

// SyncConfig configures the list controllers and the change subscription bridges.
type SyncConfig struct {
	ReloadInterval  time.Duration `mapstructure:"reload_interval"`
	ResubscribeMin  time.Duration `mapstructure:"resubscribe_min"`
	ResubscribeMax  time.Duration `mapstructure:"resubscribe_max"`
	EventBuffer     int           `mapstructure:"event_buffer"`
	AuthorCacheSize int           `mapstructure:"author_cache_size"`
}

type StatsConfig struct {
	CronSpec     string  `mapstructure:"cron_spec"`
	PremiumPrice float64 `mapstructure:"premium_price"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("admin-user", "a", "", "email of the admin user")
	flagSet.String("log-level", "", "log level (trace, debug, info, warn, error)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "-", "_", -1))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("admin_user", defaultAdminUser)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("addr", "localhost:8000")
	v.SetDefault("persistence.type", "sqlite")
	v.SetDefault("persistence.dsn", "family-hub.db")
	v.SetDefault("persistence.channel", "family_hub_changes")
	v.SetDefault("auth.token_ttl", time.Hour*24)
	v.SetDefault("auth.token_store_path", ":memory:")
	v.SetDefault("auth.reset_ttl", time.Hour)
	v.SetDefault("storage.root", "buckets")
	v.SetDefault("storage.base_url", "http://localhost:8000/storage")
	v.SetDefault("chat.max_message_length", 2000)
	v.SetDefault("chat.rate_limit", 20)
	v.SetDefault("chat.rate_window", time.Minute)
	v.SetDefault("chat.member_retries", 3)
	v.SetDefault("forum.min_comment_length", 10)
	v.SetDefault("sync.reload_interval", time.Second)
	v.SetDefault("sync.resubscribe_min", 500*time.Millisecond)
	v.SetDefault("sync.resubscribe_max", 30*time.Second)
	v.SetDefault("sync.event_buffer", 64)
	v.SetDefault("sync.author_cache_size", 512)
	v.SetDefault("stats.cron_spec", "@hourly")
	v.SetDefault("stats.premium_price", 4.99)
}

// Default returns the configuration consisting of the built-in defaults only.
func Default() *Config {
	cfg, _ := ReadConfiguration("", nil)
	return cfg
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		err := v.BindPFlags(flagSet)
		if err != nil {
			globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	globals.AppLogger.Debug("config", "all", v.AllSettings())
	return &cfg, nil
}
