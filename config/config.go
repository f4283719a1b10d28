// config loads the application configuration from a yaml file of the form
//
//	kind: unseen
//	def:
//	  addr: ":8080"
//	  ...
//
// overlaid by UNSEEN_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Kind is the only config kind this application understands.
const Kind = "unseen"

// OuterConfig is the envelope every config file shares.
type OuterConfig struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// Config is the application configuration.
type Config struct {
	// Addr is the server's listen address.
	Addr string `yaml:"addr"`
	// LogLevel is a logrus level name.
	LogLevel string         `yaml:"loglevel"`
	Store    StoreConfig    `yaml:"store"`
	Source   SourceConfig   `yaml:"source"`
	Deferred DeferredConfig `yaml:"deferred"`
}

// StoreConfig locates the local record store and its seed data.
type StoreConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	// Seed is a json file of records loaded into an empty collection.
	Seed string `yaml:"seed"`
}

// SourceConfig selects where the views' records come from. With an empty URL
// the local store is polled.
type SourceConfig struct {
	URL     string `yaml:"url"`
	Refresh string `yaml:"refresh"`
}

// DeferredConfig parameterizes the chunked insertion of large collections.
type DeferredConfig struct {
	// Threshold is the number of items above which insertion is deferred; 0 disables it.
	Threshold int    `yaml:"threshold"`
	PerTick   int    `yaml:"pertick"`
	Interval  string `yaml:"interval"`
}

// RefreshInterval returns the parsed source refresh interval.
func (s SourceConfig) RefreshInterval() (time.Duration, error) {
	return time.ParseDuration(s.Refresh)
}

// TickInterval returns the parsed deferred insertion interval.
func (d DeferredConfig) TickInterval() (time.Duration, error) {
	return time.ParseDuration(d.Interval)
}

// ErrWrongKind is returned for config files of another kind.
var ErrWrongKind = errors.New("config: unexpected config kind")

// defaults are applied under the file, env and flags.
var defaults = map[string]interface{}{
	"kind":                   Kind,
	"def.addr":               ":8080",
	"def.logLevel":           "info",
	"def.store.path":         "unseen.db",
	"def.store.collection":   "todos",
	"def.store.seed":         "",
	"def.source.url":         "",
	"def.source.refresh":     "2s",
	"def.deferred.threshold": 200,
	"def.deferred.perTick":   50,
	"def.deferred.interval":  "20ms",
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"addr":      "def.addr",
	"log-level": "def.logLevel",
	"db":        "def.store.path",
	"seed":      "def.store.seed",
	"source":    "def.source.url",
}

// Flags registers the flags Load understands on fs.
func Flags(fs *pflag.FlagSet) {
	fs.String("addr", defaults["def.addr"].(string), "the server listen address")
	fs.String("log-level", defaults["def.logLevel"].(string), "log level: debug, info, warn, error")
	fs.String("db", defaults["def.store.path"].(string), "path of the record store")
	fs.String("seed", "", "json file of records seeding an empty store")
	fs.String("source", "", "base url of a remote record endpoint to display instead of the store")
}

// Load reads the config file at path, if any, overlays environment variables
// and the flags of fs, if any, and validates the result.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	vp := viper.New()
	for k, v := range defaults {
		vp.SetDefault(k, v)
	}
	vp.SetEnvPrefix("UNSEEN")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := vp.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if path != "" {
		vp.SetConfigFile(path)
		vp.SetConfigType("yaml")
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	outerConfig := &OuterConfig{}
	if err := vp.Unmarshal(outerConfig); err != nil {
		return nil, err
	}
	if outerConfig.Kind != Kind {
		return nil, fmt.Errorf("%w: %q", ErrWrongKind, outerConfig.Kind)
	}

	// Round-trip the definition through yaml so the yaml tags govern decoding.
	// Viper lowercases every key, hence the lowercase tags.
	spec, err := yaml.Marshal(outerConfig.Def)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(spec, cfg); err != nil {
		return nil, err
	}

	if err = cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if _, err := cfg.Source.RefreshInterval(); err != nil {
		return fmt.Errorf("config: source.refresh: %w", err)
	}
	if _, err := cfg.Deferred.TickInterval(); err != nil {
		return fmt.Errorf("config: deferred.interval: %w", err)
	}
	if cfg.Deferred.Threshold > 0 && cfg.Deferred.PerTick <= 0 {
		return errors.New("config: deferred.perTick must be positive")
	}
	if cfg.Store.Collection == "" {
		return errors.New("config: store.collection must be set")
	}
	return nil
}
