package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/agubarev/bolt/pkg/registry"
	"github.com/agubarev/bolt/pkg/transport"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. BOLTCTL_TIMEOUT
const EnvPrefix = "BOLTCTL"

// configuration keys
const (
	KeyBus      = "bus"
	KeyService  = "service"
	KeyTimeout  = "timeout"
	KeyDebug    = "debug"
	KeyColor    = "color"
	KeyLogDir   = "logs.dir"
	KeyStoreDir = "store.dir"
	KeyCacheTTL = "cache.ttl"
)

// DefaultTimeout bounds a single authorization request
const DefaultTimeout = 20 * time.Second

// errors
var (
	ErrUnknownBus      = errors.New("unknown bus kind")
	ErrEmptyService    = errors.New("service name is empty")
	ErrInvalidDuration = errors.New("duration must be positive")
)

type Config struct {
	Bus      string        `mapstructure:"bus"`
	Service  string        `mapstructure:"service"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Debug    bool          `mapstructure:"debug"`
	Color    bool          `mapstructure:"color"`
	CacheTTL time.Duration `mapstructure:"-"`
	LogDir   string        `mapstructure:"-"`
	StoreDir string        `mapstructure:"-"`
}

// BusKind returns the configured bus as a transport selector
func (c *Config) BusKind() transport.BusKind {
	return transport.BusKind(c.Bus)
}

// New returns a viper instance with defaults and environment
// overrides applied; flags and files are layered on top by the caller
func New() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyBus, string(transport.SystemBus))
	v.SetDefault(KeyService, transport.ServiceName)
	v.SetDefault(KeyTimeout, DefaultTimeout)
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyColor, true)
	v.SetDefault(KeyLogDir, "")
	v.SetDefault(KeyStoreDir, "")
	v.SetDefault(KeyCacheTTL, registry.DefaultResolveTTL)

	return v
}

// Load reads an optional YAML file and decodes the result; with an
// empty filename the usual locations are searched and a missing file
// is not an error
func Load(v *viper.Viper, filename string) (*Config, error) {
	if v == nil {
		v = New()
	}

	if filename != "" {
		expanded, err := homedir.Expand(filename)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to expand config path %s", filename)
		}

		v.SetConfigFile(expanded)
	} else {
		v.SetConfigName("boltctl")
		v.SetConfigType("yaml")

		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "boltctl"))
		}

		v.AddConfigPath("/etc/boltctl")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || filename != "" {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	return Decode(v)
}

// Decode builds a validated Config from whatever v currently holds
func Decode(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	// nested keys are read directly so env overrides apply to them too
	c.CacheTTL = v.GetDuration(KeyCacheTTL)
	c.LogDir = strings.TrimSpace(v.GetString(KeyLogDir))
	c.StoreDir = strings.TrimSpace(v.GetString(KeyStoreDir))

	var err error
	if c.LogDir, err = homedir.Expand(c.LogDir); err != nil {
		return nil, errors.Wrap(err, "failed to expand log directory")
	}

	if c.StoreDir, err = homedir.Expand(c.StoreDir); err != nil {
		return nil, errors.Wrap(err, "failed to expand store directory")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate checks the decoded values
func (c *Config) Validate() error {
	c.Bus = strings.ToLower(strings.TrimSpace(c.Bus))

	switch transport.BusKind(c.Bus) {
	case transport.SystemBus, transport.SessionBus:
	default:
		return errors.Wrapf(ErrUnknownBus, "%q", c.Bus)
	}

	if strings.TrimSpace(c.Service) == "" {
		return ErrEmptyService
	}

	if c.Timeout <= 0 {
		return errors.Wrapf(ErrInvalidDuration, "%s: %s", KeyTimeout, c.Timeout)
	}

	if c.CacheTTL <= 0 {
		return errors.Wrapf(ErrInvalidDuration, "%s: %s", KeyCacheTTL, c.CacheTTL)
	}

	return nil
}
