package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Display modes.
const (
	ModeWeb      = "web"
	ModeTerminal = "terminal"
)

// Config is the client's configuration. Every key has a default, so an absent file is
// a valid configuration.
type Config struct {
	Remote   RemoteConfig   `mapstructure:"remote" yaml:"remote"`
	Render   RenderConfig   `mapstructure:"render" yaml:"render"`
	Operator OperatorConfig `mapstructure:"operator" yaml:"operator"`
	Display  DisplayConfig  `mapstructure:"display" yaml:"display"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// RemoteConfig locates the trainer's push channel.
type RemoteConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type RenderConfig struct {
	CellSize int `mapstructure:"cellSize" yaml:"cellSize"`
}

// OperatorConfig is where the web control surface listens.
type OperatorConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type DisplayConfig struct {
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// LogConfig selects level and sink. An empty File logs to stderr.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups" yaml:"maxBackups"`
}

var (
	ErrCellSize    = errors.New("render.cellSize must be at least 2")
	ErrDisplayMode = errors.New("display.mode must be web or terminal")
	ErrRemoteURL   = errors.New("remote.url is required")
)

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("remote.url", "ws://localhost:5000/socket.io/?EIO=4&transport=websocket")
	vp.SetDefault("render.cellSize", 30)
	vp.SetDefault("operator.addr", ":8080")
	vp.SetDefault("display.mode", ModeWeb)
	vp.SetDefault("log.level", "info")
	vp.SetDefault("log.file", "")
	vp.SetDefault("log.maxSizeMB", 10)
	vp.SetDefault("log.maxBackups", 3)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, _ := decode(newViper())
	return cfg
}

func newViper() *viper.Viper {
	vp := viper.New()
	setDefaults(vp)
	vp.SetEnvPrefix("TETRISVIZ")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	return vp
}

// FromYaml reads the config at path over the defaults. A missing file yields the defaults.
func FromYaml(path string) (*Config, error) {
	vp := newViper()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")

	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(vp)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(vp *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := vp.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.Render.CellSize < 2 {
		return ErrCellSize
	}
	if cfg.Display.Mode != ModeWeb && cfg.Display.Mode != ModeTerminal {
		return fmt.Errorf("%w: %q", ErrDisplayMode, cfg.Display.Mode)
	}
	if cfg.Remote.URL == "" {
		return ErrRemoteURL
	}
	return nil
}

// WriteYaml writes cfg to path, creating parent directories.
func WriteYaml(cfg *Config, path string) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
