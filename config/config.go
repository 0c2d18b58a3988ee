package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// TomlSource represents a single feed source from TOML
type TomlSource struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// TomlConfig represents the top-level sources configuration
type TomlConfig struct {
	Sources []TomlSource `toml:"sources"`
}

func LoadSources(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func WriteSources(path string, config *TomlConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("error encoding config file: %w", err)
	}
	return nil
}

// Source is one upstream feed endpoint. Name is only used for logging.
type Source struct {
	Name string
	URL  string
}

// Config is the assembled runtime configuration for the service.
type Config struct {
	Sources []Source

	// Credentials sent with every feed request
	APIKey    string
	APISecret string
	XSRFToken string

	UploadURL string
	StorePath string

	Host string
	Port int

	Interval       time.Duration
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
}

// Validate checks the parts of the configuration without which the service
// cannot run at all. Called once at startup; a failure here is fatal.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("missing API key")
	}
	if c.APISecret == "" {
		return errors.New("missing API secret")
	}
	if c.XSRFToken == "" {
		return errors.New("missing XSRF token")
	}
	if c.UploadURL == "" {
		return errors.New("missing upload endpoint URL")
	}
	if len(c.Sources) == 0 {
		return errors.New("no feed sources configured")
	}
	for _, source := range c.Sources {
		if source.URL == "" {
			return fmt.Errorf("source %q has no URL", source.Name)
		}
	}
	if c.StorePath == "" {
		return errors.New("missing store file path")
	}
	return nil
}
