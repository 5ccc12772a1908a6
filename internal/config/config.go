// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Xuanwo/go-locale"
	"github.com/go-playground/validator/v10"
	"github.com/kkyr/fig"
	"golang.org/x/text/language"
)

const (
	configEnv = "GEOTRACK"
	// validateTag is the struct tag read by the validator. fig itself interprets "validate".
	validateTag = "check"
)

// Config represents the application's configuration structure.
type Config struct {
	LogLevel slog.Level `fig:"loglevel" default:"0"`
	// Locale is the BCP 47 language used for addresses. It is detected from the environment if empty.
	Locale string `fig:"locale" check:"omitempty,bcp47_language_tag"`

	Source struct {
		File                   string `fig:"file"`
		GPSDHost               string `fig:"gpsd_host" default:"localhost" check:"hostname_rfc1123|ip"`
		GPSDPort               string `fig:"gpsd_port" default:"2947" check:"numeric"`
		DisableGeoclue         bool   `fig:"disable_geoclue"`
		DisableGPSD            bool   `fig:"disable_gpsd"`
		DisableGeoIP           bool   `fig:"disable_geoip"`
		DisableGeoAPI          bool   `fig:"disable_geoapi"`
		DisableGeolocationFile bool   `fig:"disable_geolocation_file"`
		DisableICHNAEA         bool   `fig:"disable_ichnaea"`
		// MaxAge is the time after which the best known fix is replaced by any newer one.
		MaxAge time.Duration `fig:"max_age" default:"1h" check:"min=1m"`
	} `fig:"source"`

	GeoCoder struct {
		Provider     string        `fig:"provider" default:"nominatim" check:"oneof=nominatim opencage geocode-earth"`
		APIKey       string        `fig:"apikey" check:"required_unless=Provider nominatim"`
		Endpoint     string        `fig:"endpoint" check:"omitempty,url"`
		CacheTTL     time.Duration `fig:"cache_ttl" default:"24h" check:"min=0"`
		CacheMissTTL time.Duration `fig:"cache_miss_ttl" default:"10m" check:"min=0"`
	} `fig:"geocoder"`

	Postal struct {
		Endpoint string `fig:"endpoint" check:"omitempty,url"`
	} `fig:"postal"`

	Enrichment struct {
		LookupTimeout time.Duration `fig:"lookup_timeout" default:"10s" check:"min=100ms"`
		MaxConcurrent int           `fig:"max_concurrent" default:"4" check:"min=1,max=64"`
	} `fig:"enrichment"`

	Binding struct {
		// Allowed values: teardown, keep-alive
		Policy string `fig:"policy" default:"teardown" check:"oneof=teardown keep-alive"`
	} `fig:"binding"`

	Intervals struct {
		Status time.Duration `fig:"status" default:"1m" check:"min=1s"`
	} `fig:"intervals"`

	Metrics struct {
		// Listen enables the Prometheus endpoint on the given address, e.g. "localhost:9464".
		Listen string `fig:"listen" check:"omitempty,hostname_port"`
	} `fig:"metrics"`
}

// NewFromFile loads the configuration from the given file in path, overlaid with the environment.
func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

// New loads the configuration from the environment only.
func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

// Validate checks the configuration values and fills in the defaults that depend on the system.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.SetTagName(validateTag)
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Locale == "" {
		c.Locale = detectLocale().String()
	}
	if c.Source.File == "" {
		home, _ := os.UserHomeDir()
		c.Source.File = filepath.Join(home, ".config", "geotrack", "geolocation")
	}

	return nil
}

// Language returns the configured locale as language tag.
func (c *Config) Language() language.Tag {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return detectLocale()
	}
	return tag
}

func detectLocale() language.Tag {
	tag, err := locale.Detect()
	if err != nil {
		return language.English
	}
	return tag
}
