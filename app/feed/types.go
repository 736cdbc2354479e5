package feed

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/lysyi3m/family-comb/app/listing"
)

const (
	defaultMaxItems = 500
	defaultTimeout  = 30
)

// filterFields are the event attributes a feed filter may match against.
var filterFields = map[string]bool{
	"title":       true,
	"description": true,
	"venue":       true,
	"location":    true,
	"tags":        true,
	"url":         true,
}

// Config is one calendar feed definition. Name is derived from the file name.
type Config struct {
	Name         string
	URL          string         `yaml:"url"`
	Label        string         `yaml:"label"`
	DefaultCity  string         `yaml:"default_city"`
	DefaultState string         `yaml:"default_state"`
	Settings     ConfigSettings `yaml:"settings"`
	Filters      []ConfigFilter `yaml:"filters"`
}

type ConfigSettings struct {
	Enabled  bool `yaml:"enabled"`
	MaxItems int  `yaml:"max_items"`
	Timeout  int  `yaml:"timeout"` // seconds
	// ExtractContent fetches event pages to fill missing descriptions.
	ExtractContent bool `yaml:"extract_content"`
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

func (c *Config) applyDefaults() {
	if c.Settings.MaxItems == 0 {
		c.Settings.MaxItems = defaultMaxItems
	}
	if c.Settings.Timeout == 0 {
		c.Settings.Timeout = defaultTimeout
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Name == "" {
		return errors.New("feed name is required")
	}
	if c.URL == "" {
		return errors.New("feed URL is required")
	}
	if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("feed URL must be an absolute http(s) URL")
	}
	if c.DefaultState != "" && len(c.DefaultState) != 2 {
		return errors.New("default state must be a two-letter code")
	}
	if c.Settings.MaxItems < 0 {
		return errors.New("max items must be non-negative")
	}
	if c.Settings.Timeout < 0 {
		return errors.New("timeout must be non-negative")
	}

	for i, filter := range c.Filters {
		if !filterFields[filter.Field] {
			return fmt.Errorf("invalid filter field at index %d: %s", i, filter.Field)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
	}

	return nil
}

// ToFeed maps the file config onto the stored feed row.
func (c *Config) ToFeed() listing.Feed {
	label := c.Label
	if label == "" {
		label = c.Name
	}
	return listing.Feed{
		Name:           c.Name,
		URL:            c.URL,
		Label:          label,
		DefaultCity:    c.DefaultCity,
		DefaultState:   c.DefaultState,
		Active:         c.Settings.Enabled,
		ExtractContent: c.Settings.ExtractContent,
		MaxItems:       c.Settings.MaxItems,
		Timeout:        time.Duration(c.Settings.Timeout) * time.Second,
	}
}
