// Package appconfig loads the declared application config (app.json or
// app.yaml) that lists pages, sub-packages and the tab bar.
package appconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tinytelemetry/sepal/internal/model"
	"gopkg.in/yaml.v3"
)

// ErrNoPages is returned for a config that declares no page at all.
var ErrNoPages = errors.New("appconfig: no pages declared")

// Format selects the decoder used by Parse.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks a format from a file extension. Unknown extensions are JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads and validates the config at path.
func Load(path string) (model.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.AppConfig{}, fmt.Errorf("appconfig: read %s: %w", path, err)
	}
	cfg, err := Parse(data, FormatOf(path))
	if err != nil {
		return model.AppConfig{}, fmt.Errorf("appconfig: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data and normalizes page paths.
func Parse(data []byte, format Format) (model.AppConfig, error) {
	var cfg model.AppConfig
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &cfg)
	case FormatJSON:
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("appconfig: unknown format %q", format)
	}
	if err != nil {
		return cfg, fmt.Errorf("appconfig: decode %s: %w", format, err)
	}
	normalize(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *model.AppConfig) {
	for i, p := range cfg.Pages {
		cfg.Pages[i] = trim(p)
	}
	for i := range cfg.SubPackages {
		sp := &cfg.SubPackages[i]
		sp.Root = strings.TrimSuffix(trim(sp.Root), "/")
		for j, p := range sp.Pages {
			sp.Pages[j] = trim(p)
		}
	}
	if cfg.TabBar != nil {
		for i := range cfg.TabBar.List {
			cfg.TabBar.List[i].PagePath = trim(cfg.TabBar.List[i].PagePath)
		}
	}
	cfg.HomePath = trim(cfg.HomePath)
}

func trim(p string) string {
	return strings.TrimPrefix(strings.TrimSpace(p), "/")
}

// Validate checks that every tab and the home path name a declared page.
func Validate(cfg model.AppConfig) error {
	if len(cfg.Pages) == 0 {
		return ErrNoPages
	}
	declared := make(map[string]bool, len(cfg.Pages))
	for _, p := range cfg.Pages {
		declared[p] = true
	}
	for _, p := range cfg.SubPackagePages() {
		declared[p] = true
	}
	for _, tab := range cfg.Tabs() {
		if !declared[tab.PagePath] {
			return fmt.Errorf("appconfig: tab %q is not a declared page", tab.PagePath)
		}
	}
	if cfg.HomePath != "" && !declared[cfg.HomePath] {
		return fmt.Errorf("appconfig: home path %q is not a declared page", cfg.HomePath)
	}
	return nil
}
