package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if KYOKU_CONFIG is set
//  3. env (prefix KYOKU_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("KYOKU_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Environment variables: KYOKU_PROJECT_ID, KYOKU_REDIS_ADDR, ...
	// mapped onto the flat koanf keys, underscores preserved.
	envProvider := env.Provider("KYOKU_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "kyoku_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.ProjectID == "" {
		return nil, errors.New("project_id must not be empty")
	}
	return &cfg, nil
}
