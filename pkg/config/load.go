package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"lightapi/router/pkg/routererr"
)

const (
	// EnvConfigPath overrides transformer path resolution entirely.
	EnvConfigPath = "API_ROUTER_CONFIG_PATH"

	// transformerDir is the conventional directory transformer files live in.
	transformerDir = "transformer"

	// fallbackConfigName is loaded when the primary file cannot be read.
	fallbackConfigName = "qwen"
)

// Paths is the resolved primary transformer path plus the fallback tried
// when the primary cannot be read. Parse failures never fall back.
type Paths struct {
	Primary  string
	Fallback string
}

// ResolvePaths determines the transformer file paths for a config name.
//
// Priority: the API_ROUTER_CONFIG_PATH environment variable, then
// transformer/<name>.json, then transformer/qwen.json.
func ResolvePaths(configName string) Paths {
	fallback := filepath.Join(".", transformerDir, fallbackConfigName+".json")

	if explicit := os.Getenv(EnvConfigPath); explicit != "" {
		return Paths{Primary: explicit, Fallback: fallback}
	}

	if configName == "" {
		configName = fallbackConfigName
	}
	return Paths{
		Primary:  filepath.Join(".", transformerDir, configName+".json"),
		Fallback: fallback,
	}
}

// readConfigFile reads and parses one transformer file, returning the parsed
// config and the file's modification time.
func readConfigFile(path string) (*ApiConfig, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, routererr.Wrap(routererr.KindConfigRead, "cannot read config file "+path, err)
	}

	var modTime time.Time
	if info, statErr := os.Stat(path); statErr == nil {
		modTime = info.ModTime()
	}

	var cfg ApiConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, time.Time{}, routererr.Wrap(routererr.KindConfigParse, path, err)
	}
	cfg.applyDefaults()
	return &cfg, modTime, nil
}
