package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Defaults applied where the environment and config file are silent.
const (
	DefaultModelBasePath = "/runpod-volume/"
	DefaultEngineURL     = "http://localhost:8000"
	DefaultNumGPUShard   = 1
	DefaultAddr          = ":8080"
)

// Config holds runtime parameters for the worker.
// Zero values mean "unspecified" and are replaced by defaults in Default/ApplyEnv.
type Config struct {
	// Identifier of the model the engine serves, e.g. "meta-llama/Llama-2-7b-chat-hf".
	ModelName string `json:"model_name" yaml:"model_name" toml:"model_name"`
	// Base path of the model volume mounted into the worker.
	ModelBasePath string `json:"model_base_path" yaml:"model_base_path" toml:"model_base_path"`
	// When true the streaming handler is registered instead of the
	// single-shot one.
	Streaming bool `json:"streaming" yaml:"streaming" toml:"streaming"`
	// Optional tokenizer override forwarded to the engine.
	Tokenizer string `json:"tokenizer" yaml:"tokenizer" toml:"tokenizer"`
	// Tensor-parallel shard count.
	NumGPUShard int `json:"num_gpu_shard" yaml:"num_gpu_shard" toml:"num_gpu_shard"`
	// Base URL of the running engine's API server.
	EngineURL string `json:"engine_url" yaml:"engine_url" toml:"engine_url"`
	// Worker HTTP listen address.
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
}

// Default returns a Config with every defaulted field populated.
func Default() Config {
	return Config{
		ModelBasePath: DefaultModelBasePath,
		NumGPUShard:   DefaultNumGPUShard,
		EngineURL:     DefaultEngineURL,
		Addr:          DefaultAddr,
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Merge overlays non-zero fields of other onto c.
func (c *Config) Merge(other Config) {
	if other.ModelName != "" {
		c.ModelName = other.ModelName
	}
	if other.ModelBasePath != "" {
		c.ModelBasePath = other.ModelBasePath
	}
	if other.Streaming {
		c.Streaming = true
	}
	if other.Tokenizer != "" {
		c.Tokenizer = other.Tokenizer
	}
	if other.NumGPUShard > 0 {
		c.NumGPUShard = other.NumGPUShard
	}
	if other.EngineURL != "" {
		c.EngineURL = other.EngineURL
	}
	if other.Addr != "" {
		c.Addr = other.Addr
	}
}

// ApplyEnv overlays environment variables onto c. A missing MODEL_NAME is
// logged but not fatal: the worker starts and fails on the first job instead.
// A malformed NUM_GPU_SHARD falls back to 1 with a warning.
func (c *Config) ApplyEnv(log zerolog.Logger) {
	if v := os.Getenv("MODEL_NAME"); v != "" {
		c.ModelName = v
	}
	if c.ModelName == "" {
		log.Error().Msg("the model has not been provided; set MODEL_NAME")
	}
	if v := os.Getenv("MODEL_BASE_PATH"); v != "" {
		c.ModelBasePath = v
	}
	if v, ok := os.LookupEnv("STREAMING"); ok {
		c.Streaming = v == "True"
	}
	if v := os.Getenv("TOKENIZER"); v != "" {
		c.Tokenizer = v
	}
	if v := os.Getenv("NUM_GPU_SHARD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("value", v).Int("fallback", DefaultNumGPUShard).
				Msg("NUM_GPU_SHARD should be an integer; using default value")
			c.NumGPUShard = DefaultNumGPUShard
		} else {
			c.NumGPUShard = n
		}
	}
	if v := os.Getenv("ENGINE_URL"); v != "" {
		c.EngineURL = v
	}
	if v := os.Getenv("WORKER_ADDR"); v != "" {
		c.Addr = v
	}
	if expanded, err := expandHome(c.ModelBasePath); err == nil {
		// filepath.Join strips a trailing slash; ModelPath concatenates, so
		// keep the separator.
		if strings.HasSuffix(c.ModelBasePath, "/") && !strings.HasSuffix(expanded, "/") {
			expanded += "/"
		}
		c.ModelBasePath = expanded
	}
}

// expandHome expands a leading '~' to the user's home directory, for local
// runs where the model volume lives under the user's home.
func expandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// ModelPath derives the on-volume model directory: the base path joined with
// the segment of the model name after its first '/'. A name without a slash
// is used whole.
func (c Config) ModelPath() string {
	name := c.ModelName
	if i := strings.Index(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return c.ModelBasePath + name
}
