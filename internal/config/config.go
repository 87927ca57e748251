// Package config provides unified configuration for the tablevc tool.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration for a tablevc repository and its tools.
type Config struct {
	// RepoDir is the repository root; object storage, refs and the
	// annotation store live beneath it.
	RepoDir string `json:"repo_dir" yaml:"repo_dir"`

	// Author is the default commit identity.
	Author AuthorConfig `json:"author" yaml:"author"`

	// Diff holds diff command defaults.
	Diff DiffConfig `json:"diff" yaml:"diff"`

	// WorkingCopy configuration
	WorkingCopy WorkingCopyConfig `json:"working_copy" yaml:"working_copy"`

	// Remote configuration for promised-object fetch
	Remote RemoteConfig `json:"remote" yaml:"remote"`
}

// AuthorConfig holds the commit identity.
type AuthorConfig struct {
	// Name is the author name recorded in commits
	Name string `json:"name" yaml:"name"`

	// Email is the author email recorded in commits
	Email string `json:"email" yaml:"email"`
}

// DiffConfig holds diff command defaults.
type DiffConfig struct {
	// Format is the default output format: text, json, json-lines,
	// geojson, html, quiet
	Format string `json:"format" yaml:"format"`

	// EstimateAccuracy is the default estimate tier: veryfast, fast,
	// medium, good, exact
	EstimateAccuracy string `json:"estimate_accuracy" yaml:"estimate_accuracy"`

	// Advanced enables the unambiguous --/++ JSON rendering
	Advanced bool `json:"advanced" yaml:"advanced"`
}

// WorkingCopyConfig holds working-copy configuration.
type WorkingCopyConfig struct {
	// Path is the SQLite working-copy database path
	Path string `json:"path" yaml:"path"`
}

// RemoteConfig holds remote object-store configuration.
type RemoteConfig struct {
	// Type is the remote type: none, s3
	Type string `json:"type" yaml:"type"`

	// Concurrency is the number of parallel fetch slices
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 remote configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is the object key prefix within the bucket
	Prefix string `json:"prefix" yaml:"prefix"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RepoDir: ".",
		Diff: DiffConfig{
			Format:           "text",
			EstimateAccuracy: "fast",
		},
		Remote: RemoteConfig{
			Type:        "none",
			Concurrency: 4,
		},
	}
}

// Resolve resolves relative paths and fills path defaults under RepoDir.
func (c *Config) Resolve() {
	if c.RepoDir == "" {
		c.RepoDir = "."
	}
	if c.WorkingCopy.Path == "" {
		c.WorkingCopy.Path = filepath.Join(c.RepoDir, "workingcopy.db")
	}
}

// ObjectsDir returns the loose-object storage directory.
func (c *Config) ObjectsDir() string {
	return filepath.Join(c.RepoDir, "objects")
}

// AnnotationsPath returns the path of the annotation (estimate memo)
// database.
func (c *Config) AnnotationsPath() string {
	return filepath.Join(c.RepoDir, "annotations.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RepoDir == "" {
		return fmt.Errorf("repo_dir is required")
	}

	switch c.Diff.Format {
	case "text", "json", "json-lines", "geojson", "html", "quiet":
	default:
		return fmt.Errorf("invalid diff format: %s", c.Diff.Format)
	}

	switch c.Diff.EstimateAccuracy {
	case "", "veryfast", "fast", "medium", "good", "exact":
	default:
		return fmt.Errorf("invalid estimate accuracy: %s", c.Diff.EstimateAccuracy)
	}

	if c.Remote.Type != "none" && c.Remote.Type != "s3" {
		return fmt.Errorf("invalid remote type: %s (must be none or s3)", c.Remote.Type)
	}

	if c.Remote.Type == "s3" && c.Remote.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when remote type is s3")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadEnvFile loads a .env file into the process environment if one
// exists, so LoadFromEnv picks its values up. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// LoadFromEnv applies environment-variable overrides. Variables use the
// TABLEVC_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TABLEVC_REPO_DIR"); v != "" {
		cfg.RepoDir = v
	}

	// Author configuration
	if v := os.Getenv("TABLEVC_AUTHOR_NAME"); v != "" {
		cfg.Author.Name = v
	}
	if v := os.Getenv("TABLEVC_AUTHOR_EMAIL"); v != "" {
		cfg.Author.Email = v
	}

	// Diff configuration
	if v := os.Getenv("TABLEVC_DIFF_FORMAT"); v != "" {
		cfg.Diff.Format = v
	}
	if v := os.Getenv("TABLEVC_DIFF_ESTIMATE_ACCURACY"); v != "" {
		cfg.Diff.EstimateAccuracy = v
	}
	if v := os.Getenv("TABLEVC_DIFF_ADVANCED"); v != "" {
		cfg.Diff.Advanced = v == "true" || v == "1"
	}

	// Working-copy configuration
	if v := os.Getenv("TABLEVC_WORKING_COPY_PATH"); v != "" {
		cfg.WorkingCopy.Path = v
	}

	// Remote configuration
	if v := os.Getenv("TABLEVC_REMOTE_TYPE"); v != "" {
		cfg.Remote.Type = v
	}
	if v := os.Getenv("TABLEVC_REMOTE_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Remote.Concurrency)
	}
	if v := os.Getenv("TABLEVC_S3_BUCKET"); v != "" {
		cfg.Remote.S3.Bucket = v
	}
	if v := os.Getenv("TABLEVC_S3_REGION"); v != "" {
		cfg.Remote.S3.Region = v
	}
	if v := os.Getenv("TABLEVC_S3_ENDPOINT"); v != "" {
		cfg.Remote.S3.Endpoint = v
	}
	if v := os.Getenv("TABLEVC_S3_PREFIX"); v != "" {
		cfg.Remote.S3.Prefix = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.RepoDir,
		c.ObjectsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
